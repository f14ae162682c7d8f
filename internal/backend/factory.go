package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kidbank/internal/amqp"
	"kidbank/internal/ledger/memory"
	"kidbank/internal/notify"
	"kidbank/internal/realtime"
	"kidbank/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger

	// dial is swapped in tests.
	dial func(url, exchange, queue string) (*amqp.Client, error)
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
		dial:   amqp.NewClient,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	result := f.createStream(ctx, config)

	switch config.Type {
	case SQLiteBackend:
		if err := f.createSQLiteStore(ctx, config, result); err != nil {
			_ = result.Close()
			return nil, err
		}
	case MemoryBackend:
		result.Store = memory.New(f.publisher(result))
		f.logger.InfoContext(ctx, "Initialized memory backend")
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	return result, nil
}

// createStream connects to the broker when one is configured. Without a
// broker, or when it is unreachable, changes flow through an in-process hub
// and notifications go to the log.
func (f *DefaultFactory) createStream(ctx context.Context, config Config) *BackendResult {
	result := &BackendResult{}

	if config.AMQPURL != "" {
		client, err := f.dial(config.AMQPURL, config.AMQPChangesExchange, config.AMQPNotifyQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, using in-process change stream",
				"error", err)
		} else {
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPChangesExchange,
				"queue", config.AMQPNotifyQueue)
			result.Broker = client
			result.Subscriber = client
			result.Emitter = client
			result.Cleanup = client.Close
			return result
		}
	}

	buffer := config.HubBuffer
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	result.Subscriber = realtime.NewHub(buffer)
	result.Emitter = notify.LogEmitter{}
	return result
}

func (f *DefaultFactory) createSQLiteStore(ctx context.Context, config Config, result *BackendResult) error {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	repo.WithPublisher(f.publisher(result))

	brokerCleanup := result.Cleanup
	result.Store = repo
	result.Cleanup = func() error {
		var errs []error
		if brokerCleanup != nil {
			errs = append(errs, brokerCleanup())
		}
		errs = append(errs, repo.Close())
		return errors.Join(errs...)
	}

	f.logger.InfoContext(ctx, "Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", result.Broker != nil)
	return nil
}

// publisher returns the side of the stream that stores publish into.
func (f *DefaultFactory) publisher(result *BackendResult) realtime.Publisher {
	if result.Broker != nil {
		return result.Broker
	}
	if hub, ok := result.Subscriber.(*realtime.Hub); ok {
		return hub
	}
	return nil
}
