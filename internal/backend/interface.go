package backend

import (
	"context"

	"kidbank/internal/amqp"
	"kidbank/internal/ledger"
	"kidbank/internal/notify"
	"kidbank/internal/realtime"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult bundles the Ledger Store with the change stream and
// notification emitter wired to it.
type BackendResult struct {
	Store      ledger.Store
	Subscriber realtime.Subscriber
	Emitter    notify.Emitter

	// Broker is set when AMQP is configured and reachable.
	Broker *amqp.Client

	Cleanup CleanupFunc
}

// Close runs the cleanup function, if any.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// AMQP is optional for both backends; without it the change stream is
	// in-process and notifications go to the log.
	AMQPURL             string
	AMQPChangesExchange string
	AMQPNotifyQueue     string

	// Buffer of the in-process change hub per subscriber.
	HubBuffer int
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
