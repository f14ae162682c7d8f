package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kidbank/internal/cache"
	"kidbank/internal/cli"
	"kidbank/internal/log"
	"kidbank/internal/notify"
	"kidbank/internal/services"
	"kidbank/internal/worker"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = 5 * time.Minute
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(log.ComponentApp, slog.LevelInfo)
	cfg := cli.LoadAndValidateConfig(logger)
	if level, _ := cfg.SlogLevel(); level != slog.LevelInfo {
		logger = cli.SetupLogger(log.ComponentApp, level)
	}

	logger.InfoContext(context.Background(), "Starting kidbank-worker",
		log.FieldBackend, cfg.LedgerBackend,
		log.FieldFamilyID, cfg.FamilyID,
		log.FieldSchedule, cfg.ReconcileSchedule)

	be := cli.InitBackend(context.Background(), logger, cfg)

	session := services.NewSession(services.SessionConfig{
		Store:             be.Store,
		Emitter:           be.Emitter,
		Subscriber:        be.Subscriber,
		DebounceWindow:    cfg.DebounceWindow,
		MaxCatchUpPeriods: cfg.MaxCatchUpPeriods,
	})

	caches := cache.NewManager()
	caches.Register(session.Milestones().Cache())
	caches.StartCleanup(cacheCleanupInterval)

	// Queued notifications end up in the log until a push provider is wired.
	w := worker.New(session, notify.LogEmitter{}, cfg.ReconcileSchedule, logger)

	var once sync.Once
	shutdown := func(ctx context.Context) {
		once.Do(func() {
			if err := w.Stop(ctx); err != nil {
				logger.WarnContext(ctx, "Worker did not stop cleanly", "error", err)
			}
			session.Close()
			caches.Stop()
			if err := be.Close(); err != nil {
				logger.WarnContext(ctx, "Backend cleanup failed", "error", err)
			}
		})
	}

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, shutdown)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if cfg.FamilyID == "" {
			logger.WarnContext(gctx, "FAMILY_ID not set, worker will stay idle")
		} else if err := session.SetFamily(gctx, cfg.FamilyID); err != nil {
			logger.WarnContext(gctx, "Initial load failed", log.FieldFamilyID, cfg.FamilyID, "error", err)
		}

		if err := w.StartupCheck(gctx); err != nil {
			logger.WarnContext(gctx, "Startup reconciliation failed", "error", err)
		}
		if err := w.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})

	if be.Broker != nil {
		g.Go(func() error {
			err := be.Broker.ConsumeNotifications(gctx, w.HandleNotification)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.InfoContext(ctx, "Skipping notification consumption - no broker configured")
	}

	if err := g.Wait(); err != nil {
		logger.ErrorContext(context.Background(), "Worker failed", "error", err)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		shutdown(shutdownCtx)
		cancel()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
}
