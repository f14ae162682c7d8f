// Package worker keeps a family's ledger reconciled while no device is
// looking at it, and hands queued notifications to their delivery sink.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kidbank/internal/core"
	"kidbank/internal/log"
	"kidbank/internal/notify"
	"kidbank/internal/services"
)

// Worker runs scheduled reconciliation for one session.
type Worker struct {
	session  *services.Session
	sink     notify.Emitter
	schedule string
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
}

func New(session *services.Session, sink notify.Emitter, schedule string, logger *log.Logger) *Worker {
	if sink == nil {
		sink = notify.LogEmitter{}
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Worker{
		session:  session,
		sink:     sink,
		schedule: schedule,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Reconcile reloads the session, which accrues any elapsed allowance
// periods and publishes a fresh snapshot.
func (w *Worker) Reconcile(ctx context.Context) error {
	familyID := w.session.FamilyID()
	if familyID == "" {
		w.logger.DebugContext(ctx, "No family selected, skipping reconciliation")
		return nil
	}

	start := time.Now()
	if err := w.session.Refresh(ctx); err != nil {
		w.logger.LogError(ctx, "Scheduled reconciliation failed", err, log.OpReconcile,
			log.NewFields().WithFamily(familyID))
		return fmt.Errorf("reconcile family %s: %w", familyID, err)
	}

	snap := w.session.Snapshot()
	w.logger.InfoContext(ctx, "Reconciliation completed",
		log.FieldFamilyID, familyID,
		"accounts", snap.Len(),
		"total_balance_cents", snap.TotalBalance().Cents,
		log.FieldDuration, time.Since(start).Milliseconds())

	for _, a := range snap.Accounts() {
		sum := core.Summarize(a)
		w.logger.DebugContext(ctx, "Account summary",
			log.FieldAccountID, a.ID,
			log.FieldBalance, a.Balance.Cents,
			"in_cents", sum.In.Cents,
			"out_cents", sum.Out.Cents,
			"categories", len(sum.ByCategory))
	}
	return nil
}

// StartupCheck reconciles once before the schedule starts, so allowances
// missed while the worker was down are credited immediately.
func (w *Worker) StartupCheck(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Running startup reconciliation", log.FieldFamilyID, w.session.FamilyID())
	return w.Reconcile(ctx)
}

// HandleNotification delivers one queued notification to the sink.
// Malformed notifications are dropped; sink failures are returned so the
// broker can requeue the message.
func (w *Worker) HandleNotification(ctx context.Context, n notify.Notification) error {
	if n.Type == "" || n.AccountID == "" {
		w.logger.WarnContext(ctx, "Dropping malformed notification",
			log.FieldNotifyType, n.Type,
			log.FieldAccountID, n.AccountID)
		return nil
	}

	if err := w.sink.Emit(ctx, n); err != nil {
		return fmt.Errorf("deliver %s notification: %w", n.Type, err)
	}

	w.logger.DebugContext(ctx, "Notification delivered",
		log.FieldNotifyType, n.Type,
		log.FieldAccountID, n.AccountID)
	return nil
}

// Start schedules Reconcile. Returns an error if already running or if the
// schedule does not parse.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("worker is already running")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.schedule, func() {
		_ = w.Reconcile(ctx)
	}); err != nil {
		return fmt.Errorf("schedule reconciliation %q: %w", w.schedule, err)
	}
	c.Start()

	w.cron = c
	w.running = true

	w.logger.InfoContext(ctx, "Reconciliation scheduled", log.FieldSchedule, w.schedule)
	return nil
}

// Stop halts the schedule and waits for a running reconciliation to finish.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	c := w.cron
	w.cron = nil
	w.running = false
	w.mu.Unlock()

	select {
	case <-c.Stop().Done():
		w.logger.InfoContext(ctx, "Worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Worker stop timed out")
		return ctx.Err()
	}
}
