package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kidbank/internal/core"
	"kidbank/internal/ledger"
	"kidbank/internal/notify"
	"kidbank/internal/realtime"
)

const DefaultDebounceWindow = 500 * time.Millisecond

type SessionConfig struct {
	Store             ledger.Store
	Emitter           notify.Emitter
	Subscriber        realtime.Subscriber // optional; nil disables the change stream
	DebounceWindow    time.Duration
	MaxCatchUpPeriods int
	Now               func() time.Time
}

// Session coordinates one family's ledger state: the reconciler, the
// mutation services and the debounced change stream. Every Session is
// independent; nothing is shared between instances.
type Session struct {
	reconciler *Reconciler
	ledger     *LedgerService
	transfers  *TransferExecutor
	milestones *MilestoneDetector
	post       *PostCommit
	subscriber realtime.Subscriber
	window     time.Duration

	mu         sync.Mutex
	stopStream context.CancelFunc
	debouncer  *realtime.Debouncer
	streamDone chan struct{}
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Emitter == nil {
		cfg.Emitter = notify.LogEmitter{}
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	if cfg.MaxCatchUpPeriods == 0 {
		cfg.MaxCatchUpPeriods = DefaultMaxCatchUpPeriods
	}

	post := &PostCommit{}
	milestones := NewMilestoneDetector(cfg.Store, cfg.Emitter)
	reconciler := NewReconciler(cfg.Store, cfg.Emitter).
		WithMaxCatchUpPeriods(cfg.MaxCatchUpPeriods).
		WithMilestones(milestones)

	ledgerSvc := NewLedgerService(cfg.Store, reconciler, milestones, cfg.Emitter, post)
	transfers := NewTransferExecutor(cfg.Store, reconciler, milestones, cfg.Emitter, post)

	if cfg.Now != nil {
		reconciler.WithClock(cfg.Now)
		ledgerSvc.now = cfg.Now
		transfers.now = cfg.Now
	}

	return &Session{
		reconciler: reconciler,
		ledger:     ledgerSvc,
		transfers:  transfers,
		milestones: milestones,
		post:       post,
		subscriber: cfg.Subscriber,
		window:     cfg.DebounceWindow,
	}
}

func (s *Session) Ledger() *LedgerService { return s.ledger }
func (s *Session) Transfers() *TransferExecutor { return s.transfers }
func (s *Session) Reconciler() *Reconciler { return s.reconciler }
func (s *Session) Milestones() *MilestoneDetector { return s.milestones }
func (s *Session) Snapshot() *core.Snapshot { return s.reconciler.Snapshot() }
func (s *Session) FamilyID() string { return s.reconciler.FamilyID() }
func (s *Session) WaitPostCommit() { s.post.Wait() }

// SetFamily points the session at a family. An empty id resets the session
// to an empty snapshot; a new id restarts the change stream and reloads.
func (s *Session) SetFamily(ctx context.Context, familyID string) error {
	if !s.reconciler.SetFamily(familyID) {
		return nil
	}

	s.stopChangeStream()
	if familyID == "" {
		slog.InfoContext(ctx, "Family cleared, session reset")
		return nil
	}

	slog.InfoContext(ctx, "Family selected", "family_id", familyID)
	if err := s.startChangeStream(ctx, familyID); err != nil {
		// Manual refresh and foreground triggers still work without a stream.
		slog.WarnContext(ctx, "Realtime change stream unavailable",
			"family_id", familyID,
			"error", err)
	}
	return s.reconciler.Reload(ctx)
}

// Refresh reloads on an explicit user request.
func (s *Session) Refresh(ctx context.Context) error {
	return s.reconciler.Reload(ctx)
}

// Foreground reloads when the app becomes visible again.
func (s *Session) Foreground(ctx context.Context) error {
	slog.DebugContext(ctx, "Foreground reload", "family_id", s.reconciler.FamilyID())
	return s.reconciler.Reload(ctx)
}

func (s *Session) startChangeStream(ctx context.Context, familyID string) error {
	if s.subscriber == nil {
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := s.subscriber.Subscribe(streamCtx, familyID)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}

	debouncer := realtime.NewDebouncer(s.window, func() {
		if err := s.reconciler.Reload(streamCtx); err != nil {
			slog.WarnContext(streamCtx, "Change-triggered reload failed",
				"family_id", familyID,
				"error", err)
		}
	})
	done := make(chan struct{})

	s.mu.Lock()
	s.stopStream = cancel
	s.debouncer = debouncer
	s.streamDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		debouncer.Run(streamCtx, familyID, events)
	}()
	return nil
}

func (s *Session) stopChangeStream() {
	s.mu.Lock()
	cancel, debouncer, done := s.stopStream, s.debouncer, s.streamDone
	s.stopStream, s.debouncer, s.streamDone = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	debouncer.Stop()
	<-done
}

// Close stops the change stream, waits for a change-triggered reload that
// is already running, and waits for pending side effects.
func (s *Session) Close() {
	s.stopChangeStream()
	s.post.Wait()
}
