package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kidbank/internal/core"
	"kidbank/internal/ledger"
	"kidbank/internal/notify"
)

const defaultPersistConcurrency = 4

// ReconcileStore is the part of the Ledger Store the loader needs.
type ReconcileStore interface {
	ledger.AccountReader
	ledger.TransactionReader
	ledger.AccrualWriter
	ledger.BalanceRecomputer
}

type accrualChange struct {
	account  core.Account
	previous core.Money
	credited core.Money
	periods  int
	update   ledger.AccrualUpdate
}

// Reconciler owns the published snapshot of one family session. Loads are
// single-flight: triggers arriving while a load runs collapse into exactly
// one trailing load.
type Reconciler struct {
	store      ReconcileStore
	emitter    notify.Emitter
	milestones *MilestoneDetector
	now        func() time.Time
	maxPeriods int
	persistMax int

	mu       sync.Mutex
	familyID string
	running  bool
	pending  bool

	snapshot atomic.Pointer[core.Snapshot]
	loads    atomic.Int64
}

func NewReconciler(store ReconcileStore, emitter notify.Emitter) *Reconciler {
	r := &Reconciler{
		store:      store,
		emitter:    emitter,
		now:        time.Now,
		maxPeriods: DefaultMaxCatchUpPeriods,
		persistMax: defaultPersistConcurrency,
	}
	r.snapshot.Store(core.EmptySnapshot())
	return r
}

func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// WithMaxCatchUpPeriods sets the accrual backfill cap; n <= 0 removes it.
func (r *Reconciler) WithMaxCatchUpPeriods(n int) *Reconciler {
	r.maxPeriods = n
	return r
}

// WithMilestones makes accrued allowances count toward savings milestones.
func (r *Reconciler) WithMilestones(d *MilestoneDetector) *Reconciler {
	r.milestones = d
	return r
}

// Snapshot returns the latest published view. It never blocks on a load.
func (r *Reconciler) Snapshot() *core.Snapshot {
	return r.snapshot.Load()
}

// Loads counts load executions against the store.
func (r *Reconciler) Loads() int64 {
	return r.loads.Load()
}

func (r *Reconciler) FamilyID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.familyID
}

// SetFamily switches the family the reconciler serves and reports whether it
// changed. Clearing it publishes an empty snapshot immediately; switching to
// another family hides the previous family's accounts until the next load.
func (r *Reconciler) SetFamily(familyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.familyID == familyID {
		return false
	}
	r.familyID = familyID
	if familyID == "" {
		r.snapshot.Store(core.EmptySnapshot())
	} else {
		r.snapshot.Store(core.NewSnapshot(familyID, r.now(), nil))
	}
	return true
}

// Reload reconciles the current family. A call made while another load is
// running marks a trailing load and returns at once; the running caller
// performs it before returning.
func (r *Reconciler) Reload(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.pending = true
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	for {
		r.mu.Lock()
		familyID := r.familyID
		r.mu.Unlock()

		err := r.load(ctx, familyID)

		r.mu.Lock()
		if !r.pending || ctx.Err() != nil {
			r.pending = false
			r.running = false
			r.mu.Unlock()
			return err
		}
		r.pending = false
		r.mu.Unlock()

		if err != nil {
			slog.WarnContext(ctx, "Reconciliation failed, running trailing reload",
				"family_id", familyID,
				"error", err)
		}
	}
}

func (r *Reconciler) load(ctx context.Context, familyID string) error {
	if familyID == "" {
		r.snapshot.Store(core.EmptySnapshot())
		return nil
	}

	r.loads.Add(1)
	start := r.now()

	accounts, err := r.store.ListAccounts(ctx, familyID)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	txs, err := r.store.ListTransactions(ctx, ids)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}

	byAccount := make(map[string][]core.Transaction, len(accounts))
	for _, tx := range txs {
		byAccount[tx.AccountID] = append(byAccount[tx.AccountID], tx)
	}

	var changes []accrualChange
	var drifted []string
	for i := range accounts {
		a := accounts[i]
		a.Transactions = byAccount[a.ID]

		derived := core.LedgerBalance(a.Transactions)
		if derived != a.Balance {
			slog.WarnContext(ctx, "Stored balance drifted from ledger",
				"account_id", a.ID,
				"stored_cents", a.Balance.Cents,
				"ledger_cents", derived.Cents)
			a.Balance = derived
			drifted = append(drifted, a.ID)
		}

		change, ok := r.accrue(ctx, &a, start)
		if ok {
			changes = append(changes, change)
		}
		accounts[i] = a
	}

	r.mu.Lock()
	if r.familyID != familyID {
		r.mu.Unlock()
		slog.InfoContext(ctx, "Discarding load for inactive family",
			"loaded_family_id", familyID)
		return nil
	}
	r.snapshot.Store(core.NewSnapshot(familyID, start, accounts))
	r.mu.Unlock()

	slog.InfoContext(ctx, "Snapshot published",
		"family_id", familyID,
		"accounts", len(accounts),
		"accrued_accounts", len(changes))

	r.repairBalances(ctx, drifted)
	r.persistAccruals(ctx, changes)
	return nil
}

// repairBalances rewrites drifted stored balances from the ledger before any
// accrual is applied on top of them.
func (r *Reconciler) repairBalances(ctx context.Context, accountIDs []string) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range accountIDs {
		balance, err := r.store.RecomputeBalance(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "Failed to repair drifted balance",
				"account_id", id,
				"error", &core.ReconciliationWarning{AccountID: id, Err: err})
			continue
		}
		slog.InfoContext(ctx, "Stored balance repaired",
			"account_id", id,
			"balance_cents", balance.Cents)
	}
}

// accrue applies owed allowance to a in place and describes the correction
// to persist.
func (r *Reconciler) accrue(ctx context.Context, a *core.Account, now time.Time) (accrualChange, bool) {
	res, err := ComputeAccrual(*a, now, r.maxPeriods)
	if err != nil {
		slog.WarnContext(ctx, "Skipping accrual for invalid account",
			"account_id", a.ID,
			"error", err)
		return accrualChange{}, false
	}
	if res.Skipped > 0 {
		slog.WarnContext(ctx, "Allowance catch-up capped",
			"account_id", a.ID,
			"skipped_periods", res.Skipped,
			"credited_periods", len(res.Transactions))
	}
	if !res.Changed {
		return accrualChange{}, false
	}

	var previousBaseline *time.Time
	if a.LastAllowanceDate != nil {
		b := *a.LastAllowanceDate
		previousBaseline = &b
	}

	synthetic := make([]core.Transaction, len(res.Transactions))
	for i, tx := range res.Transactions {
		tx.ID = uuid.NewString()
		synthetic[i] = tx
	}

	newest := make([]core.Transaction, 0, len(synthetic)+len(a.Transactions))
	for i := len(synthetic) - 1; i >= 0; i-- {
		newest = append(newest, synthetic[i])
	}

	change := accrualChange{
		previous: a.Balance,
		credited: res.Total(),
		periods:  len(synthetic),
		update: ledger.AccrualUpdate{
			AccountID:        a.ID,
			PreviousBaseline: previousBaseline,
			NewBaseline:      res.NewBaseline,
			Transactions:     synthetic,
		},
	}

	a.Transactions = append(newest, a.Transactions...)
	a.Balance = a.Balance.Add(res.Total())
	baseline := res.NewBaseline
	a.LastAllowanceDate = &baseline

	change.account = a.Clone()
	return change, true
}

// persistAccruals is the best-effort second phase of a load. Nothing here is
// reported to the caller; the next load recomputes from the stored baseline.
func (r *Reconciler) persistAccruals(ctx context.Context, changes []accrualChange) {
	if len(changes) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(r.persistMax)

	for _, change := range changes {
		change := change
		g.Go(func() error {
			r.persistAccrual(ctx, change)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Reconciler) persistAccrual(ctx context.Context, change accrualChange) {
	balance, err := r.store.ApplyAccrual(ctx, change.update)
	if err != nil {
		warn := &core.ReconciliationWarning{AccountID: change.account.ID, Err: err}
		if errors.Is(err, core.ErrStaleBaseline) {
			slog.InfoContext(ctx, "Accrual already applied elsewhere", "account_id", change.account.ID)
			return
		}
		slog.WarnContext(ctx, "Failed to persist allowance accrual",
			"account_id", change.account.ID,
			"periods", change.periods,
			"error", warn)
		return
	}

	slog.InfoContext(ctx, "Allowance accrued",
		"account_id", change.account.ID,
		"periods", change.periods,
		"credited_cents", change.credited.Cents,
		"balance_cents", balance.Cents)

	if err := r.emitter.Emit(ctx, allowanceNotification(change.account, change.credited, balance, change.periods)); err != nil {
		slog.WarnContext(ctx, "Failed to emit allowance notification",
			"account_id", change.account.ID,
			"error", err)
	}

	if r.milestones != nil {
		if _, err := r.milestones.Check(ctx, change.account, change.previous, balance); err != nil {
			slog.WarnContext(ctx, "Milestone check after accrual failed",
				"account_id", change.account.ID,
				"error", err)
		}
	}
}
