package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"kidbank/internal/core"
	"kidbank/internal/ledger"
	"kidbank/internal/ledger/memory"
	"kidbank/internal/notify"
)

const testFamily = "fam-1"

var testNow = time.Date(2025, 3, 23, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// gatedStore holds ListAccounts until release is closed, so a load can be
// kept in flight deterministically.
type gatedStore struct {
	*memory.Store
	entered chan string
	release chan struct{}
}

func newGatedStore(s *memory.Store) *gatedStore {
	return &gatedStore{Store: s, entered: make(chan string, 16), release: make(chan struct{})}
}

func (g *gatedStore) ListAccounts(ctx context.Context, familyID string) ([]core.Account, error) {
	g.entered <- familyID
	<-g.release
	return g.Store.ListAccounts(ctx, familyID)
}

// interleavingStore commits one deposit from "another device" inside the
// next balance recompute after arm, at the point where a read-then-write
// recompute would lose it.
type interleavingStore struct {
	*memory.Store
	accountID string
	deposit   core.Money

	mu    sync.Mutex
	armed bool
	done  bool
}

func (s *interleavingStore) arm() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

func (s *interleavingStore) fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *interleavingStore) interleave(ctx context.Context) {
	s.mu.Lock()
	if !s.armed || s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()

	_, _ = s.Store.InsertTransaction(ctx, core.Transaction{
		AccountID: s.accountID, Type: core.Add, Amount: s.deposit,
		Description: "Birthday money", Category: core.CategoryGift, Date: testNow,
	})
}

func (s *interleavingStore) ListTransactions(ctx context.Context, accountIDs []string) ([]core.Transaction, error) {
	txs, err := s.Store.ListTransactions(ctx, accountIDs)
	s.interleave(ctx)
	return txs, err
}

func (s *interleavingStore) RecomputeBalance(ctx context.Context, accountID string) (core.Money, error) {
	s.interleave(ctx)
	return s.Store.RecomputeBalance(ctx, accountID)
}

// flakyStore fails selected operations until healed.
type flakyStore struct {
	*memory.Store
	mu            sync.Mutex
	accrualErr    error
	transferErr   error
	accrualCalls  int
	transferCalls int
}

func (f *flakyStore) ApplyAccrual(ctx context.Context, update ledger.AccrualUpdate) (core.Money, error) {
	f.mu.Lock()
	f.accrualCalls++
	err := f.accrualErr
	f.mu.Unlock()
	if err != nil {
		return core.Money{}, &core.StoreError{Op: "apply accrual", Err: err}
	}
	return f.Store.ApplyAccrual(ctx, update)
}

func (f *flakyStore) Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.TransferResult, error) {
	f.mu.Lock()
	f.transferCalls++
	err := f.transferErr
	f.mu.Unlock()
	if err != nil {
		return ledger.TransferResult{}, &core.StoreError{Op: "transfer", Err: err}
	}
	return f.Store.Transfer(ctx, req)
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	f.accrualErr = nil
	f.transferErr = nil
	f.mu.Unlock()
}

func (f *flakyStore) calls() (accrual, transfer int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accrualCalls, f.transferCalls
}

// seedAccount creates an account whose allowance is not yet due at testNow
// and gives it an opening balance.
func seedAccount(t *testing.T, s *memory.Store, name string, balance int64, goal *core.SavingsGoal) core.Account {
	t.Helper()
	ctx := context.Background()
	last := testNow.AddDate(0, 0, -1)
	a, err := s.CreateAccount(ctx, core.Account{
		FamilyID:           testFamily,
		Name:               name,
		AllowanceAmount:    core.Money{Cents: 1000},
		AllowanceFrequency: core.Weekly,
		LastAllowanceDate:  &last,
		SavingsGoal:        goal,
		CreatedAt:          testNow.AddDate(0, -1, 0),
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", name, err)
	}
	if balance > 0 {
		if _, err := s.InsertTransaction(ctx, core.Transaction{
			AccountID: a.ID, Type: core.Add, Amount: core.Money{Cents: balance},
			Description: "Opening balance", Category: core.CategoryGift, Date: testNow.AddDate(0, 0, -2),
		}); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
	return a
}

// newTestSession wires a session over store with a recording emitter and
// loads testFamily.
func newTestSession(t *testing.T, store ledger.Store) (*Session, *notify.Recorder) {
	t.Helper()
	rec := &notify.Recorder{}
	s := NewSession(SessionConfig{Store: store, Emitter: rec, Now: fixedClock})
	t.Cleanup(s.Close)
	if err := s.SetFamily(context.Background(), testFamily); err != nil {
		t.Fatalf("SetFamily: %v", err)
	}
	return s, rec
}
