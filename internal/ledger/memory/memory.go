package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kidbank/internal/core"
	"kidbank/internal/ledger"
	"kidbank/internal/realtime"
)

var _ ledger.Store = (*Store)(nil)

// Store keeps a family ledger in process memory. Each method holds the lock
// for its whole unit of work, which gives the same all-or-nothing guarantee
// the SQL store gets from a transaction.
type Store struct {
	mu         sync.Mutex
	accounts   map[string]*core.Account
	txs        map[string]storedTx
	milestones map[string]map[int]time.Time
	seq        int64

	pub realtime.Publisher
	now func() time.Time
}

type storedTx struct {
	tx  core.Transaction
	seq int64
}

// New creates an empty store. pub may be nil.
func New(pub realtime.Publisher) *Store {
	return &Store{
		accounts:   make(map[string]*core.Account),
		txs:        make(map[string]storedTx),
		milestones: make(map[string]map[int]time.Time),
		pub:        pub,
		now:        time.Now,
	}
}

// WithClock overrides the clock used for creation timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) ListAccounts(_ context.Context, familyID string) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Account
	for _, a := range s.accounts {
		if a.FamilyID == familyID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, accountID string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return core.Account{}, notFound("get account", accountID)
	}
	return a.Clone(), nil
}

func (s *Store) ListTransactions(_ context.Context, accountIDs []string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		want[id] = struct{}{}
	}

	var rows []storedTx
	for _, st := range s.txs {
		if _, ok := want[st.tx.AccountID]; ok {
			rows = append(rows, st)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].tx.Date.Equal(rows[j].tx.Date) {
			return rows[i].seq > rows[j].seq
		}
		return rows[i].tx.Date.After(rows[j].tx.Date)
	})

	out := make([]core.Transaction, len(rows))
	for i, r := range rows {
		out[i] = r.tx
	}
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, txID string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.txs[txID]
	if !ok {
		return core.Transaction{}, notFound("get transaction", txID)
	}
	return st.tx, nil
}

func (s *Store) InsertTransaction(ctx context.Context, tx core.Transaction) (core.Money, error) {
	s.mu.Lock()
	a, ok := s.accounts[tx.AccountID]
	if !ok {
		s.mu.Unlock()
		return core.Money{}, notFound("insert transaction", tx.AccountID)
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Date.IsZero() {
		tx.Date = s.now()
	}
	s.putTx(tx)
	a.Balance = a.Balance.Add(tx.Signed())
	balance, familyID := a.Balance, a.FamilyID
	s.mu.Unlock()

	s.publish(ctx, familyID, realtime.TableTransactions, realtime.OpInsert, tx.ID)
	s.publish(ctx, familyID, realtime.TableAccounts, realtime.OpUpdate, tx.AccountID)
	return balance, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, txID string, patch ledger.TransactionPatch) (core.Transaction, error) {
	s.mu.Lock()
	st, ok := s.txs[txID]
	if !ok {
		s.mu.Unlock()
		return core.Transaction{}, notFound("update transaction", txID)
	}
	st.tx.Amount = patch.Amount
	st.tx.Description = patch.Description
	st.tx.Category = patch.Category
	s.txs[txID] = st
	familyID := s.familyOf(st.tx.AccountID)
	s.mu.Unlock()

	s.publish(ctx, familyID, realtime.TableTransactions, realtime.OpUpdate, txID)
	return st.tx, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, txID string) (core.Transaction, error) {
	s.mu.Lock()
	st, ok := s.txs[txID]
	if !ok {
		s.mu.Unlock()
		return core.Transaction{}, notFound("delete transaction", txID)
	}
	delete(s.txs, txID)
	familyID := s.familyOf(st.tx.AccountID)
	s.mu.Unlock()

	s.publish(ctx, familyID, realtime.TableTransactions, realtime.OpDelete, txID)
	return st.tx, nil
}

func (s *Store) SetBalance(ctx context.Context, accountID string, balance core.Money) error {
	s.mu.Lock()
	a, ok := s.accounts[accountID]
	if !ok {
		s.mu.Unlock()
		return notFound("set balance", accountID)
	}
	a.Balance = balance
	familyID := a.FamilyID
	s.mu.Unlock()

	s.publish(ctx, familyID, realtime.TableAccounts, realtime.OpUpdate, accountID)
	return nil
}

func (s *Store) RecomputeBalance(ctx context.Context, accountID string) (core.Money, error) {
	s.mu.Lock()
	a, ok := s.accounts[accountID]
	if !ok {
		s.mu.Unlock()
		return core.Money{}, notFound("recompute balance", accountID)
	}
	var balance core.Money
	for _, st := range s.txs {
		if st.tx.AccountID == accountID {
			balance = balance.Add(st.tx.Signed())
		}
	}
	a.Balance = balance
	familyID := a.FamilyID
	s.mu.Unlock()

	s.publish(ctx, familyID, realtime.TableAccounts, realtime.OpUpdate, accountID)
	return balance, nil
}

func (s *Store) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}

	s.mu.Lock()
	for _, existing := range s.accounts {
		if existing.FamilyID == a.FamilyID && strings.EqualFold(existing.Name, a.Name) {
			s.mu.Unlock()
			return core.Account{}, &core.ValidationError{Field: "name", Err: core.ErrDuplicateName}
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.Balance = core.Money{}
	a.Transactions = nil
	stored := a.Clone()
	s.accounts[a.ID] = &stored
	s.mu.Unlock()

	s.publish(ctx, a.FamilyID, realtime.TableAccounts, realtime.OpInsert, a.ID)
	return a, nil
}

func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	a, ok := s.accounts[accountID]
	if !ok {
		s.mu.Unlock()
		return notFound("delete account", accountID)
	}
	familyID := a.FamilyID
	delete(s.accounts, accountID)
	for id, st := range s.txs {
		if st.tx.AccountID == accountID {
			delete(s.txs, id)
		}
	}
	delete(s.milestones, accountID)
	s.mu.Unlock()

	s.publish(ctx, familyID, realtime.TableAccounts, realtime.OpDelete, accountID)
	return nil
}

func (s *Store) SetSavingsGoal(ctx context.Context, accountID string, goal *core.SavingsGoal) error {
	if goal != nil {
		if err := goal.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	a, ok := s.accounts[accountID]
	if !ok {
		s.mu.Unlock()
		return notFound("set savings goal", accountID)
	}
	if goal == nil {
		a.SavingsGoal = nil
	} else {
		g := *goal
		a.SavingsGoal = &g
	}
	familyID := a.FamilyID
	s.mu.Unlock()

	s.publish(ctx, familyID, realtime.TableAccounts, realtime.OpUpdate, accountID)
	return nil
}

func (s *Store) UpdateAllowance(ctx context.Context, accountID string, amount core.Money, freq core.Frequency) error {
	s.mu.Lock()
	a, ok := s.accounts[accountID]
	if !ok {
		s.mu.Unlock()
		return notFound("update allowance", accountID)
	}
	a.AllowanceAmount = amount
	a.AllowanceFrequency = freq
	familyID := a.FamilyID
	s.mu.Unlock()

	s.publish(ctx, familyID, realtime.TableAccounts, realtime.OpUpdate, accountID)
	return nil
}

func (s *Store) Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.TransferResult, error) {
	if req.SenderID == req.ReceiverID {
		return ledger.TransferResult{}, &core.ValidationError{Field: "receiver_id", Err: core.ErrSameAccount}
	}

	s.mu.Lock()
	sender, ok := s.accounts[req.SenderID]
	if !ok {
		s.mu.Unlock()
		return ledger.TransferResult{}, notFound("transfer", req.SenderID)
	}
	receiver, ok := s.accounts[req.ReceiverID]
	if !ok {
		s.mu.Unlock()
		return ledger.TransferResult{}, notFound("transfer", req.ReceiverID)
	}
	if sender.Balance.Less(req.Amount) {
		s.mu.Unlock()
		return ledger.TransferResult{}, &core.StoreError{Op: "transfer", Err: core.ErrInsufficientBalance}
	}

	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	transferID := uuid.NewString()
	sentDesc, receivedDesc := core.TransferDescriptions(sender.Name, receiver.Name, req.Description)

	out := core.Transaction{
		ID:          uuid.NewString(),
		AccountID:   sender.ID,
		Type:        core.Subtract,
		Amount:      req.Amount,
		Description: sentDesc,
		Category:    core.CategoryTransfer,
		Date:        date,
		TransferID:  transferID,
	}
	in := core.Transaction{
		ID:          uuid.NewString(),
		AccountID:   receiver.ID,
		Type:        core.Add,
		Amount:      req.Amount,
		Description: receivedDesc,
		Category:    core.CategoryTransfer,
		Date:        date,
		TransferID:  transferID,
	}
	s.putTx(out)
	s.putTx(in)
	sender.Balance = sender.Balance.Sub(req.Amount)
	receiver.Balance = receiver.Balance.Add(req.Amount)

	res := ledger.TransferResult{
		TransferID:      transferID,
		SenderTx:        out,
		ReceiverTx:      in,
		SenderBalance:   sender.Balance,
		ReceiverBalance: receiver.Balance,
	}
	senderFamily, receiverFamily := sender.FamilyID, receiver.FamilyID
	s.mu.Unlock()

	s.publish(ctx, senderFamily, realtime.TableTransactions, realtime.OpInsert, out.ID)
	s.publish(ctx, receiverFamily, realtime.TableTransactions, realtime.OpInsert, in.ID)
	s.publish(ctx, senderFamily, realtime.TableAccounts, realtime.OpUpdate, req.SenderID)
	s.publish(ctx, receiverFamily, realtime.TableAccounts, realtime.OpUpdate, req.ReceiverID)
	return res, nil
}

func (s *Store) ApplyAccrual(ctx context.Context, update ledger.AccrualUpdate) (core.Money, error) {
	s.mu.Lock()
	a, ok := s.accounts[update.AccountID]
	if !ok {
		s.mu.Unlock()
		return core.Money{}, notFound("apply accrual", update.AccountID)
	}
	if !sameBaseline(a.LastAllowanceDate, update.PreviousBaseline) {
		s.mu.Unlock()
		return core.Money{}, &core.StoreError{Op: "apply accrual", Err: core.ErrStaleBaseline}
	}
	for _, tx := range update.Transactions {
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		s.putTx(tx)
		a.Balance = a.Balance.Add(tx.Signed())
	}
	baseline := update.NewBaseline
	a.LastAllowanceDate = &baseline
	balance, familyID := a.Balance, a.FamilyID
	s.mu.Unlock()

	s.publish(ctx, familyID, realtime.TableTransactions, realtime.OpInsert, update.AccountID)
	s.publish(ctx, familyID, realtime.TableAccounts, realtime.OpUpdate, update.AccountID)
	return balance, nil
}

func (s *Store) RecordedThresholds(_ context.Context, accountID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, 0, len(s.milestones[accountID]))
	for th := range s.milestones[accountID] {
		out = append(out, th)
	}
	sort.Ints(out)
	return out, nil
}

func (s *Store) RecordMilestone(_ context.Context, accountID string, threshold int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return false, notFound("record milestone", accountID)
	}
	if s.milestones[accountID] == nil {
		s.milestones[accountID] = make(map[int]time.Time)
	}
	if _, done := s.milestones[accountID][threshold]; done {
		return false, nil
	}
	s.milestones[accountID][threshold] = s.now()
	return true, nil
}

// putTx must be called with the lock held.
func (s *Store) putTx(tx core.Transaction) {
	s.seq++
	s.txs[tx.ID] = storedTx{tx: tx, seq: s.seq}
}

// familyOf must be called with the lock held.
func (s *Store) familyOf(accountID string) string {
	if a, ok := s.accounts[accountID]; ok {
		return a.FamilyID
	}
	return ""
}

func (s *Store) publish(ctx context.Context, familyID string, table realtime.Table, op realtime.Op, rowID string) {
	if s.pub == nil || familyID == "" {
		return
	}
	_ = s.pub.PublishChange(ctx, realtime.NewChangeEvent(familyID, table, op, rowID))
}

func sameBaseline(stored, expected *time.Time) bool {
	if stored == nil || expected == nil {
		return stored == nil && expected == nil
	}
	return stored.Equal(*expected)
}

func notFound(op, id string) error {
	return &core.StoreError{Op: op, Err: fmt.Errorf("%s: %w", id, core.ErrNotFound)}
}
