package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"kidbank/internal/core"
	"kidbank/internal/ledger"
	"kidbank/internal/notify"
)

// NewTransaction is a parent-entered deposit or withdrawal.
type NewTransaction struct {
	AccountID   string
	Type        core.TransactionType
	Amount      core.Money
	Description string
	Category    core.Category
}

// NewAccount describes an account to create in the active family.
type NewAccount struct {
	Name               string
	Avatar             string
	AllowanceAmount    core.Money
	AllowanceFrequency core.Frequency
	SavingsGoal        *core.SavingsGoal
}

// MutationResult reports a committed single-transaction change.
type MutationResult struct {
	Transaction     core.Transaction
	PreviousBalance core.Money
	Balance         core.Money
}

// LedgerService handles direct mutations of the ledger and account admin.
type LedgerService struct {
	store      ledger.Store
	reconciler *Reconciler
	milestones *MilestoneDetector
	emitter    notify.Emitter
	post       *PostCommit
	now        func() time.Time
}

func NewLedgerService(store ledger.Store, reconciler *Reconciler, milestones *MilestoneDetector, emitter notify.Emitter, post *PostCommit) *LedgerService {
	return &LedgerService{
		store:      store,
		reconciler: reconciler,
		milestones: milestones,
		emitter:    emitter,
		post:       post,
		now:        time.Now,
	}
}

// AddTransaction records a deposit or withdrawal and applies it to the balance.
func (s *LedgerService) AddTransaction(ctx context.Context, in NewTransaction) (MutationResult, error) {
	if in.Category == "" {
		in.Category = core.CategoryOther
	}
	tx := core.Transaction{
		ID:          uuid.NewString(),
		AccountID:   in.AccountID,
		Type:        in.Type,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		Category:    in.Category,
		Date:        s.now(),
	}
	if err := tx.Validate(); err != nil {
		return MutationResult{}, err
	}

	account, ok := s.reconciler.Snapshot().Account(in.AccountID)
	if !ok {
		return MutationResult{}, &core.ValidationError{Field: "account_id", Err: core.ErrUnknownAccount}
	}

	balance, err := s.store.InsertTransaction(ctx, tx)
	if err != nil {
		return MutationResult{}, fmt.Errorf("add transaction: %w", err)
	}

	result := MutationResult{
		Transaction:     tx,
		PreviousBalance: balance.Sub(tx.Signed()),
		Balance:         balance,
	}

	slog.InfoContext(ctx, "Transaction added",
		"account_id", account.ID,
		"type", tx.Type,
		"amount_cents", tx.Amount.Cents,
		"balance_cents", balance.Cents)

	s.afterMutation(ctx, notify.TransactionAdded, account, result)
	return result, nil
}

// EditTransaction changes amount, description and category of a transaction
// and recomputes the balance from the full ledger.
func (s *LedgerService) EditTransaction(ctx context.Context, txID string, patch ledger.TransactionPatch) (MutationResult, error) {
	patch.Description = strings.TrimSpace(patch.Description)
	if patch.Category == "" {
		patch.Category = core.CategoryOther
	}
	if err := patch.Amount.Validate(); err != nil {
		return MutationResult{}, &core.ValidationError{Field: "amount", Err: err}
	}
	if err := core.ValidateDescription(patch.Description); err != nil {
		return MutationResult{}, err
	}
	if err := patch.Category.Validate(); err != nil {
		return MutationResult{}, &core.ValidationError{Field: "category", Err: err}
	}

	existing, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return MutationResult{}, fmt.Errorf("edit transaction: %w", err)
	}
	account, err := s.store.GetAccount(ctx, existing.AccountID)
	if err != nil {
		return MutationResult{}, fmt.Errorf("edit transaction: %w", err)
	}

	updated, err := s.store.UpdateTransaction(ctx, txID, patch)
	if err != nil {
		return MutationResult{}, fmt.Errorf("edit transaction: %w", err)
	}

	balance, err := s.recomputeBalance(ctx, account.ID)
	if err != nil {
		return MutationResult{}, fmt.Errorf("edit transaction: %w", err)
	}

	result := MutationResult{Transaction: updated, PreviousBalance: account.Balance, Balance: balance}
	s.afterMutation(ctx, notify.TransactionUpdated, account, result)
	return result, nil
}

// DeleteTransaction removes a transaction and recomputes the balance from
// what remains.
func (s *LedgerService) DeleteTransaction(ctx context.Context, txID string) (MutationResult, error) {
	existing, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return MutationResult{}, fmt.Errorf("delete transaction: %w", err)
	}
	account, err := s.store.GetAccount(ctx, existing.AccountID)
	if err != nil {
		return MutationResult{}, fmt.Errorf("delete transaction: %w", err)
	}

	deleted, err := s.store.DeleteTransaction(ctx, txID)
	if err != nil {
		return MutationResult{}, fmt.Errorf("delete transaction: %w", err)
	}

	balance, err := s.recomputeBalance(ctx, account.ID)
	if err != nil {
		return MutationResult{}, fmt.Errorf("delete transaction: %w", err)
	}

	result := MutationResult{Transaction: deleted, PreviousBalance: account.Balance, Balance: balance}
	s.afterMutation(ctx, notify.TransactionDeleted, account, result)
	return result, nil
}

// recomputeBalance has the store re-sum the account's whole ledger in one
// unit of work rather than applying a delta.
func (s *LedgerService) recomputeBalance(ctx context.Context, accountID string) (core.Money, error) {
	return s.store.RecomputeBalance(ctx, accountID)
}

func (s *LedgerService) afterMutation(ctx context.Context, typ notify.Type, account core.Account, result MutationResult) {
	s.post.Go(ctx, string(typ), func(ctx context.Context) error {
		var errs []error
		if err := s.emitter.Emit(ctx, mutationNotification(typ, account, result.Transaction, result.Balance)); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
		if _, err := s.milestones.Check(ctx, account, result.PreviousBalance, result.Balance); err != nil {
			errs = append(errs, fmt.Errorf("milestones: %w", err))
		}
		if err := s.reconciler.Reload(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reload: %w", err))
		}
		return errors.Join(errs...)
	})
}

// CreateAccount adds an account to the active family.
func (s *LedgerService) CreateAccount(ctx context.Context, in NewAccount) (core.Account, error) {
	familyID := s.reconciler.FamilyID()
	if familyID == "" {
		return core.Account{}, &core.ValidationError{Field: "family_id", Err: core.ErrNoFamily}
	}

	account := core.Account{
		FamilyID:           familyID,
		Name:               strings.TrimSpace(in.Name),
		Avatar:             in.Avatar,
		AllowanceAmount:    in.AllowanceAmount,
		AllowanceFrequency: in.AllowanceFrequency,
		SavingsGoal:        in.SavingsGoal,
		CreatedAt:          s.now(),
	}
	if err := account.Validate(); err != nil {
		return core.Account{}, err
	}

	created, err := s.store.CreateAccount(ctx, account)
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	s.reloadLater(ctx, "create_account")
	return created, nil
}

// DeleteAccount removes an account and its transactions.
func (s *LedgerService) DeleteAccount(ctx context.Context, accountID string) error {
	if err := s.store.DeleteAccount(ctx, accountID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.reloadLater(ctx, "delete_account")
	return nil
}

// SetSavingsGoal replaces the account's goal. Thresholds already notified
// stay recorded.
func (s *LedgerService) SetSavingsGoal(ctx context.Context, accountID string, goal core.SavingsGoal) error {
	goal.Name = strings.TrimSpace(goal.Name)
	if err := goal.Validate(); err != nil {
		return err
	}
	if err := s.store.SetSavingsGoal(ctx, accountID, &goal); err != nil {
		return fmt.Errorf("set savings goal: %w", err)
	}
	s.reloadLater(ctx, "set_savings_goal")
	return nil
}

func (s *LedgerService) ClearSavingsGoal(ctx context.Context, accountID string) error {
	if err := s.store.SetSavingsGoal(ctx, accountID, nil); err != nil {
		return fmt.Errorf("clear savings goal: %w", err)
	}
	s.reloadLater(ctx, "clear_savings_goal")
	return nil
}

// UpdateAllowance changes amount and frequency. Periods already accrued are
// not revisited.
func (s *LedgerService) UpdateAllowance(ctx context.Context, accountID string, amount core.Money, freq core.Frequency) error {
	if err := amount.Validate(); err != nil {
		return &core.ValidationError{Field: "allowance_amount", Err: err}
	}
	if err := freq.Validate(); err != nil {
		return &core.ValidationError{Field: "allowance_frequency", Err: err}
	}
	if err := s.store.UpdateAllowance(ctx, accountID, amount, freq); err != nil {
		return fmt.Errorf("update allowance: %w", err)
	}
	s.reloadLater(ctx, "update_allowance")
	return nil
}

func (s *LedgerService) reloadLater(ctx context.Context, step string) {
	s.post.Go(ctx, step, s.reconciler.Reload)
}
