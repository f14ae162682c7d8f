// Package ledger defines the Ledger Store contract the reconciliation engine
// depends on. Implementations live in ledger/memory and storage.
package ledger

import (
	"context"
	"time"

	"kidbank/internal/core"
)

// Ports for outbound adapters.
type (
	AccountReader interface {
		// ListAccounts returns every account of a family, without transactions.
		ListAccounts(ctx context.Context, familyID string) ([]core.Account, error)
		GetAccount(ctx context.Context, accountID string) (core.Account, error)
	}

	TransactionReader interface {
		// ListTransactions returns the transactions of the given accounts, newest first.
		ListTransactions(ctx context.Context, accountIDs []string) ([]core.Transaction, error)
		GetTransaction(ctx context.Context, txID string) (core.Transaction, error)
	}

	// TransactionWriter mutates single transactions. Every call is atomic.
	TransactionWriter interface {
		// InsertTransaction stores tx and applies its signed amount to the
		// account balance in the same unit of work, returning the new balance.
		InsertTransaction(ctx context.Context, tx core.Transaction) (core.Money, error)
		UpdateTransaction(ctx context.Context, txID string, patch TransactionPatch) (core.Transaction, error)
		DeleteTransaction(ctx context.Context, txID string) (core.Transaction, error)
		SetBalance(ctx context.Context, accountID string, balance core.Money) error
		BalanceRecomputer
	}

	// BalanceRecomputer rewrites the stored balance as the sum of the
	// account's ledger, reading and writing in the same unit of work.
	BalanceRecomputer interface {
		RecomputeBalance(ctx context.Context, accountID string) (core.Money, error)
	}

	AccountAdmin interface {
		CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
		// DeleteAccount removes the account and cascades to its transactions.
		DeleteAccount(ctx context.Context, accountID string) error
		SetSavingsGoal(ctx context.Context, accountID string, goal *core.SavingsGoal) error
		UpdateAllowance(ctx context.Context, accountID string, amount core.Money, freq core.Frequency) error
	}

	// Transferer moves money between two accounts as one unit: both balances
	// and both linked transaction rows commit together or not at all.
	Transferer interface {
		Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	}

	// AccrualWriter persists allowance corrections computed by the loader.
	AccrualWriter interface {
		// ApplyAccrual inserts the synthetic transactions, adds their sum to the
		// balance and advances the baseline. It fails with core.ErrStaleBaseline
		// when the stored baseline no longer equals update.PreviousBaseline.
		ApplyAccrual(ctx context.Context, update AccrualUpdate) (core.Money, error)
	}

	MilestoneStore interface {
		RecordedThresholds(ctx context.Context, accountID string) ([]int, error)
		// RecordMilestone durably marks a threshold; it reports false when the
		// pair was already recorded.
		RecordMilestone(ctx context.Context, accountID string, threshold int) (bool, error)
	}

	Store interface {
		AccountReader
		TransactionReader
		TransactionWriter
		AccountAdmin
		Transferer
		AccrualWriter
		MilestoneStore
	}
)

type TransactionPatch struct {
	Amount      core.Money
	Description string
	Category    core.Category
}

type TransferRequest struct {
	SenderID    string
	ReceiverID  string
	Amount      core.Money
	Description string
	Date        time.Time
}

type TransferResult struct {
	TransferID      string
	SenderTx        core.Transaction
	ReceiverTx      core.Transaction
	SenderBalance   core.Money
	ReceiverBalance core.Money
}

type AccrualUpdate struct {
	AccountID        string
	PreviousBaseline *time.Time
	NewBaseline      time.Time
	Transactions     []core.Transaction
}
