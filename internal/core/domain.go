package core

import (
	"strings"
	"time"
)

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

const (
	Add      TransactionType = "add"
	Subtract TransactionType = "subtract"
)

const (
	CategoryAllowance Category = "allowance"
	CategoryTransfer  Category = "transfer"
	CategoryGift      Category = "gift"
	CategoryChore     Category = "chore"
	CategoryReward    Category = "reward"
	CategorySpending  Category = "spending"
	CategorySavings   Category = "savings"
	CategoryOther     Category = "other"
)

type (
	Frequency       string
	TransactionType string
	Category        string

	SavingsGoal struct {
		Name         string
		TargetAmount Money
	}

	Account struct {
		ID                 string
		FamilyID           string
		Name               string
		Avatar             string
		Balance            Money // cached; the ledger is authoritative
		AllowanceAmount    Money
		AllowanceFrequency Frequency
		LastAllowanceDate  *time.Time
		SavingsGoal        *SavingsGoal
		CreatedAt          time.Time
		Transactions       []Transaction // newest first
	}

	Transaction struct {
		ID          string
		AccountID   string
		Type        TransactionType
		Amount      Money
		Description string
		Category    Category
		Date        time.Time
		TransferID  string // shared by both legs of a transfer
	}

	MilestoneRecord struct {
		AccountID        string
		ThresholdPercent int
		RecordedAt       time.Time
	}
)

var validCategories = map[Category]struct{}{
	CategoryAllowance: {},
	CategoryTransfer:  {},
	CategoryGift:      {},
	CategoryChore:     {},
	CategoryReward:    {},
	CategorySpending:  {},
	CategorySavings:   {},
	CategoryOther:     {},
}

func (f Frequency) Validate() error {
	switch f {
	case Weekly, Monthly:
		return nil
	default:
		return ErrInvalidFrequency
	}
}

func (t TransactionType) Validate() error {
	switch t {
	case Add, Subtract:
		return nil
	default:
		return ErrInvalidType
	}
}

func (c Category) Validate() error {
	if _, ok := validCategories[c]; !ok {
		return ErrInvalidCategory
	}
	return nil
}

// Signed returns the amount as it contributes to the balance.
func (t Transaction) Signed() Money {
	if t.Type == Subtract {
		return t.Amount.Neg()
	}
	return t.Amount
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return &ValidationError{Field: "account_id", Err: ErrUnknownAccount}
	}
	if err := t.Type.Validate(); err != nil {
		return &ValidationError{Field: "type", Err: err}
	}
	if err := t.Amount.Validate(); err != nil {
		return &ValidationError{Field: "amount", Err: err}
	}
	if err := ValidateDescription(t.Description); err != nil {
		return err
	}
	if err := t.Category.Validate(); err != nil {
		return &ValidationError{Field: "category", Err: err}
	}
	return nil
}

func (g SavingsGoal) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return &ValidationError{Field: "savings_goal.name", Err: ErrInvalidGoal}
	}
	if err := g.TargetAmount.Validate(); err != nil {
		return &ValidationError{Field: "savings_goal.target_amount", Err: ErrInvalidGoal}
	}
	return nil
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.FamilyID) == "" {
		return &ValidationError{Field: "family_id", Err: ErrNoFamily}
	}
	if strings.TrimSpace(a.Name) == "" {
		return &ValidationError{Field: "name", Err: ErrEmptyName}
	}
	if err := a.AllowanceAmount.Validate(); err != nil {
		return &ValidationError{Field: "allowance_amount", Err: err}
	}
	if err := a.AllowanceFrequency.Validate(); err != nil {
		return &ValidationError{Field: "allowance_frequency", Err: err}
	}
	if a.SavingsGoal != nil {
		if err := a.SavingsGoal.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AllowanceBaseline is the date accrual counts periods from: the last allowance
// date, or the creation time for an account that never received one.
func (a Account) AllowanceBaseline() time.Time {
	if a.LastAllowanceDate != nil && !a.LastAllowanceDate.IsZero() {
		return *a.LastAllowanceDate
	}
	return a.CreatedAt
}

// LedgerBalance derives a balance from a transaction history.
func LedgerBalance(txs []Transaction) Money {
	var total Money
	for _, tx := range txs {
		total = total.Add(tx.Signed())
	}
	return total
}

// Clone returns a deep copy so snapshots never share mutable state.
func (a Account) Clone() Account {
	out := a
	if a.LastAllowanceDate != nil {
		d := *a.LastAllowanceDate
		out.LastAllowanceDate = &d
	}
	if a.SavingsGoal != nil {
		g := *a.SavingsGoal
		out.SavingsGoal = &g
	}
	out.Transactions = append([]Transaction(nil), a.Transactions...)
	return out
}

// ValidateDescription checks a free-text transaction description.
func ValidateDescription(desc string) error {
	if len(strings.TrimSpace(desc)) == 0 {
		return &ValidationError{Field: "description", Err: ErrEmptyDescription}
	}
	if len(desc) > 200 {
		return &ValidationError{Field: "description", Err: ErrDescriptionTooLong}
	}
	return nil
}

// TransferDescriptions builds the description of each leg of a transfer.
func TransferDescriptions(senderName, receiverName, note string) (sent, received string) {
	sent = "Transfer to " + receiverName
	received = "Transfer from " + senderName
	if note = strings.TrimSpace(note); note != "" {
		sent += ": " + note
		received += ": " + note
	}
	return sent, received
}
