package core

import (
	"errors"
	"testing"
	"time"
)

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Cents: -5}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		AccountID:   "acc-1",
		Type:        Add,
		Amount:      Money{Cents: 100},
		Description: "ok",
		Category:    CategoryGift,
		Date:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	tests := []struct {
		name  string
		edit  func(*Transaction)
		field string
		want  error
	}{
		{"missing account", func(tx *Transaction) { tx.AccountID = "" }, "account_id", ErrUnknownAccount},
		{"bad type", func(tx *Transaction) { tx.Type = "refund" }, "type", ErrInvalidType},
		{"zero amount", func(tx *Transaction) { tx.Amount = Money{} }, "amount", ErrInvalidAmount},
		{"blank description", func(tx *Transaction) { tx.Description = "   " }, "description", ErrEmptyDescription},
		{"bad category", func(tx *Transaction) { tx.Category = "lottery" }, "category", ErrInvalidCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := good
			tt.edit(&tx)
			err := tx.Validate()
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAccountValidate(t *testing.T) {
	good := Account{
		FamilyID:           "fam",
		Name:               "Ada",
		AllowanceAmount:    Money{Cents: 1000},
		AllowanceFrequency: Weekly,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Account{
		{Name: "Ada", AllowanceAmount: Money{Cents: 1}, AllowanceFrequency: Weekly},
		{FamilyID: "fam", AllowanceAmount: Money{Cents: 1}, AllowanceFrequency: Weekly},
		{FamilyID: "fam", Name: "Ada", AllowanceFrequency: Weekly},
		{FamilyID: "fam", Name: "Ada", AllowanceAmount: Money{Cents: 1}, AllowanceFrequency: "daily"},
		{FamilyID: "fam", Name: "Ada", AllowanceAmount: Money{Cents: 1}, AllowanceFrequency: Monthly,
			SavingsGoal: &SavingsGoal{Name: "Bike"}},
	}
	for i, a := range bads {
		if err := a.Validate(); !IsValidation(err) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}

func TestAllowanceBaseline(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	a := Account{CreatedAt: created}
	if got := a.AllowanceBaseline(); !got.Equal(created) {
		t.Errorf("baseline without last date = %v, want %v", got, created)
	}
	a.LastAllowanceDate = &last
	if got := a.AllowanceBaseline(); !got.Equal(last) {
		t.Errorf("baseline with last date = %v, want %v", got, last)
	}
}

func TestLedgerBalance(t *testing.T) {
	txs := []Transaction{
		{Type: Add, Amount: Money{Cents: 1050}},
		{Type: Subtract, Amount: Money{Cents: 325}},
		{Type: Add, Amount: Money{Cents: 1}},
	}
	if got := LedgerBalance(txs); got.Cents != 726 {
		t.Fatalf("LedgerBalance = %d, want 726", got.Cents)
	}
	if got := LedgerBalance(nil); !got.IsZero() {
		t.Fatalf("empty ledger should be zero, got %v", got)
	}
}

func TestAccountCloneIsDeep(t *testing.T) {
	last := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	a := Account{
		ID:                "a",
		LastAllowanceDate: &last,
		SavingsGoal:       &SavingsGoal{Name: "Bike", TargetAmount: Money{Cents: 100}},
		Transactions:      []Transaction{{ID: "t1"}},
	}
	c := a.Clone()
	*c.LastAllowanceDate = last.AddDate(1, 0, 0)
	c.SavingsGoal.Name = "Car"
	c.Transactions[0].ID = "changed"

	if !a.LastAllowanceDate.Equal(last) || a.SavingsGoal.Name != "Bike" || a.Transactions[0].ID != "t1" {
		t.Fatalf("clone shares state with original: %+v", a)
	}
}

func TestSnapshotAccessors(t *testing.T) {
	s := NewSnapshot("fam", time.Now(), []Account{
		{ID: "a", Balance: Money{Cents: 500}},
		{ID: "b", Balance: Money{Cents: 250}},
	})
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if got := s.TotalBalance(); got.Cents != 750 {
		t.Errorf("TotalBalance = %d, want 750", got.Cents)
	}
	if _, ok := s.Account("missing"); ok {
		t.Error("expected missing account lookup to fail")
	}
	a, ok := s.Account("b")
	if !ok || a.Balance.Cents != 250 {
		t.Errorf("Account(b) = %+v, %v", a, ok)
	}
	if EmptySnapshot().Len() != 0 {
		t.Error("empty snapshot should have no accounts")
	}
}
