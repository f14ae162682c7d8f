package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrEmptyDescription    = errors.New("empty description")
	ErrDescriptionTooLong  = errors.New("description too long (max 200 characters)")
	ErrEmptyName           = errors.New("empty name")
	ErrInvalidType         = errors.New("invalid transaction type")
	ErrInvalidCategory     = errors.New("invalid category")
	ErrInvalidFrequency    = errors.New("invalid allowance frequency")
	ErrInvalidGoal         = errors.New("invalid savings goal")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrSameAccount         = errors.New("sender and receiver are the same account")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoFamily            = errors.New("no family selected")
	ErrNotFound            = errors.New("not found")
	ErrDuplicateName       = errors.New("account name already used in family")
	ErrStaleBaseline       = errors.New("allowance baseline changed concurrently")
)

// ValidationError reports bad input detected before any store call.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StoreError reports a failed Ledger Store call. Store operations are atomic,
// so a StoreError implies nothing was committed by that call.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ReconciliationWarning reports an accrual that was computed and published but
// could not be persisted. It is logged, never returned to users.
type ReconciliationWarning struct {
	AccountID string
	Err       error
}

func (e *ReconciliationWarning) Error() string {
	return fmt.Sprintf("persist accrual for account %s: %v", e.AccountID, e.Err)
}

func (e *ReconciliationWarning) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
