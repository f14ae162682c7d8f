package services

import (
	"time"

	"kidbank/internal/core"
)

// DefaultMaxCatchUpPeriods bounds backfill after a long gap: one year of
// weekly allowances.
const DefaultMaxCatchUpPeriods = 52

// AccrualResult is the outcome of one accrual computation.
type AccrualResult struct {
	// Transactions are the synthetic allowance credits, oldest first.
	Transactions []core.Transaction
	// NewBaseline is the boundary of the last emitted period.
	NewBaseline time.Time
	Changed     bool
	// Skipped counts elapsed periods dropped by the catch-up cap.
	Skipped int
}

// Total is the sum credited by the result.
func (r AccrualResult) Total() core.Money {
	var sum core.Money
	for _, tx := range r.Transactions {
		sum = sum.Add(tx.Amount)
	}
	return sum
}

// ComputeAccrual returns the allowance owed to account between its baseline
// and now. It performs no I/O; the synthetic transactions carry no IDs.
//
// When more than maxPeriods whole periods elapsed only the most recent
// maxPeriods are emitted, and the baseline still advances to the last
// elapsed boundary. maxPeriods <= 0 disables the cap.
func ComputeAccrual(account core.Account, now time.Time, maxPeriods int) (AccrualResult, error) {
	strategy, err := GetPeriodStrategy(account.AllowanceFrequency)
	if err != nil {
		return AccrualResult{}, &core.ValidationError{Field: "allowance_frequency", Err: core.ErrInvalidFrequency}
	}
	if err := account.AllowanceAmount.Validate(); err != nil {
		return AccrualResult{}, &core.ValidationError{Field: "allowance_amount", Err: err}
	}

	baseline := account.AllowanceBaseline()
	result := AccrualResult{NewBaseline: baseline}

	elapsed := 0
	for !strategy.Boundary(baseline, elapsed+1).After(now) {
		elapsed++
	}
	if elapsed == 0 {
		return result, nil
	}

	first := 1
	if maxPeriods > 0 && elapsed > maxPeriods {
		result.Skipped = elapsed - maxPeriods
		first = elapsed - maxPeriods + 1
	}

	result.Transactions = make([]core.Transaction, 0, elapsed-first+1)
	for n := first; n <= elapsed; n++ {
		result.Transactions = append(result.Transactions, core.Transaction{
			AccountID:   account.ID,
			Type:        core.Add,
			Amount:      account.AllowanceAmount,
			Description: strategy.Label(),
			Category:    core.CategoryAllowance,
			Date:        strategy.Boundary(baseline, n),
		})
	}
	result.NewBaseline = strategy.Boundary(baseline, elapsed)
	result.Changed = true

	return result, nil
}
