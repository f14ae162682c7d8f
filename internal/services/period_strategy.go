// Package services holds the ledger engine: allowance accrual, milestone
// detection, reconciliation, transfers and direct mutations.
//
// This file implements the Strategy Pattern for allowance periods. Each
// frequency knows where its period boundaries fall relative to a baseline.
package services

import (
	"fmt"
	"time"

	"kidbank/internal/core"
)

// PeriodStrategy locates allowance period boundaries.
type PeriodStrategy interface {
	// Boundary returns the end of the n-th period after baseline (n >= 1).
	Boundary(baseline time.Time, n int) time.Time
	// Label names the allowance in synthetic transaction descriptions.
	Label() string
}

// WeeklyPeriod is a fixed seven-day period.
type WeeklyPeriod struct{}

func (WeeklyPeriod) Boundary(baseline time.Time, n int) time.Time {
	return baseline.AddDate(0, 0, 7*n)
}

func (WeeklyPeriod) Label() string { return "Weekly allowance" }

// MonthlyPeriod ends on the baseline's day of month, clamped to the last day
// of shorter months (Jan 31 -> Feb 28).
type MonthlyPeriod struct{}

func (MonthlyPeriod) Boundary(baseline time.Time, n int) time.Time {
	year, month, day := baseline.Date()
	target := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, baseline.Location())

	lastDay := time.Date(target.Year(), target.Month()+1, 0, 0, 0, 0, 0, baseline.Location()).Day()
	if day > lastDay {
		day = lastDay
	}

	return time.Date(target.Year(), target.Month(), day,
		baseline.Hour(), baseline.Minute(), baseline.Second(), baseline.Nanosecond(), baseline.Location())
}

func (MonthlyPeriod) Label() string { return "Monthly allowance" }

var periodStrategies = map[core.Frequency]PeriodStrategy{
	core.Weekly:  WeeklyPeriod{},
	core.Monthly: MonthlyPeriod{},
}

// GetPeriodStrategy returns the strategy for a frequency.
func GetPeriodStrategy(freq core.Frequency) (PeriodStrategy, error) {
	s, ok := periodStrategies[freq]
	if !ok {
		return nil, fmt.Errorf("unknown allowance frequency: %q", freq)
	}
	return s, nil
}
