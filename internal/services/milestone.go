package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"kidbank/internal/cache"
	"kidbank/internal/core"
	"kidbank/internal/ledger"
	"kidbank/internal/notify"
)

// MilestoneThresholds are the savings-goal percentages that notify, ascending.
var MilestoneThresholds = []int{25, 50, 75, 100}

// CrossedThresholds returns the thresholds in (previous, current] percent of
// target that are not yet recorded.
func CrossedThresholds(previous, current, target core.Money, recorded []int) []int {
	if target.Cents <= 0 {
		return nil
	}
	prevPct := previous.Percent(target)
	curPct := current.Percent(target)

	var out []int
	for _, th := range MilestoneThresholds {
		if slices.Contains(recorded, th) {
			continue
		}
		thPct := decimal.NewFromInt(int64(th))
		if prevPct.LessThan(thPct) && thPct.LessThanOrEqual(curPct) {
			out = append(out, th)
		}
	}
	return out
}

// MilestoneDetector notifies savings-goal milestones at most once per
// account and threshold. A threshold is recorded durably before its
// notification goes out; a lost notification is preferred to a repeated one.
type MilestoneDetector struct {
	store    ledger.MilestoneStore
	emitter  notify.Emitter
	recorded *cache.LRUCache[[]int]
}

func NewMilestoneDetector(store ledger.MilestoneStore, emitter notify.Emitter) *MilestoneDetector {
	return &MilestoneDetector{
		store:    store,
		emitter:  emitter,
		recorded: cache.NewLRUCache[[]int](256, 10*time.Minute),
	}
}

// Cache exposes the recorded-threshold cache for registration with a cleanup manager.
func (d *MilestoneDetector) Cache() *cache.LRUCache[[]int] {
	return d.recorded
}

// Check fires the milestones crossed by a balance change and returns the
// thresholds it notified.
func (d *MilestoneDetector) Check(ctx context.Context, account core.Account, previous, current core.Money) ([]int, error) {
	if account.SavingsGoal == nil || !previous.Less(current) {
		return nil, nil
	}

	recorded, err := d.recordedThresholds(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	var fired []int
	for _, th := range CrossedThresholds(previous, current, account.SavingsGoal.TargetAmount, recorded) {
		first, err := d.store.RecordMilestone(ctx, account.ID, th)
		if err != nil {
			return fired, fmt.Errorf("record milestone %d%%: %w", th, err)
		}
		d.remember(account.ID, th)
		if !first {
			// Another writer already recorded and notified it.
			continue
		}

		fired = append(fired, th)
		slog.InfoContext(ctx, "Savings milestone reached",
			"account_id", account.ID,
			"threshold_percent", th,
			"goal", account.SavingsGoal.Name)

		if err := d.emitter.Emit(ctx, milestoneNotification(account, th, current)); err != nil {
			slog.WarnContext(ctx, "Failed to emit milestone notification",
				"account_id", account.ID,
				"threshold_percent", th,
				"error", err)
		}
	}

	return fired, nil
}

func (d *MilestoneDetector) recordedThresholds(ctx context.Context, accountID string) ([]int, error) {
	if cached, ok := d.recorded.Get(accountID); ok {
		return cached, nil
	}
	recorded, err := d.store.RecordedThresholds(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load recorded milestones: %w", err)
	}
	d.recorded.Set(accountID, recorded)
	return recorded, nil
}

func (d *MilestoneDetector) remember(accountID string, threshold int) {
	d.recorded.Update(accountID, func(cur []int, _ bool) []int {
		if slices.Contains(cur, threshold) {
			return cur
		}
		next := append(slices.Clone(cur), threshold)
		slices.Sort(next)
		return next
	})
}
