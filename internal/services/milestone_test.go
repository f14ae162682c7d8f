package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"kidbank/internal/core"
	"kidbank/internal/ledger/memory"
	"kidbank/internal/notify"
)

func dollars(d int64) core.Money { return core.Money{Cents: d * 100} }

func TestCrossedThresholds(t *testing.T) {
	target := dollars(100)
	tests := []struct {
		name     string
		prev     core.Money
		cur      core.Money
		recorded []int
		want     []int
	}{
		{"no movement", dollars(30), dollars(30), nil, nil},
		{"single crossing", dollars(20), dollars(30), nil, []int{25}},
		{"exactly on threshold", dollars(49), dollars(50), nil, []int{50}},
		{"starting on threshold", dollars(50), dollars(60), nil, nil},
		{"several at once", dollars(0), dollars(80), nil, []int{25, 50, 75}},
		{"recorded skipped", dollars(0), dollars(80), []int{25, 75}, []int{50}},
		{"past the goal", dollars(90), dollars(150), nil, []int{100}},
		{"decrease", dollars(80), dollars(10), nil, nil},
		{"negative start", core.Money{Cents: -500}, dollars(26), nil, []int{25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CrossedThresholds(tt.prev, tt.cur, target, tt.recorded)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CrossedThresholds() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := CrossedThresholds(dollars(0), dollars(10), core.Money{}, nil); got != nil {
		t.Errorf("zero target crossed %v", got)
	}
}

func TestMilestoneDetector_SavingsScenario(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(nil)
	goal := &core.SavingsGoal{Name: "Bike", TargetAmount: dollars(100)}
	a := seedAccount(t, mem, "Ada", 0, goal)
	for _, th := range []int{25, 50, 75} {
		_, _ = mem.RecordMilestone(ctx, a.ID, th)
	}

	rec := &notify.Recorder{}
	d := NewMilestoneDetector(mem, rec)

	fired, err := d.Check(ctx, a, dollars(70), dollars(80))
	if err != nil || len(fired) != 0 {
		t.Fatalf("70->80 fired %v, err %v", fired, err)
	}

	fired, err = d.Check(ctx, a, dollars(70), dollars(100))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !reflect.DeepEqual(fired, []int{100}) {
		t.Fatalf("70->100 fired %v, want [100]", fired)
	}

	// Overlapping retries must not notify again.
	for i := 0; i < 3; i++ {
		fired, _ = d.Check(ctx, a, dollars(70), dollars(100))
		if len(fired) != 0 {
			t.Fatalf("retry %d fired %v", i, fired)
		}
	}

	sent := rec.OfType(notify.SavingsMilestone)
	if len(sent) != 1 {
		t.Fatalf("milestone notifications = %d, want 1", len(sent))
	}
	if sent[0].Title != "Savings goal reached!" || sent[0].Data["threshold"] != "100" {
		t.Errorf("unexpected notification %+v", sent[0])
	}
}

func TestMilestoneDetector_FreshDetectorRespectsStore(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(nil)
	a := seedAccount(t, mem, "Ada", 0, &core.SavingsGoal{Name: "Bike", TargetAmount: dollars(100)})

	rec := &notify.Recorder{}
	if fired, _ := NewMilestoneDetector(mem, rec).Check(ctx, a, dollars(0), dollars(30)); len(fired) != 1 {
		t.Fatalf("first detector fired %v", fired)
	}
	// A second detector with a cold cache shares the durable records.
	if fired, _ := NewMilestoneDetector(mem, rec).Check(ctx, a, dollars(0), dollars(30)); len(fired) != 0 {
		t.Fatalf("second detector fired %v", fired)
	}
	if n := len(rec.Sent()); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestMilestoneDetector_RecordsEvenWhenEmitFails(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(nil)
	a := seedAccount(t, mem, "Ada", 0, &core.SavingsGoal{Name: "Bike", TargetAmount: dollars(100)})

	rec := &notify.Recorder{}
	rec.FailWith(errors.New("push service down"))
	d := NewMilestoneDetector(mem, rec)

	fired, err := d.Check(ctx, a, dollars(0), dollars(50))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(fired) != 2 {
		t.Fatalf("fired %v, want [25 50]", fired)
	}
	recorded, _ := mem.RecordedThresholds(ctx, a.ID)
	if !reflect.DeepEqual(recorded, []int{25, 50}) {
		t.Errorf("recorded = %v", recorded)
	}
}

func TestMilestoneDetector_NoGoal(t *testing.T) {
	mem := memory.New(nil)
	a := seedAccount(t, mem, "Ada", 0, nil)
	rec := &notify.Recorder{}

	fired, err := NewMilestoneDetector(mem, rec).Check(context.Background(), a, dollars(0), dollars(1000))
	if err != nil || fired != nil {
		t.Fatalf("Check() = %v, %v", fired, err)
	}
}
