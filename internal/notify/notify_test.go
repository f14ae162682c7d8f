package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNotification_JSON(t *testing.T) {
	n := Notification{
		Type:      SavingsMilestone,
		Title:     "Halfway there!",
		Message:   "Ada reached 50% of Bike",
		AccountID: "acc-1",
		Data:      map[string]string{"threshold": "50"},
		CreatedAt: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}

	body, err := n.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	got, err := FromJSON(body)
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	if got.Type != n.Type || got.AccountID != n.AccountID || got.Data["threshold"] != "50" {
		t.Errorf("round trip = %+v", got)
	}
	if !got.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, n.CreatedAt)
	}
}

func TestFromJSON_Invalid(t *testing.T) {
	if _, err := FromJSON([]byte(`{"type": 3}`)); err == nil {
		t.Error("FromJSON() should fail on a non-string type")
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	ctx := context.Background()

	_ = r.Emit(ctx, Notification{Type: TransactionAdded})
	r.FailWith(errors.New("offline"))
	if err := r.Emit(ctx, Notification{Type: TransferReceived}); err == nil {
		t.Error("expected configured failure")
	}

	if len(r.Sent()) != 2 {
		t.Fatalf("Sent() = %d notifications, want 2", len(r.Sent()))
	}
	if got := r.OfType(TransferReceived); len(got) != 1 {
		t.Errorf("OfType(TransferReceived) = %d, want 1", len(got))
	}
}
