// Package notify carries user-facing notifications out of the ledger core.
// Delivery, persistence and preference filtering belong to the Emitter.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

type Type string

const (
	AllowanceReceived  Type = "allowance_received"
	TransferReceived   Type = "transfer_received"
	TransactionAdded   Type = "transaction_added"
	TransactionUpdated Type = "transaction_updated"
	TransactionDeleted Type = "transaction_deleted"
	SavingsMilestone   Type = "savings_milestone"
)

type Notification struct {
	Type      Type              `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	AccountID string            `json:"account_id"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Emitter accepts a notification for delivery. Callers treat errors as non-fatal.
type Emitter interface {
	Emit(ctx context.Context, n Notification) error
}

func (n Notification) ToJSON() ([]byte, error) {
	return json.Marshal(n)
}

func FromJSON(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// LogEmitter writes notifications to the structured log. It is used when no
// broker is configured.
type LogEmitter struct{}

func (LogEmitter) Emit(ctx context.Context, n Notification) error {
	slog.InfoContext(ctx, "Notification",
		"type", n.Type,
		"account_id", n.AccountID,
		"title", n.Title,
		"message", n.Message)
	return nil
}

// Recorder keeps every emitted notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

// FailWith makes subsequent Emit calls return err after recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Emit(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// OfType filters the recorded notifications.
func (r *Recorder) OfType(t Type) []Notification {
	var out []Notification
	for _, n := range r.Sent() {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}
