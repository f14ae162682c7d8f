// Package realtime carries ledger change events from the store to the
// reconciliation loader, and coalesces bursts of them into single reloads.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TableAccounts     Table = "accounts"
	TableTransactions Table = "transactions"
)

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type (
	Table string
	Op    string

	// ChangeEvent describes one committed row change in a family's ledger.
	ChangeEvent struct {
		FamilyID string    `json:"family_id"`
		Table    Table     `json:"table"`
		Op       Op        `json:"op"`
		RowID    string    `json:"row_id"`
		At       time.Time `json:"at"`
	}

	Publisher interface {
		PublishChange(ctx context.Context, ev ChangeEvent) error
	}

	// Subscriber streams the change events of one family. The channel is
	// closed when ctx is cancelled or the underlying stream ends.
	Subscriber interface {
		Subscribe(ctx context.Context, familyID string) (<-chan ChangeEvent, error)
	}
)

// NewChangeEvent stamps an event with the current time.
func NewChangeEvent(familyID string, table Table, op Op, rowID string) ChangeEvent {
	return ChangeEvent{
		FamilyID: familyID,
		Table:    table,
		Op:       op,
		RowID:    rowID,
		At:       time.Now(),
	}
}

func (e ChangeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func ChangeEventFromJSON(data []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("unmarshal change event: %w", err)
	}
	return ev, nil
}

// Watched reports whether the loader cares about changes to this table.
func (t Table) Watched() bool {
	return t == TableAccounts || t == TableTransactions
}
