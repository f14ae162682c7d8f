package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	buf.Reset()
	return rec
}

func TestLogger_StampsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentReconciler, JSON: true, Output: &buf})

	logger.InfoContext(context.Background(), "Snapshot published", FieldFamilyID, "fam-1")
	rec := decodeLine(t, &buf)
	if rec[FieldComponent] != ComponentReconciler || rec[FieldFamilyID] != "fam-1" {
		t.Errorf("record = %v", rec)
	}

	logger.WithComponent(ComponentWorker).WithFamily("fam-2").WarnContext(context.Background(), "Slow")
	rec = decodeLine(t, &buf)
	if rec[FieldComponent] != ComponentWorker || rec[FieldFamilyID] != "fam-2" || rec["level"] != "WARN" {
		t.Errorf("record = %v", rec)
	}
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, JSON: true, Output: &buf})

	logger.InfoContext(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Errorf("info written at warn level: %s", buf.String())
	}
	if logger.Component() != ComponentApp {
		t.Errorf("Component() = %q, want default %q", logger.Component(), ComponentApp)
	}
}

func TestLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Component: ComponentTransfer, JSON: true, Output: &buf})

	logger.LogError(context.Background(), "Transfer failed", errors.New("boom"), OpTransfer,
		NewFields().WithAccount("acc-1").WithAmount(500))
	rec := decodeLine(t, &buf)

	if rec[FieldError] != "boom" || rec[FieldOperation] != OpTransfer || rec[FieldAccountID] != "acc-1" {
		t.Errorf("record = %v", rec)
	}
	if rec[FieldAmountCents] != float64(500) {
		t.Errorf("amount = %v", rec[FieldAmountCents])
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got.Component() != "unknown" || got.Logger == nil {
		t.Errorf("fallback logger = %+v", got)
	}

	logger := New(Config{Component: ComponentAMQP})
	ctx := NewContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("FromContext did not return the stored logger")
	}
}
