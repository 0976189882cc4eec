package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dhcgn/receipt-watcher/model"
	"github.com/dhcgn/receipt-watcher/store"
)

func record(id string, status model.Status) model.ProcessedRecord {
	return model.ProcessedRecord{
		MessageID: id,
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Subject:   "Utility Bill",
		Status:    status,
	}
}

func TestMemoryTracker(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker()

	if tracker.HasProcessed(ctx, "a@example.com") {
		t.Fatal("fresh tracker reports processed")
	}
	if err := tracker.MarkProcessed(ctx, record("a@example.com", model.StatusError)); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if !tracker.HasProcessed(ctx, "a@example.com") {
		t.Error("error status must still count as processed")
	}
	if err := tracker.MarkProcessed(ctx, record("", model.StatusSuccess)); err != nil {
		t.Fatalf("MarkProcessed(empty) error = %v", err)
	}
	if got := tracker.Snapshot().Processed; got != 1 {
		t.Errorf("Snapshot().Processed = %d, want 1", got)
	}
}

func TestTableTracker_AppendsOnce(t *testing.T) {
	ctx := context.Background()
	table := store.NewMemoryTable(len(Columns))
	tracker, err := NewTableTracker(table, nil)
	if err != nil {
		t.Fatalf("NewTableTracker() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := tracker.MarkProcessed(ctx, record("bill-1@example.com", model.StatusSuccess)); err != nil {
			t.Fatalf("MarkProcessed() error = %v", err)
		}
	}

	rows, _ := table.Rows(ctx)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	want := []string{"bill-1@example.com", "2024-03-01T10:00:00Z", "Utility Bill", "Success"}
	for i := range want {
		if rows[0][i] != want[i] {
			t.Errorf("row[%d] = %q, want %q", i, rows[0][i], want[i])
		}
	}
}

func TestTableTracker_ReadsExistingRecords(t *testing.T) {
	ctx := context.Background()
	table := store.NewMemoryTable(len(Columns))
	if err := table.AppendRow(ctx, record("old@example.com", model.StatusError).Values()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tracker, _ := NewTableTracker(table, nil)
	if !tracker.HasProcessed(ctx, "old@example.com") {
		t.Error("record written earlier not found")
	}
	if tracker.HasProcessed(ctx, "new@example.com") {
		t.Error("unknown id reported as processed")
	}
}

type brokenTable struct{ appendErr error }

func (b brokenTable) AppendRow(context.Context, []any) error { return b.appendErr }
func (b brokenTable) Rows(context.Context) ([][]string, error) {
	return nil, errors.New("store unreachable")
}

func TestTableTracker_FailsOpen(t *testing.T) {
	ctx := context.Background()
	tracker, _ := NewTableTracker(brokenTable{appendErr: errors.New("store unreachable")}, nil)

	if tracker.HasProcessed(ctx, "a@example.com") {
		t.Error("read failure must report unprocessed")
	}

	err := tracker.MarkProcessed(ctx, record("a@example.com", model.StatusSuccess))
	var persistErr *model.PersistenceError
	if !errors.As(err, &persistErr) {
		t.Errorf("error = %v, want *model.PersistenceError", err)
	}
}
