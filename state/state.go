// Package state records which messages were fully attempted so that
// re-scans are idempotent.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dhcgn/receipt-watcher/model"
	"github.com/dhcgn/receipt-watcher/store"
)

// Columns is the processed-record schema.
var Columns = []store.Column{
	{Name: "message_id"},
	{Name: "timestamp"},
	{Name: "subject"},
	{Name: "status"},
}

type Tracker interface {
	HasProcessed(ctx context.Context, messageID string) bool
	MarkProcessed(ctx context.Context, record model.ProcessedRecord) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Processed int
}

// MemoryTracker keeps processed ids for the lifetime of the process.
type MemoryTracker struct {
	mu        sync.RWMutex
	processed map[string]model.Status
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{processed: make(map[string]model.Status)}
}

func (m *MemoryTracker) HasProcessed(_ context.Context, messageID string) bool {
	if messageID == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.processed[messageID]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkProcessed(_ context.Context, record model.ProcessedRecord) error {
	if record.MessageID == "" {
		return nil
	}

	m.mu.Lock()
	m.processed[record.MessageID] = record.Status
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.processed)
	m.mu.RUnlock()
	return Snapshot{Processed: count}
}

// TableTracker persists records in an append-only table. Membership is
// answered by scanning the table, so records written by another process
// are honoured. A failed scan fails open: the message is reported as
// unprocessed and a warning is logged.
type TableTracker struct {
	*MemoryTracker
	table  store.Table
	logger *slog.Logger

	writeMu sync.Mutex
}

func NewTableTracker(table store.Table, logger *slog.Logger) (*TableTracker, error) {
	if table == nil {
		return nil, fmt.Errorf("processed table is nil")
	}
	return &TableTracker{
		MemoryTracker: NewMemoryTracker(),
		table:         table,
		logger:        logger,
	}, nil
}

func (t *TableTracker) HasProcessed(ctx context.Context, messageID string) bool {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return false
	}
	if t.MemoryTracker.HasProcessed(ctx, messageID) {
		return true
	}

	rows, err := t.table.Rows(ctx)
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("dedup lookup failed, treating message as unprocessed",
				"messageID", messageID, "err", err)
		}
		return false
	}

	found := false
	t.mu.Lock()
	for _, row := range rows {
		if len(row) == 0 || row[0] == "" {
			continue
		}
		if _, ok := t.processed[row[0]]; !ok {
			status := model.StatusSuccess
			if len(row) > 3 {
				status = model.Status(row[3])
			}
			t.processed[row[0]] = status
		}
		if row[0] == messageID {
			found = true
		}
	}
	t.mu.Unlock()
	return found
}

// MarkProcessed appends a record unless one already exists for the id.
func (t *TableTracker) MarkProcessed(ctx context.Context, record model.ProcessedRecord) error {
	if strings.TrimSpace(record.MessageID) == "" {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.MemoryTracker.HasProcessed(ctx, record.MessageID) {
		return nil
	}
	if err := t.table.AppendRow(ctx, record.Values()); err != nil {
		return &model.PersistenceError{Op: "mark processed", Err: err}
	}
	return t.MemoryTracker.MarkProcessed(ctx, record)
}
