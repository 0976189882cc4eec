package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps tables in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]*MemoryTable
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*MemoryTable)}
}

func (s *MemoryStore) Table(_ context.Context, name string, columns []Column) (Table, error) {
	if err := validateTable(name, columns); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = NewMemoryTable(len(columns))
		s.tables[name] = t
	}
	return t, nil
}

func (s *MemoryStore) Close() error { return nil }

// MemoryTable is an in-memory Table.
type MemoryTable struct {
	columns int

	mu   sync.Mutex
	rows [][]string
}

func NewMemoryTable(columns int) *MemoryTable {
	return &MemoryTable{columns: columns}
}

func (t *MemoryTable) AppendRow(_ context.Context, row []any) error {
	if len(row) != t.columns {
		return fmt.Errorf("row has %d values, table has %d columns", len(row), t.columns)
	}
	formatted := make([]string, len(row))
	for i, v := range row {
		formatted[i] = FormatValue(v)
	}
	t.mu.Lock()
	t.rows = append(t.rows, formatted)
	t.mu.Unlock()
	return nil
}

func (t *MemoryTable) Rows(context.Context) ([][]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]string, len(t.rows))
	copy(out, t.rows)
	return out, nil
}
