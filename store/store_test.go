package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

var ledgerColumns = []Column{
	{Name: "date"},
	{Name: "description"},
	{Name: "amount", Kind: Real},
	{Name: "category"},
	{Name: "property"},
}

func exerciseTable(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	table, err := s.Table(ctx, "ledger", ledgerColumns)
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	if err := table.AppendRow(ctx, []any{"2024-03-01", "Electricity", -120.0, "Utilities", ""}); err != nil {
		t.Fatalf("AppendRow() error = %v", err)
	}
	if err := table.AppendRow(ctx, []any{"2024-03-02", "Rent", 950.5, "Income", "Flat 2"}); err != nil {
		t.Fatalf("AppendRow() error = %v", err)
	}
	if err := table.AppendRow(ctx, []any{"short"}); err == nil {
		t.Errorf("AppendRow() with wrong arity should fail")
	}

	rows, err := table.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	want := [][]string{
		{"2024-03-01", "Electricity", "-120.00", "Utilities", ""},
		{"2024-03-02", "Rent", "950.50", "Income", "Flat 2"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("Rows() = %v, want %v", rows, want)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := Open(context.Background(), "sqlite::memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	exerciseTable(t, s)
}

func TestMemoryStore(t *testing.T) {
	exerciseTable(t, NewMemoryStore())
}

func TestJSONLStore_Reload(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), "jsonl:"+dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	exerciseTable(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenJSONL(dir)
	if err != nil {
		t.Fatalf("OpenJSONL() error = %v", err)
	}
	defer reopened.Close()

	table, err := reopened.Table(context.Background(), "ledger", ledgerColumns)
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	rows, err := table.Rows(context.Background())
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if len(rows) != 2 || rows[1][2] != "950.50" || rows[1][4] != "Flat 2" {
		t.Errorf("reloaded rows = %v", rows)
	}
	if _, err := os.Stat(filepath.Join(dir, "ledger.jsonl")); err != nil {
		t.Errorf("ledger file missing: %v", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
	}{
		{"empty", ""},
		{"unknown scheme", "mysql://localhost/db"},
		{"empty jsonl dir", "jsonl:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(context.Background(), tt.dsn); err == nil {
				t.Errorf("Open(%q) should fail", tt.dsn)
			}
		})
	}
}

func TestTable_InvalidName(t *testing.T) {
	_, err := NewMemoryStore().Table(context.Background(), "ledger; DROP TABLE x", ledgerColumns)
	if !errors.Is(err, ErrInvalidTable) {
		t.Errorf("error = %v, want ErrInvalidTable", err)
	}
}
