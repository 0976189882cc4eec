// Package store provides the append-only tables behind the ledger and the
// dedup tracker. A DSN selects the backend:
//
//	sqlite:<path>       modernc.org/sqlite (":memory:" allowed)
//	postgres://...      lib/pq
//	jsonl:<dir>         one JSON-lines file per table
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidTable is returned for table names that are not plain identifiers.
var ErrInvalidTable = errors.New("invalid table name")

// ColumnKind is the storage type of a column.
type ColumnKind int

const (
	Text ColumnKind = iota
	Real
)

// Column describes one column of a table, in row order.
type Column struct {
	Name string
	Kind ColumnKind
}

// Table is an append-only sequence of rows.
type Table interface {
	// AppendRow appends one row. Values are in column order.
	AppendRow(ctx context.Context, row []any) error
	// Rows returns every row, oldest first, formatted as strings.
	Rows(ctx context.Context) ([][]string, error)
}

// Store hands out tables by name, creating them on first use.
type Store interface {
	Table(ctx context.Context, name string, columns []Column) (Table, error)
	Close() error
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateTable(name string, columns []Column) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	if len(columns) == 0 {
		return fmt.Errorf("table %s has no columns", name)
	}
	for _, c := range columns {
		if !identifier.MatchString(c.Name) {
			return fmt.Errorf("%w: column %q", ErrInvalidTable, c.Name)
		}
	}
	return nil
}

// Open opens the store named by dsn.
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return openSQL(ctx, dialectSQLite, strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return openSQL(ctx, dialectPostgres, dsn)
	case strings.HasPrefix(dsn, "jsonl:"):
		return OpenJSONL(strings.TrimPrefix(dsn, "jsonl:"))
	case dsn == "":
		return nil, fmt.Errorf("store dsn is empty")
	default:
		return nil, fmt.Errorf("unsupported store dsn %q", dsn)
	}
}

// FormatValue renders a row value the way Rows reports it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return fmt.Sprintf("%.2f", x)
	case float32:
		return fmt.Sprintf("%.2f", x)
	default:
		return fmt.Sprint(x)
	}
}
