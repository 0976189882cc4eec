package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect struct {
	driver      string
	placeholder func(n int) string
	realType    string
}

var (
	dialectSQLite = dialect{
		driver:      "sqlite",
		placeholder: func(int) string { return "?" },
		realType:    "REAL",
	}
	dialectPostgres = dialect{
		driver:      "postgres",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		realType:    "DOUBLE PRECISION",
	}
)

// SQLStore keeps each table as a SQL table with an auto-increment key that
// preserves append order.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func openSQL(ctx context.Context, d dialect, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s dsn is empty", d.driver)
	}
	if d.driver == "sqlite" && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}
	if d.driver == "sqlite" {
		// one connection, so ":memory:" is a single database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.driver, err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) Table(ctx context.Context, name string, columns []Column) (Table, error) {
	if err := validateTable(name, columns); err != nil {
		return nil, err
	}

	key := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect.driver == "postgres" {
		key = "id BIGSERIAL PRIMARY KEY"
	}
	defs := []string{key}
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		typ := "TEXT"
		if c.Kind == Real {
			typ = s.dialect.realType
		}
		defs = append(defs, c.Name+" "+typ)
		names = append(names, c.Name)
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", name, err)
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = s.dialect.placeholder(i + 1)
	}

	return &sqlTable{
		db:      s.db,
		columns: len(columns),
		insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			name, strings.Join(names, ", "), strings.Join(placeholders, ", ")),
		selectAll: fmt.Sprintf("SELECT %s FROM %s ORDER BY id", strings.Join(names, ", "), name),
	}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlTable struct {
	db        *sql.DB
	columns   int
	insert    string
	selectAll string
}

func (t *sqlTable) AppendRow(ctx context.Context, row []any) error {
	if len(row) != t.columns {
		return fmt.Errorf("row has %d values, table has %d columns", len(row), t.columns)
	}
	if _, err := t.db.ExecContext(ctx, t.insert, row...); err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	return nil
}

func (t *sqlTable) Rows(ctx context.Context) ([][]string, error) {
	rows, err := t.db.QueryContext(ctx, t.selectAll)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var out [][]string
	values := make([]any, t.columns)
	ptrs := make([]any, t.columns)
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		record := make([]string, t.columns)
		for i, v := range values {
			record[i] = FormatValue(v)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return out, nil
}
