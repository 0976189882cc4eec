package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// JSONLStore keeps every table in <dir>/<name>.jsonl, one JSON object per
// row keyed by column name.
type JSONLStore struct {
	dir string

	mu     sync.Mutex
	tables map[string]*jsonlTable
}

// OpenJSONL creates dir if needed.
func OpenJSONL(dir string) (*JSONLStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("jsonl directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create jsonl directory: %w", err)
	}
	return &JSONLStore{dir: dir, tables: make(map[string]*jsonlTable)}, nil
}

func (s *JSONLStore) Table(_ context.Context, name string, columns []Column) (Table, error) {
	if err := validateTable(name, columns); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return t, nil
	}

	t := &jsonlTable{
		path:    filepath.Join(s.dir, name+".jsonl"),
		columns: columns,
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s for append: %w", t.path, err)
	}
	t.file = file
	t.writer = bufio.NewWriter(file)
	s.tables[name] = t
	return t, nil
}

// Close flushes and closes every table file.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, t := range s.tables {
		if err := t.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.tables, name)
	}
	return firstErr
}

type jsonlTable struct {
	path    string
	columns []Column

	mu     sync.Mutex
	rows   [][]string
	file   *os.File
	writer *bufio.Writer
}

func (t *jsonlTable) load() error {
	file, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", t.path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record map[string]any
		if err := json.Unmarshal(text, &record); err != nil {
			return fmt.Errorf("parse %s line %d: %w", t.path, line, err)
		}
		row := make([]string, len(t.columns))
		for i, c := range t.columns {
			row[i] = FormatValue(record[c.Name])
		}
		t.rows = append(t.rows, row)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", t.path, err)
	}
	return nil
}

func (t *jsonlTable) AppendRow(_ context.Context, row []any) error {
	if len(row) != len(t.columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(row), len(t.columns))
	}

	record := make(map[string]any, len(row))
	formatted := make([]string, len(row))
	for i, c := range t.columns {
		record[c.Name] = row[i]
		formatted[i] = FormatValue(row[i])
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer == nil {
		return fmt.Errorf("%s is closed", t.path)
	}

	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	// rows are durable once AppendRow returns
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", t.path, err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", t.path, err)
	}

	t.rows = append(t.rows, formatted)
	return nil
}

func (t *jsonlTable) Rows(context.Context) ([][]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]string, len(t.rows))
	copy(out, t.rows)
	return out, nil
}

func (t *jsonlTable) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}

	var firstErr error
	if err := t.writer.Flush(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("flush %s: %w", t.path, err)
	}
	if err := t.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close %s: %w", t.path, err)
	}
	t.file = nil
	t.writer = nil
	return firstErr
}
