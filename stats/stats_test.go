package stats

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCollector_Record(t *testing.T) {
	c := NewCollector()
	c.Record(Event{Type: EventTypeScanned})
	c.Record(Event{Type: EventTypeScanned})
	c.Record(Event{Type: EventTypeDuplicate})
	c.Record(Event{Type: EventTypeProcessed})
	c.Record(Event{Type: EventTypeRowsAdded, Count: 3})
	c.Record(Event{Type: EventTypeItemErrors, Count: 1})
	c.Record(Event{Type: EventTypeError, Err: errors.New("boom")})

	got := c.Snapshot()
	if got.Scanned != 2 || got.Duplicates != 1 || got.Processed != 1 || got.RowsAdded != 3 || got.ItemErrors != 1 || got.Errors != 1 {
		t.Errorf("Snapshot() = %+v", got)
	}
	if got.LastError == nil || got.LastError.Error() != "boom" {
		t.Errorf("LastError = %v", got.LastError)
	}
}

func TestReporter_ScanLogsDelta(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := NewCollector()
	c.Record(Event{Type: EventTypeScanned})

	r := NewReporter(c, logger)
	done := r.Scan()
	c.Record(Event{Type: EventTypeScanned})
	c.Record(Event{Type: EventTypeRowsAdded, Count: 2})
	done()

	out := buf.String()
	if !strings.Contains(out, "scan summary") || !strings.Contains(out, "scanned=1") || !strings.Contains(out, "rowsAdded=2") {
		t.Errorf("log = %s", out)
	}
}

func TestPrettyPrintTop(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrintTop(&buf, map[string]int{"Utilities": 3, "Rent": 5, "Repairs": 3, "Tax": 1}, 3)
	want := "1. Rent (5)\n2. Repairs (3)\n3. Utilities (3)\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}
