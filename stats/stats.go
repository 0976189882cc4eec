package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type EventType string

const (
	EventTypeScanned    EventType = "scanned"
	EventTypeDuplicate  EventType = "duplicate"
	EventTypeFiltered   EventType = "filtered"
	EventTypeProcessed  EventType = "processed"
	EventTypeRowsAdded  EventType = "rows_added"
	EventTypeItemErrors EventType = "item_errors"
	EventTypeError      EventType = "error"
)

type Event struct {
	Type      EventType
	MessageID string
	// Count is used by the row and item-error events.
	Count int
	Err   error
}

type Summary struct {
	Scanned    int
	Duplicates int
	Filtered   int
	Processed  int
	RowsAdded  int
	ItemErrors int
	Errors     int
	LastError  error
}

// Sub returns the counters accumulated since earlier.
func (s Summary) Sub(earlier Summary) Summary {
	return Summary{
		Scanned:    s.Scanned - earlier.Scanned,
		Duplicates: s.Duplicates - earlier.Duplicates,
		Filtered:   s.Filtered - earlier.Filtered,
		Processed:  s.Processed - earlier.Processed,
		RowsAdded:  s.RowsAdded - earlier.RowsAdded,
		ItemErrors: s.ItemErrors - earlier.ItemErrors,
		Errors:     s.Errors - earlier.Errors,
		LastError:  s.LastError,
	}
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"duplicates", s.Duplicates,
		"filtered", s.Filtered,
		"processed", s.Processed,
		"rowsAdded", s.RowsAdded,
		"itemErrors", s.ItemErrors,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Record(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeProcessed:
		c.summary.Processed++
	case EventTypeRowsAdded:
		c.summary.RowsAdded += evt.Count
	case EventTypeItemErrors:
		c.summary.ItemErrors += evt.Count
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Reporter logs a summary after each scan.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(collector *Collector, logger *slog.Logger) *Reporter {
	return &Reporter{collector: collector, logger: logger, started: time.Now()}
}

// Scan returns a function that logs what happened between the call to Scan
// and the call of the returned function.
func (r *Reporter) Scan() func() {
	before := r.collector.Snapshot()
	start := time.Now()
	return func() {
		if r.logger == nil {
			return
		}
		total := r.collector.Snapshot()
		delta := total.Sub(before)
		attrs := append(delta.LogAttrs(),
			"duration", time.Since(start),
			"totalProcessed", total.Processed,
			"totalRowsAdded", total.RowsAdded,
			"uptime", time.Since(r.started).Round(time.Second),
		)
		if delta.Scanned == 0 {
			r.logger.Debug("scan summary", attrs...)
			return
		}
		r.logger.Info("scan summary", attrs...)
	}
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map, ties in
// key order.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
