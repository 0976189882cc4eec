// Package ledger validates extracted line items and appends them to the
// ledger table.
package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeebo/blake3"

	"github.com/dhcgn/receipt-watcher/model"
	"github.com/dhcgn/receipt-watcher/store"
)

const (
	// DateLayout is the normalized ledger date format.
	DateLayout = "2006-01-02"
	// StoreErrorPrefix starts the aggregate entry Append adds when the
	// store fails.
	StoreErrorPrefix = "General error updating ledger"
)

// Columns returns the ledger schema. withHash adds the row_hash column.
func Columns(withHash bool) []store.Column {
	cols := []store.Column{
		{Name: "date"},
		{Name: "description"},
		{Name: "amount", Kind: store.Real},
		{Name: "category"},
		{Name: "property"},
	}
	if withHash {
		cols = append(cols, store.Column{Name: "row_hash"})
	}
	return cols
}

type Options struct {
	// DateFormats are tried in order; the first that parses wins. Empty
	// means DateLayout only.
	DateFormats []string
	// RowHash stores a content hash per row and skips rows whose hash is
	// already present, making re-appends after a crash idempotent.
	RowHash bool
}

type Writer struct {
	table   store.Table
	formats []string
	rowHash bool
	logger  *slog.Logger

	mu     sync.Mutex
	hashes map[string]struct{}
}

func NewWriter(table store.Table, opts Options, logger *slog.Logger) *Writer {
	formats := opts.DateFormats
	if len(formats) == 0 {
		formats = []string{DateLayout}
	}
	return &Writer{
		table:   table,
		formats: formats,
		rowHash: opts.RowHash,
		logger:  logger,
	}
}

// Append validates each item independently and appends the valid ones in
// order. Invalid items produce one entry in errs and do not affect their
// siblings. A store failure stops the remaining items and adds a single
// aggregate entry.
func (w *Writer) Append(ctx context.Context, messageID string, items []model.LineItem) (added []model.LedgerRow, errs []string) {
	for i, item := range items {
		row, err := w.Validate(item)
		if err != nil {
			if w.logger != nil {
				w.logger.Warn("line item rejected", "messageID", messageID, "err", err)
			}
			errs = append(errs, err.Error())
			continue
		}

		appended, err := w.appendRow(ctx, messageID, i, row)
		if err != nil {
			if w.logger != nil {
				w.logger.Error("ledger append failed", "messageID", messageID, "err", err)
			}
			errs = append(errs, fmt.Sprintf("%s: %v", StoreErrorPrefix, err))
			return added, errs
		}
		if appended {
			added = append(added, row)
		}
	}
	return added, errs
}

// Validate turns an item into a ledger row or returns a
// *model.ValidationError.
func (w *Writer) Validate(item model.LineItem) (model.LedgerRow, error) {
	date, err := w.normalizeDate(item.Date)
	if err != nil {
		return model.LedgerRow{}, &model.ValidationError{Field: "date", Value: item.Date, Item: describe(item), Err: err}
	}
	amount, err := ParseAmount(item.Amount)
	if err != nil {
		return model.LedgerRow{}, &model.ValidationError{Field: "amount", Value: item.Amount, Item: describe(item), Err: err}
	}
	return model.LedgerRow{
		Date:        date,
		Description: item.Description,
		Amount:      amount,
		Category:    item.Category,
		Property:    item.Property,
	}, nil
}

func (w *Writer) normalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	var lastErr error
	for _, layout := range w.formats {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.Format(DateLayout), nil
		}
		lastErr = err
	}
	if len(w.formats) > 1 {
		return "", fmt.Errorf("matches none of %d accepted formats", len(w.formats))
	}
	return "", lastErr
}

// ParseAmount coerces a textual amount to a float rounded to cents.
func ParseAmount(value string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	f, _ := d.Round(2).Float64()
	return f, nil
}

func (w *Writer) appendRow(ctx context.Context, messageID string, position int, row model.LedgerRow) (bool, error) {
	values := row.Values()
	if !w.rowHash {
		if err := w.table.AppendRow(ctx, values); err != nil {
			return false, &model.PersistenceError{Op: "append ledger row", Err: err}
		}
		return true, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.loadHashes(ctx); err != nil {
		return false, &model.PersistenceError{Op: "read ledger hashes", Err: err}
	}
	hash := RowHash(messageID, position, row)
	if _, ok := w.hashes[hash]; ok {
		if w.logger != nil {
			w.logger.Info("ledger row already present, skipped", "messageID", messageID, "description", row.Description)
		}
		return false, nil
	}
	if err := w.table.AppendRow(ctx, append(values, hash)); err != nil {
		return false, &model.PersistenceError{Op: "append ledger row", Err: err}
	}
	w.hashes[hash] = struct{}{}
	return true, nil
}

func (w *Writer) loadHashes(ctx context.Context) error {
	if w.hashes != nil {
		return nil
	}
	rows, err := w.table.Rows(ctx)
	if err != nil {
		return err
	}
	w.hashes = make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if len(r) > 5 && r[5] != "" {
			w.hashes[r[5]] = struct{}{}
		}
	}
	return nil
}

// RowHash is the blake3 content hash of a row, the message it came from and
// its position among that message's items. Identical items of one message
// hash differently.
func RowHash(messageID string, position int, row model.LedgerRow) string {
	h := blake3.New()
	for _, field := range []string{
		messageID,
		strconv.Itoa(position),
		row.Date,
		row.Description,
		store.FormatValue(row.Amount),
		row.Category,
		row.Property,
	} {
		_, _ = h.Write([]byte(field))
		_, _ = h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func describe(item model.LineItem) string {
	if item.Raw != "" {
		return item.Raw
	}
	return fmt.Sprintf("{date:%s description:%s amount:%s category:%s property:%s}",
		item.Date, item.Description, item.Amount, item.Category, item.Property)
}
