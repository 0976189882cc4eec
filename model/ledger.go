package model

import "time"

// LineItem is one transaction as returned by the reasoning service. Values
// are kept verbatim; the ledger writer validates and normalizes them.
type LineItem struct {
	Date        string
	Description string
	// Amount is the textual amount, negative for expenses and positive for
	// income.
	Amount   string
	Category string
	Property string

	// Raw is the compact JSON object the item was read from.
	Raw string
}

// LedgerRow is a validated line item as persisted in the ledger.
type LedgerRow struct {
	Date        string // YYYY-MM-DD
	Description string
	Amount      float64
	Category    string
	Property    string
}

// Values returns the row in ledger column order.
func (r LedgerRow) Values() []any {
	return []any{r.Date, r.Description, r.Amount, r.Category, r.Property}
}

type Status string

const (
	StatusSuccess Status = "Success"
	StatusError   Status = "Error"
)

// ProcessedRecord marks a message id as fully attempted.
type ProcessedRecord struct {
	MessageID string
	Timestamp time.Time
	Subject   string
	Status    Status
}

// Values returns the record in processed-table column order.
func (r ProcessedRecord) Values() []any {
	return []any{r.MessageID, r.Timestamp.UTC().Format(time.RFC3339), r.Subject, string(r.Status)}
}
