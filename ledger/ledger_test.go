package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dhcgn/receipt-watcher/model"
	"github.com/dhcgn/receipt-watcher/store"
)

func item(date, desc, amount string) model.LineItem {
	return model.LineItem{Date: date, Description: desc, Amount: amount, Category: "Utilities"}
}

func TestAppend_PartialFailureIsolation(t *testing.T) {
	table := store.NewMemoryTable(5)
	w := NewWriter(table, Options{}, nil)

	added, errs := w.Append(context.Background(), "m1", []model.LineItem{
		item("2024-03-01", "Electricity", "-120.00"),
		item("2024-03-02", "Water", "twelve"),
		item("2024-03-03", "Gas", "-45.5"),
	})

	if len(added) != 2 || len(errs) != 1 {
		t.Fatalf("added = %d, errs = %d, want 2 and 1", len(added), len(errs))
	}
	if added[0].Description != "Electricity" || added[1].Description != "Gas" {
		t.Errorf("order not preserved: %+v", added)
	}
	if added[1].Amount != -45.5 {
		t.Errorf("amount = %v, want -45.5", added[1].Amount)
	}
	if !strings.HasPrefix(errs[0], "Error adding item") || !strings.Contains(errs[0], "twelve") {
		t.Errorf("error entry = %q", errs[0])
	}

	rows, _ := table.Rows(context.Background())
	if len(rows) != 2 {
		t.Errorf("stored rows = %d, want 2", len(rows))
	}
}

func TestValidate_Dates(t *testing.T) {
	tests := []struct {
		name    string
		formats []string
		date    string
		want    string
		wantErr bool
	}{
		{"strict iso", nil, "2024-03-01", "2024-03-01", false},
		{"strict rejects german", nil, "01.03.2024", "", true},
		{"strict rejects garbage", nil, "next tuesday", "", true},
		{"alternate german", []string{"2006-01-02", "02.01.2006", "01/02/2006"}, "01.03.2024", "2024-03-01", false},
		{"alternate us", []string{"2006-01-02", "02.01.2006", "01/02/2006"}, "03/01/2024", "2024-03-01", false},
		{"first match wins", []string{"02/01/2006", "01/02/2006"}, "03/01/2024", "2024-01-03", false},
		{"none of alternates", []string{"2006-01-02", "02.01.2006"}, "March 1st", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(store.NewMemoryTable(5), Options{DateFormats: tt.formats}, nil)
			row, err := w.Validate(item(tt.date, "x", "1"))
			if tt.wantErr {
				var vErr *model.ValidationError
				if !errors.As(err, &vErr) || vErr.Field != "date" || vErr.Value != tt.date {
					t.Fatalf("error = %v, want date ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if row.Date != tt.want {
				t.Errorf("Date = %q, want %q", row.Date, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"-120.00", -120, false},
		{" 950.5 ", 950.5, false},
		{"12.345", 12.35, false},
		{"1e2", 100, false},
		{"$12", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v", tt.in, err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseAmount(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAppend_UtilityBill(t *testing.T) {
	table := store.NewMemoryTable(5)
	added, errs := NewWriter(table, Options{}, nil).Append(context.Background(), "m1", []model.LineItem{
		{Date: "2024-03-01", Description: "Electricity", Amount: "-120.00", Category: "Utilities", Property: ""},
	})
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	want := model.LedgerRow{Date: "2024-03-01", Description: "Electricity", Amount: -120, Category: "Utilities"}
	if len(added) != 1 || added[0] != want {
		t.Errorf("added = %+v, want %+v", added, want)
	}
}

type failingTable struct {
	store.Table
	failAfter int
	calls     int
}

func (f *failingTable) AppendRow(ctx context.Context, row []any) error {
	f.calls++
	if f.calls > f.failAfter {
		return errors.New("connection refused")
	}
	return f.Table.AppendRow(ctx, row)
}

func TestAppend_StoreFailureAborts(t *testing.T) {
	table := &failingTable{Table: store.NewMemoryTable(5), failAfter: 1}
	added, errs := NewWriter(table, Options{}, nil).Append(context.Background(), "m1", []model.LineItem{
		item("2024-03-01", "a", "1"),
		item("2024-03-02", "b", "2"),
		item("2024-03-03", "c", "3"),
	})
	if len(added) != 1 || added[0].Description != "a" {
		t.Errorf("added = %+v", added)
	}
	if len(errs) != 1 || !strings.HasPrefix(errs[0], "General error updating ledger") {
		t.Errorf("errs = %v", errs)
	}
	if table.calls != 2 {
		t.Errorf("append calls = %d, want 2", table.calls)
	}
}

func TestAppend_RowHashSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	table := store.NewMemoryTable(6)
	items := []model.LineItem{item("2024-03-01", "Electricity", "-120.00")}

	added, _ := NewWriter(table, Options{RowHash: true}, nil).Append(ctx, "m1", items)
	if len(added) != 1 {
		t.Fatalf("first append added %d", len(added))
	}

	// a fresh writer, as after a restart, reads existing hashes
	added, errs := NewWriter(table, Options{RowHash: true}, nil).Append(ctx, "m1", items)
	if len(added) != 0 || len(errs) != 0 {
		t.Errorf("re-append added = %v errs = %v", added, errs)
	}

	added, _ = NewWriter(table, Options{RowHash: true}, nil).Append(ctx, "m2", items)
	if len(added) != 1 {
		t.Errorf("same row from another message should be appended")
	}

	rows, _ := table.Rows(ctx)
	if len(rows) != 2 || rows[0][5] != RowHash("m1", 0, model.LedgerRow{Date: "2024-03-01", Description: "Electricity", Amount: -120, Category: "Utilities"}) {
		t.Errorf("rows = %v", rows)
	}
}

func TestAppend_RowHashKeepsRepeatedItems(t *testing.T) {
	ctx := context.Background()
	table := store.NewMemoryTable(6)
	parking := item("2024-03-01", "Parking", "-5.00")
	items := []model.LineItem{parking, parking}

	added, errs := NewWriter(table, Options{RowHash: true}, nil).Append(ctx, "m1", items)
	if len(added) != 2 || len(errs) != 0 {
		t.Fatalf("added = %d errs = %v, want both repeated items", len(added), errs)
	}

	added, errs = NewWriter(table, Options{RowHash: true}, nil).Append(ctx, "m1", items)
	if len(added) != 0 || len(errs) != 0 {
		t.Errorf("re-append added = %v errs = %v", added, errs)
	}
	if rows, _ := table.Rows(ctx); len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}
}
