package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dhcgn/receipt-watcher/config"
	"github.com/dhcgn/receipt-watcher/ledger"
	"github.com/dhcgn/receipt-watcher/stats"
	"github.com/dhcgn/receipt-watcher/store"
)

// NewLedgerCommand prints the ledger rows of the configured store.
func NewLedgerCommand() *cobra.Command {
	var topN int

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Print the ledger rows of the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, config.ModeLedger)
			if err != nil {
				return err
			}

			st, err := store.Open(cmd.Context(), cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() {
				_ = st.Close()
			}()

			columns := ledger.Columns(cfg.LedgerRowHash)
			table, err := st.Table(cmd.Context(), cfg.LedgerTable, columns)
			if err != nil {
				return fmt.Errorf("ledger table: %w", err)
			}
			rows, err := table.Rows(cmd.Context())
			if err != nil {
				return fmt.Errorf("read ledger: %w", err)
			}

			out := cmd.OutOrStdout()
			if err := printRows(out, columns, rows); err != nil {
				return err
			}

			if topN > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Top categories:")
				stats.PrettyPrintTop(out, countColumn(rows, 3), topN)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topN, "top", 0, "Also print the N most frequent categories")
	return cmd
}

func printRows(w io.Writer, columns []store.Column, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, c := range columns {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, c.Name)
	}
	fmt.Fprintln(tw)
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, v)
		}
		fmt.Fprintln(tw)
	}
	fmt.Fprintf(tw, "%d rows\n", len(rows))
	return tw.Flush()
}

func countColumn(rows [][]string, idx int) map[string]int {
	counts := make(map[string]int)
	for _, row := range rows {
		if idx < len(row) {
			counts[row[idx]]++
		}
	}
	return counts
}
