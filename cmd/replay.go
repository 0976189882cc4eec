package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/receipt-watcher/config"
	"github.com/dhcgn/receipt-watcher/mbox"
	"github.com/dhcgn/receipt-watcher/runner"
)

// NewReplayCommand processes every message of an mbox archive once, through
// the same runner the watcher uses.
func NewReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay [mbox file]",
		Short: "Process the messages of an mbox archive once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, config.ModeReplay)
			if err != nil {
				return err
			}

			logger, cleanup, err := config.SetupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()
			slog.SetDefault(logger)

			mboxPath := args[0]
			total, err := mbox.CountMessages(mboxPath)
			if err != nil {
				return fmt.Errorf("count messages: %w", err)
			}
			logger.Info("replaying mbox archive", "mbox", mboxPath, "messages", total)

			archive, err := mbox.Open(mboxPath, logger)
			if err != nil {
				return err
			}

			r, err := runner.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("runner.New: %w", err)
			}
			defer func() {
				_ = r.Close()
			}()

			if err := r.Scan(cmd.Context(), archive); err != nil {
				return fmt.Errorf("replay: %w", err)
			}

			summary := r.Summary()
			logger.Info("replay finished", summary.LogAttrs()...)
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d of %d messages (%d duplicates, %d filtered), %d ledger rows added, %d item errors\n",
				summary.Processed, total, summary.Duplicates, summary.Filtered, summary.RowsAdded, summary.ItemErrors)
			return nil
		},
	}
}
