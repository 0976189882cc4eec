package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dhcgn/receipt-watcher/cmd"
	"github.com/dhcgn/receipt-watcher/config"
	"github.com/dhcgn/receipt-watcher/imap"
	"github.com/dhcgn/receipt-watcher/runner"
	"github.com/dhcgn/receipt-watcher/watcher"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "receipt-watcher",
		Short:        "Watch a mailbox and turn receipts and invoices into ledger rows",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, config.ModeWatch)
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
			logger.Info("starting receipt-watcher", "host", cfg.IMAPHost, "mailbox", cfg.Mailbox, "store", cfg.Store, "dedup", cfg.Dedup)

			return run(cmd.Context(), cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewReplayCommand(), cmd.NewLedgerCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	r, err := runner.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn("closing store failed", "err", err)
		}
	}()

	dialer, err := imap.NewDialer(imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, logger)
	if err != nil {
		return fmt.Errorf("imap.NewDialer: %w", err)
	}

	w := watcher.New(watcher.Options{
		Mailbox:              cfg.Mailbox,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		IdleTimeout:          cfg.IdleTimeout,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
	}, dialer, r.Scan, logger)

	err = w.Run(ctx)
	logger.Info("processing summary", r.Summary().LogAttrs()...)
	return err
}
