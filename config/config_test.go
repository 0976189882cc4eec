package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func newCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "receipt-watcher"}
	if err := RegisterFlags(cmd); err != nil {
		t.Fatalf("RegisterFlags() error = %v", err)
	}
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return cmd
}

func TestLoadConfig_FlagsEnvAndFallbacks(t *testing.T) {
	t.Setenv("IMAP_PASS", "secret")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("RW_IMAP_PORT", "1143")
	t.Setenv("RW_MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("RW_HEARTBEAT_INTERVAL", "90s")

	cmd := newCommand(t,
		"--imap-host", "imap.example.com",
		"--imap-user", "receipts@example.com",
		"--max-reconnect-attempts", "7",
		"--exclude-header", "(?i)^From: .*(newsletter|promo),x",
		"--date-formats", "2006-01-02,02.01.2006",
		"--log-level", "WARNING",
	)

	cfg, err := LoadConfig(cmd, ModeWatch)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.IMAPPort != 1143 {
		t.Errorf("IMAPPort = %d, want env override 1143", cfg.IMAPPort)
	}
	if cfg.MaxReconnectAttempts != 7 {
		t.Errorf("MaxReconnectAttempts = %d, flag must win over env", cfg.MaxReconnectAttempts)
	}
	if cfg.HeartbeatInterval != 90*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
	if cfg.IMAPPass != "secret" || cfg.AnthropicAPIKey != "sk-test" {
		t.Errorf("secret fallbacks not applied: %q %q", cfg.IMAPPass, cfg.AnthropicAPIKey)
	}
	if cfg.SMTPUser != "receipts@example.com" || cfg.SMTPFrom != "receipts@example.com" || cfg.SMTPPass != "secret" {
		t.Errorf("smtp defaults = %q %q %q", cfg.SMTPUser, cfg.SMTPFrom, cfg.SMTPPass)
	}
	if !reflect.DeepEqual(cfg.ExcludeHeader, []string{"(?i)^From: .*(newsletter|promo),x"}) {
		t.Errorf("ExcludeHeader = %q", cfg.ExcludeHeader)
	}
	if !reflect.DeepEqual(cfg.DateFormats, []string{"2006-01-02", "02.01.2006"}) {
		t.Errorf("DateFormats = %q", cfg.DateFormats)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.IdleTimeout != MaxIdleTimeout || cfg.Mailbox != "INBOX" || !cfg.Dedup || cfg.MaxTokens != 4000 {
		t.Errorf("defaults = %+v", cfg)
	}
	if !strings.HasPrefix(cfg.Store, "sqlite:") {
		t.Errorf("Store = %q", cfg.Store)
	}
}

func TestLoadConfig_ConfigFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	path := filepath.Join(t.TempDir(), "watcher.yaml")
	content := "imap-host: imap.example.com\nimap-user: r@example.com\nimap-pass: pw\nidle-timeout: 10m\nnotify-to: books@example.com\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(newCommand(t, "--config", path), ModeWatch)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.IMAPHost != "imap.example.com" || cfg.IdleTimeout != 10*time.Minute || cfg.NotifyTo != "books@example.com" {
		t.Errorf("config file not applied: %+v", cfg)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		args []string
		env  map[string]string
		want string
	}{
		{
			name: "watch needs imap host",
			mode: ModeWatch,
			env:  map[string]string{"ANTHROPIC_API_KEY": "k"},
			want: "--imap-host",
		},
		{
			name: "idle timeout above limit",
			mode: ModeWatch,
			args: []string{"--imap-host", "h", "--imap-user", "u", "--imap-pass", "p", "--idle-timeout", "45m"},
			env:  map[string]string{"ANTHROPIC_API_KEY": "k"},
			want: "--idle-timeout",
		},
		{
			name: "replay needs api key",
			mode: ModeReplay,
			env:  map[string]string{"ANTHROPIC_API_KEY": ""},
			want: "Anthropic API key",
		},
		{
			name: "mutually exclusive filters",
			mode: ModeReplay,
			args: []string{"--include-body", "invoice", "--exclude-body", "spam"},
			env:  map[string]string{"ANTHROPIC_API_KEY": "k"},
			want: "mutually exclusive",
		},
		{
			name: "bad log level",
			mode: ModeLedger,
			args: []string{"--log-level", "loud"},
			want: "--log-level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("IMAP_PASS", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(newCommand(t, tt.args...), tt.mode)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadConfig() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig_LedgerModeNeedsOnlyStore(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg, err := LoadConfig(newCommand(t, "--store", "jsonl:"+t.TempDir()), ModeLedger)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !strings.HasPrefix(cfg.Store, "jsonl:") {
		t.Errorf("Store = %q", cfg.Store)
	}
}
