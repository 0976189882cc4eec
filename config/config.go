package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// MaxIdleTimeout keeps each IDLE below the 30 minute server limit.
const MaxIdleTimeout = 29 * time.Minute

// EnvPrefix prefixes environment overrides: --imap-host is RW_IMAP_HOST.
const EnvPrefix = "RW"

// Mode selects which options are required.
type Mode int

const (
	ModeWatch Mode = iota
	ModeReplay
	ModeLedger
)

// Config captures every option of the watcher.
type Config struct {
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string

	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPass        string
	SMTPImplicitTLS bool
	SMTPFrom        string
	NotifyTo        string

	AnthropicAPIKey  string
	AnthropicBaseURL string
	Model            string
	Temperature      float64
	MaxTokens        int
	LLMTimeout       time.Duration
	SystemPrompt     string
	PromptExtra      string

	Store          string
	LedgerTable    string
	ProcessedTable string
	Dedup          bool
	LedgerRowHash  bool
	DateFormats    []string
	ScratchDir     string

	HeartbeatInterval    time.Duration
	IdleTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string

	LogLevel string
	LogDir   string
}

// RegisterFlags attaches all CLI flags to the provided command as persistent
// flags, so subcommands share them.
func RegisterFlags(cmd *cobra.Command) error {
	defaultDataDir, err := defaultDataDir()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional YAML/JSON/TOML config file")

	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("mailbox", "INBOX", "IMAP mailbox to watch")

	flags.String("smtp-host", "", "SMTP server for summaries (empty disables notifications)")
	flags.Int("smtp-port", 587, "SMTP server port")
	flags.String("smtp-user", "", "SMTP username (defaults to --imap-user)")
	flags.String("smtp-pass", "", "SMTP password (falls back to SMTP_PASS env var, then the IMAP password)")
	flags.Bool("smtp-implicit-tls", false, "Dial SMTP over TLS instead of STARTTLS")
	flags.String("smtp-from", "", "Sender address of summaries (defaults to --imap-user)")
	flags.String("notify-to", "", "Send every summary to this address instead of replying to the sender")

	flags.String("anthropic-api-key", "", "Anthropic API key (falls back to ANTHROPIC_API_KEY env var)")
	flags.String("anthropic-base-url", "https://api.anthropic.com", "Anthropic API base URL")
	flags.String("model", "claude-3-7-sonnet-20250219", "Model used for extraction")
	flags.Float64("temperature", 0, "Sampling temperature")
	flags.Int("max-tokens", 4000, "Maximum output tokens")
	flags.Duration("llm-timeout", 2*time.Minute, "Timeout of one extraction request")
	flags.String("system-prompt", "", "System instruction (defaults to the built-in accountant instruction)")
	flags.String("prompt-extra", "", "Text appended to every extraction prompt")

	flags.String("store", "sqlite:"+filepath.Join(defaultDataDir, "receipts.db"), "Ledger store: sqlite:<path>, postgres://..., jsonl:<dir>")
	flags.String("ledger-table", "transactions", "Ledger table name")
	flags.String("processed-table", "processed_emails", "Processed-message table name")
	flags.Bool("dedup", true, "Skip messages that already have a processed record")
	flags.Bool("ledger-row-hash", false, "Store a content hash per ledger row and skip rows already present")
	flags.StringSlice("date-formats", []string{"2006-01-02"}, "Accepted item date layouts in Go time format, first match wins")
	flags.String("scratch-dir", "", "Directory for temporary attachment files (default: system temp dir)")

	flags.Duration("heartbeat-interval", 5*time.Minute, "Interval between NOOP heartbeats")
	flags.Duration("idle-timeout", MaxIdleTimeout, "Maximum duration of one IDLE (at most 29m)")
	flags.Int("max-reconnect-attempts", 5, "Consecutive failed connections before giving up")
	flags.Duration("reconnect-delay", 30*time.Second, "Delay between reconnection attempts")

	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")

	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")

	return nil
}

// LoadConfig merges flags, RW_* environment variables, an optional config
// file and a .env file in the working directory, then validates the result
// for mode. Explicit flags win over the environment, which wins over the
// config file.
func LoadConfig(cmd *cobra.Command, mode Mode) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	flags := cmd.Flags()
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           v.GetString("imap-pass"),
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		Mailbox:            v.GetString("mailbox"),

		SMTPHost:        v.GetString("smtp-host"),
		SMTPPort:        v.GetInt("smtp-port"),
		SMTPUser:        v.GetString("smtp-user"),
		SMTPPass:        v.GetString("smtp-pass"),
		SMTPImplicitTLS: v.GetBool("smtp-implicit-tls"),
		SMTPFrom:        v.GetString("smtp-from"),
		NotifyTo:        v.GetString("notify-to"),

		AnthropicAPIKey:  v.GetString("anthropic-api-key"),
		AnthropicBaseURL: v.GetString("anthropic-base-url"),
		Model:            v.GetString("model"),
		Temperature:      v.GetFloat64("temperature"),
		MaxTokens:        v.GetInt("max-tokens"),
		LLMTimeout:       v.GetDuration("llm-timeout"),
		SystemPrompt:     v.GetString("system-prompt"),
		PromptExtra:      v.GetString("prompt-extra"),

		Store:          v.GetString("store"),
		LedgerTable:    v.GetString("ledger-table"),
		ProcessedTable: v.GetString("processed-table"),
		Dedup:          v.GetBool("dedup"),
		LedgerRowHash:  v.GetBool("ledger-row-hash"),
		DateFormats:    stringList(v, flags, "date-formats"),
		ScratchDir:     v.GetString("scratch-dir"),

		HeartbeatInterval:    v.GetDuration("heartbeat-interval"),
		IdleTimeout:          v.GetDuration("idle-timeout"),
		MaxReconnectAttempts: v.GetInt("max-reconnect-attempts"),
		ReconnectDelay:       v.GetDuration("reconnect-delay"),

		IncludeHeader: stringList(v, flags, "include-header"),
		IncludeBody:   stringList(v, flags, "include-body"),
		ExcludeHeader: stringList(v, flags, "exclude-header"),
		ExcludeBody:   stringList(v, flags, "exclude-body"),

		LogLevel: v.GetString("log-level"),
		LogDir:   v.GetString("log-dir"),
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	if cfg.SMTPPass == "" {
		cfg.SMTPPass = os.Getenv("SMTP_PASS")
	}
	if cfg.SMTPPass == "" {
		cfg.SMTPPass = cfg.IMAPPass
	}
	if cfg.SMTPUser == "" {
		cfg.SMTPUser = cfg.IMAPUser
	}
	if cfg.SMTPFrom == "" {
		cfg.SMTPFrom = cfg.SMTPUser
	}
	if cfg.AnthropicAPIKey == "" {
		cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg, mode); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stringList reads a list option. Explicit flags are taken verbatim so
// that regexes containing commas survive; other sources are split the way
// viper splits them.
func stringList(v *viper.Viper, flags *pflag.FlagSet, name string) []string {
	if f := flags.Lookup(name); f != nil && f.Changed {
		if f.Value.Type() == "stringArray" {
			values, _ := flags.GetStringArray(name)
			return values
		}
		values, _ := flags.GetStringSlice(name)
		return values
	}
	var out []string
	for _, s := range v.GetStringSlice(name) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func validateConfig(cfg Config, mode Mode) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}
	if strings.TrimSpace(cfg.Store) == "" {
		return fmt.Errorf("--store is required")
	}
	if cfg.LedgerTable == "" || cfg.ProcessedTable == "" {
		return fmt.Errorf("--ledger-table and --processed-table must not be empty")
	}
	if mode == ModeLedger {
		return nil
	}

	if cfg.AnthropicAPIKey == "" {
		return fmt.Errorf("Anthropic API key must be provided via --anthropic-api-key or ANTHROPIC_API_KEY env var")
	}
	if cfg.MaxTokens <= 0 {
		return fmt.Errorf("--max-tokens must be positive")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return fmt.Errorf("--temperature must be between 0 and 1")
	}
	if len(cfg.DateFormats) == 0 {
		return fmt.Errorf("--date-formats must name at least one layout")
	}
	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}
	if cfg.SMTPHost != "" {
		if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
			return fmt.Errorf("--smtp-port must be between 1 and 65535")
		}
		if cfg.SMTPFrom == "" {
			return fmt.Errorf("--smtp-from is required when --smtp-host is set")
		}
	}
	if mode == ModeReplay {
		return nil
	}

	if cfg.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if cfg.IMAPUser == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if cfg.IMAPPass == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("--heartbeat-interval must be positive")
	}
	if cfg.IdleTimeout <= 0 || cfg.IdleTimeout > MaxIdleTimeout {
		return fmt.Errorf("--idle-timeout must be between 0 and %s", MaxIdleTimeout)
	}
	if cfg.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("--max-reconnect-attempts must be positive")
	}
	if cfg.ReconnectDelay < 0 {
		return fmt.Errorf("--reconnect-delay must not be negative")
	}
	return nil
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".receipt-watcher"), nil
}
