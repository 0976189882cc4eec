// Package runner processes the unread messages of a mailbox session one at
// a time: decode, dedup check, extraction, ledger append, summary, mark.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/dhcgn/receipt-watcher/config"
	"github.com/dhcgn/receipt-watcher/filter"
	"github.com/dhcgn/receipt-watcher/ledger"
	"github.com/dhcgn/receipt-watcher/llm"
	"github.com/dhcgn/receipt-watcher/mailbox"
	"github.com/dhcgn/receipt-watcher/message"
	"github.com/dhcgn/receipt-watcher/model"
	"github.com/dhcgn/receipt-watcher/notify"
	"github.com/dhcgn/receipt-watcher/pipeline"
	"github.com/dhcgn/receipt-watcher/state"
	"github.com/dhcgn/receipt-watcher/stats"
	"github.com/dhcgn/receipt-watcher/store"
)

// Deps are the collaborators of a Runner.
type Deps struct {
	Decoder  *message.Decoder
	Pipeline *pipeline.Pipeline
	Ledger   *ledger.Writer
	Notifier *notify.Notifier
	// Tracker is nil when dedup is disabled.
	Tracker state.Tracker
	Stats   *stats.Collector
	Now     func() time.Time
}

type Runner struct {
	deps     Deps
	reporter *stats.Reporter
	logger   *slog.Logger
	closers  []func() error
}

// Assemble builds a Runner from ready collaborators.
func Assemble(deps Deps, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Decoder == nil {
		deps.Decoder = message.NewDecoder(nil, logger)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.New(nil, notify.Options{}, logger)
	}
	if deps.Stats == nil {
		deps.Stats = stats.NewCollector()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{
		deps:     deps,
		reporter: stats.NewReporter(deps.Stats, logger),
		logger:   logger,
	}
}

// New wires the production collaborators from cfg. Close releases the store.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runner, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	fail := func(err error) (*Runner, error) {
		_ = st.Close()
		return nil, err
	}

	ledgerTable, err := st.Table(ctx, cfg.LedgerTable, ledger.Columns(cfg.LedgerRowHash))
	if err != nil {
		return fail(fmt.Errorf("ledger table: %w", err))
	}

	var tracker state.Tracker
	if cfg.Dedup {
		processedTable, err := st.Table(ctx, cfg.ProcessedTable, state.Columns)
		if err != nil {
			return fail(fmt.Errorf("processed table: %w", err))
		}
		tracker, err = state.NewTableTracker(processedTable, logger)
		if err != nil {
			return fail(fmt.Errorf("state tracker: %w", err))
		}
	}

	completer, err := llm.NewAnthropic(llm.Options{
		APIKey:      cfg.AnthropicAPIKey,
		BaseURL:     cfg.AnthropicBaseURL,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.LLMTimeout,
	})
	if err != nil {
		return fail(fmt.Errorf("llm client: %w", err))
	}

	var allower message.Allower
	filterOpts := filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	}
	if filterOpts.Active() {
		f, err := filter.New(filterOpts)
		if err != nil {
			return fail(fmt.Errorf("filter: %w", err))
		}
		allower = f
	}

	var transport notify.Transport
	if cfg.SMTPHost != "" {
		smtpTransport, err := notify.NewSMTPTransport(notify.SMTPOptions{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUser,
			Password:    cfg.SMTPPass,
			ImplicitTLS: cfg.SMTPImplicitTLS,
		})
		if err != nil {
			return fail(fmt.Errorf("smtp transport: %w", err))
		}
		transport = smtpTransport
	}

	r := Assemble(Deps{
		Decoder: message.NewDecoder(allower, logger),
		Pipeline: pipeline.New(completer, afero.NewOsFs(), pipeline.Options{
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			SystemPrompt: cfg.SystemPrompt,
			PromptExtra:  cfg.PromptExtra,
			ScratchDir:   cfg.ScratchDir,
		}, logger),
		Ledger: ledger.NewWriter(ledgerTable, ledger.Options{
			DateFormats: cfg.DateFormats,
			RowHash:     cfg.LedgerRowHash,
		}, logger),
		Notifier: notify.New(transport, notify.Options{From: cfg.SMTPFrom, To: cfg.NotifyTo}, logger),
		Tracker:  tracker,
	}, logger)
	r.closers = append(r.closers, st.Close)
	return r, nil
}

// Close releases resources opened by New.
func (r *Runner) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}

// Summary returns the lifetime counters.
func (r *Runner) Summary() stats.Summary {
	return r.reporter.Summary()
}

// Scan processes every unseen message of session in server order. It
// returns an error only when the session itself failed; per-message
// failures are logged and skipped. A cancelled ctx stops the scan between
// messages.
func (r *Runner) Scan(ctx context.Context, session mailbox.Session) error {
	done := r.reporter.Scan()
	defer done()

	refs, err := session.SearchUnseen(ctx)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		r.logger.Debug("no unread messages")
		return nil
	}
	r.logger.Info("unread messages found", "count", len(refs))

	for _, ref := range refs {
		if ctx.Err() != nil {
			r.logger.Info("scan interrupted by shutdown")
			return nil
		}
		if err := r.Process(ctx, session, ref); err != nil {
			return err
		}
	}
	return nil
}

// Process handles one message. Only session failures are returned. A
// message runs to completion once started: cancellation of ctx is observed
// by Scan before the next message, never by calls made here.
func (r *Runner) Process(ctx context.Context, session mailbox.Session, ref model.RawMessageRef) error {
	ctx = context.WithoutCancel(ctx)
	r.deps.Stats.Record(stats.Event{Type: stats.EventTypeScanned})

	msg, err := r.deps.Decoder.Decode(ctx, session, ref)
	if err != nil {
		if errors.Is(err, message.ErrFiltered) {
			r.deps.Stats.Record(stats.Event{Type: stats.EventTypeFiltered})
			r.logger.Info("message filtered", "uid", ref.String())
			return nil
		}
		r.deps.Stats.Record(stats.Event{Type: stats.EventTypeError, Err: err})
		var connErr *model.ConnectionError
		if errors.As(err, &connErr) {
			return err
		}
		r.logger.Warn("message skipped", "uid", ref.String(), "err", err)
		return nil
	}

	r.Handle(ctx, msg)
	return nil
}

// Handle runs a decoded message through extraction, ledger, notification and
// dedup marking. Messages already recorded as processed are skipped.
func (r *Runner) Handle(ctx context.Context, msg model.DecodedMessage) {
	logger := r.logger.With("messageID", msg.ID, "subject", msg.Subject)

	if r.deps.Tracker != nil && r.deps.Tracker.HasProcessed(ctx, msg.ID) {
		r.deps.Stats.Record(stats.Event{Type: stats.EventTypeDuplicate, MessageID: msg.ID})
		logger.Info("message already processed, skipped")
		return
	}

	logger.Info("processing message", "from", msg.Sender, "attachments", len(msg.Attachments))
	status := model.StatusSuccess
	var errs []string

	items, err := r.deps.Pipeline.Run(ctx, msg)
	if err != nil {
		status = model.StatusError
		errs = append(errs, fmt.Sprintf("Error analyzing email: %v", err))
		logger.Error("analysis failed, no items extracted", "err", err)
	}

	added, itemErrs := r.deps.Ledger.Append(ctx, msg.ID, items)
	errs = append(errs, itemErrs...)
	for _, e := range itemErrs {
		if strings.HasPrefix(e, ledger.StoreErrorPrefix) {
			status = model.StatusError
		}
	}

	r.deps.Notifier.Send(ctx, msg, added, errs)

	if r.deps.Tracker != nil {
		record := model.ProcessedRecord{
			MessageID: msg.ID,
			Timestamp: r.deps.Now(),
			Subject:   msg.Subject,
			Status:    status,
		}
		if err := r.deps.Tracker.MarkProcessed(ctx, record); err != nil {
			logger.Error("could not record processed message", "err", err)
		}
	}

	r.deps.Stats.Record(stats.Event{Type: stats.EventTypeProcessed, MessageID: msg.ID})
	r.deps.Stats.Record(stats.Event{Type: stats.EventTypeRowsAdded, Count: len(added)})
	r.deps.Stats.Record(stats.Event{Type: stats.EventTypeItemErrors, Count: len(itemErrs)})
	if status == model.StatusError {
		r.deps.Stats.Record(stats.Event{Type: stats.EventTypeError, MessageID: msg.ID, Err: errors.New(errs[len(errs)-1])})
	}
	logger.Info("message processed", "status", string(status), "rows", len(added), "errors", len(errs))
}
