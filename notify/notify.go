// Package notify sends the processing summary for a message as a threaded
// HTML reply.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/dhcgn/receipt-watcher/model"
)

// Mail is one outbound summary.
type Mail struct {
	From       string
	To         string
	Subject    string
	InReplyTo  string
	References []string
	HTML       string
}

// Transport delivers a composed Mail.
type Transport interface {
	Send(ctx context.Context, m Mail) error
}

type Options struct {
	From string
	// To receives every summary. Empty replies to the original sender.
	To string
}

type Notifier struct {
	transport Transport
	opts      Options
	markdown  goldmark.Markdown
	logger    *slog.Logger
}

// New returns a Notifier. A nil transport disables sending.
func New(transport Transport, opts Options, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{
		transport: transport,
		opts:      opts,
		markdown:  goldmark.New(goldmark.WithExtensions(extension.Table)),
		logger:    logger,
	}
}

// Send composes and delivers the summary. Failures are logged, never
// returned: the ledger already holds the result.
func (n *Notifier) Send(ctx context.Context, msg model.DecodedMessage, added []model.LedgerRow, errs []string) {
	if n.transport == nil {
		n.logger.Debug("notifications disabled", "messageID", msg.ID)
		return
	}

	m, err := n.Compose(msg, added, errs)
	if err == nil {
		err = n.transport.Send(ctx, m)
	}
	if err != nil {
		n.logger.Error("summary not sent", "messageID", msg.ID, "err", &model.NotificationError{To: m.To, Err: err})
		return
	}
	n.logger.Info("summary sent", "messageID", msg.ID, "to", m.To, "rows", len(added), "errors", len(errs))
}

// Compose builds the summary mail without sending it.
func (n *Notifier) Compose(msg model.DecodedMessage, added []model.LedgerRow, errs []string) (Mail, error) {
	to := n.opts.To
	if to == "" {
		addr, err := mail.ParseAddress(msg.Sender)
		if err != nil {
			return Mail{}, fmt.Errorf("no recipient: sender %q: %w", msg.Sender, err)
		}
		to = addr.Address
	}

	var html bytes.Buffer
	if err := n.markdown.Convert([]byte(Summary(msg, added, errs)), &html); err != nil {
		return Mail{To: to}, fmt.Errorf("render summary: %w", err)
	}

	m := Mail{
		From:       n.opts.From,
		To:         to,
		Subject:    "Invoice Processing Summary: " + msg.Subject,
		References: msg.References(),
		HTML:       html.String(),
	}
	if msg.HasMessageID {
		m.InReplyTo = msg.ID
	}
	return m, nil
}

// Summary renders the summary as markdown.
func Summary(msg model.DecodedMessage, added []model.LedgerRow, errs []string) string {
	var b strings.Builder
	b.WriteString("# Invoice Processing Summary\n\n")
	fmt.Fprintf(&b, "**Original Email:** %s  \n", inline(msg.Subject))
	fmt.Fprintf(&b, "**From:** %s  \n", inline(msg.Sender))
	fmt.Fprintf(&b, "**Date:** %s  \n", inline(msg.Date))
	if names := msg.AttachmentNames(); len(names) > 0 {
		fmt.Fprintf(&b, "**Attachments:** %s\n", inline(strings.Join(names, ", ")))
	}

	b.WriteString("\n## Processed Items\n\n")
	if len(added) == 0 {
		b.WriteString("No items were processed.\n")
	} else {
		b.WriteString("| Date | Description | Amount | Category | Property |\n")
		b.WriteString("| --- | --- | ---: | --- | --- |\n")
		for _, r := range added {
			fmt.Fprintf(&b, "| %s | %s | %.2f | %s | %s |\n",
				cell(r.Date), cell(r.Description), r.Amount, cell(r.Category), cell(r.Property))
		}
	}

	if len(errs) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "- %s\n", inline(e))
		}
	}
	return b.String()
}

var inlineEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"*", "\\*",
	"_", "\\_",
	"`", "\\`",
	"[", "\\[",
	"]", "\\]",
	"<", "&lt;",
	">", "&gt;",
	"\r", " ",
	"\n", " ",
)

func inline(s string) string {
	return inlineEscaper.Replace(s)
}

func cell(s string) string {
	return strings.ReplaceAll(inline(s), "|", "\\|")
}
