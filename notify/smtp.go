package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is
	// used when the server offers it.
	ImplicitTLS bool
}

// SMTPTransport submits mail through an SMTP server.
type SMTPTransport struct {
	opts SMTPOptions
	now  func() time.Time
}

func NewSMTPTransport(opts SMTPOptions) (*SMTPTransport, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, fmt.Errorf("smtp host is empty")
	}
	if opts.Port <= 0 {
		opts.Port = 587
	}
	return &SMTPTransport{opts: opts, now: time.Now}, nil
}

func (t *SMTPTransport) Send(_ context.Context, m Mail) error {
	data, err := Render(m, t.now())
	if err != nil {
		return err
	}

	var auth sasl.Client
	if t.opts.Username != "" {
		auth = sasl.NewPlainClient("", t.opts.Username, t.opts.Password)
	}

	addr := net.JoinHostPort(t.opts.Host, strconv.Itoa(t.opts.Port))
	send := smtp.SendMail
	if t.opts.ImplicitTLS {
		send = smtp.SendMailTLS
	}
	if err := send(addr, auth, m.From, []string{m.To}, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Render encodes m as a single-part HTML message with threading headers.
func Render(m Mail, date time.Time) ([]byte, error) {
	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return nil, fmt.Errorf("parse from %q: %w", m.From, err)
	}
	to, err := mail.ParseAddress(m.To)
	if err != nil {
		return nil, fmt.Errorf("parse to %q: %w", m.To, err)
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(m.Subject)
	h.SetMessageID(uuid.NewString() + "@" + domainOf(from.Address))
	if m.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{m.InReplyTo})
	}
	if len(m.References) > 0 {
		h.SetMsgIDList("References", m.References)
	}
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := w.Write([]byte(m.HTML)); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func domainOf(address string) string {
	if i := strings.LastIndexByte(address, '@'); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return "localhost"
}
