// Package imap implements mailbox.Session over an IMAP4rev1/rev2 server.
// New-message activity is observed with IDLE, liveness with NOOP.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/receipt-watcher/mailbox"
	"github.com/dhcgn/receipt-watcher/model"
)

var errMessageMissing = errors.New("message not returned by server")

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
}

// Dialer opens authenticated IMAP sessions.
type Dialer struct {
	opts   Options
	logger *slog.Logger
}

func NewDialer(opts Options, logger *slog.Logger) (*Dialer, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dialer{opts: opts, logger: logger}, nil
}

// Dial connects and logs in. Failures are *model.ConnectionError.
func (d *Dialer) Dial(ctx context.Context) (mailbox.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	address := net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))
	signal := make(chan struct{}, 1)
	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages == nil {
					return
				}
				select {
				case signal <- struct{}{}:
				default:
				}
			},
		},
	}

	if d.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         d.opts.Host,
			InsecureSkipVerify: d.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if d.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, &model.ConnectionError{Op: "dial " + address, Err: err}
	}

	if err := client.Login(d.opts.Username, d.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, &model.ConnectionError{Op: "login", Err: err}
	}

	d.logger.Debug("imap connection established", "address", address, "user", d.opts.Username, "tls", d.opts.UseTLS)

	return &Session{client: client, signal: signal, logger: d.logger}, nil
}

// Session is one IMAP connection.
type Session struct {
	client  *imapclient.Client
	signal  chan struct{}
	logger  *slog.Logger
	mailbox string
}

func (s *Session) Select(_ context.Context, name string) error {
	if name == "" {
		name = "INBOX"
	}
	data, err := s.client.Select(name, nil).Wait()
	if err != nil {
		return &model.ConnectionError{Op: "select " + name, Err: err}
	}
	s.mailbox = name
	// the scan that follows a select covers anything announced so far
	s.drainSignal()
	s.logger.Debug("imap mailbox selected", "mailbox", name, "messages", data.NumMessages)
	return nil
}

func (s *Session) SearchUnseen(context.Context) ([]model.RawMessageRef, error) {
	criteria := &imapv2.SearchCriteria{NotFlag: []imapv2.Flag{imapv2.FlagSeen}}
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &model.ConnectionError{Op: "search unseen", Err: err}
	}

	uids := data.AllUIDs()
	refs := make([]model.RawMessageRef, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, model.RawMessageRef(uid))
	}
	return refs, nil
}

// Fetch returns the full message without setting \Seen. A NO or BAD reply
// is a *model.FetchError; anything else is a *model.ConnectionError.
func (s *Session) Fetch(_ context.Context, ref model.RawMessageRef) ([]byte, error) {
	section := &imapv2.FetchItemBodySection{Peek: true}
	options := &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	}

	msgs, err := s.client.Fetch(imapv2.UIDSetNum(imapv2.UID(ref)), options).Collect()
	if err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) {
			return nil, &model.FetchError{Ref: ref, Err: err}
		}
		return nil, &model.ConnectionError{Op: "fetch " + ref.String(), Err: err}
	}
	if len(msgs) == 0 {
		return nil, &model.FetchError{Ref: ref, Err: errMessageMissing}
	}

	body := msgs[0].FindBodySection(section)
	if body == nil {
		return nil, &model.FetchError{Ref: ref, Err: errMessageMissing}
	}
	return body, nil
}

func (s *Session) MarkSeen(_ context.Context, ref model.RawMessageRef) error {
	flags := &imapv2.StoreFlags{
		Op:     imapv2.StoreFlagsAdd,
		Silent: true,
		Flags:  []imapv2.Flag{imapv2.FlagSeen},
	}
	if err := s.client.Store(imapv2.UIDSetNum(imapv2.UID(ref)), flags, nil).Close(); err != nil {
		return fmt.Errorf("mark %s seen: %w", ref, err)
	}
	return nil
}

// WaitForActivity runs one IDLE until the server reports new messages or
// timeout elapses. A connection dropped during IDLE surfaces when the IDLE
// is ended.
func (s *Session) WaitForActivity(ctx context.Context, timeout time.Duration) (mailbox.WaitResult, error) {
	select {
	case <-s.signal:
		return mailbox.WaitSignal, nil
	default:
	}

	idle, err := s.client.Idle()
	if err != nil {
		return mailbox.WaitError, &model.ConnectionError{Op: "idle", Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	result := mailbox.WaitTimeout
	var waitErr error
	select {
	case <-s.signal:
		result = mailbox.WaitSignal
	case <-timer.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	if err := idle.Close(); err != nil {
		return mailbox.WaitError, &model.ConnectionError{Op: "idle done", Err: err}
	}
	if err := idle.Wait(); err != nil {
		return mailbox.WaitError, &model.ConnectionError{Op: "idle", Err: err}
	}
	return result, waitErr
}

func (s *Session) Heartbeat(context.Context) error {
	if err := s.client.Noop().Wait(); err != nil {
		return &model.ConnectionError{Op: "noop", Err: err}
	}
	return nil
}

// Close logs out and closes the connection. It is safe on a broken
// connection.
func (s *Session) Close() error {
	if err := s.client.Logout().Wait(); err != nil {
		s.logger.Debug("imap logout failed", "err", err)
	}
	if err := s.client.Close(); err != nil {
		s.logger.Debug("imap connection closed", "err", err)
	}
	return nil
}

func (s *Session) drainSignal() {
	select {
	case <-s.signal:
	default:
	}
}
