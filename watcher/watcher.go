// Package watcher keeps a mailbox session alive: it connects, scans unread
// messages, waits for new-message activity with periodic heartbeats and
// reconnects a bounded number of times after failures.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dhcgn/receipt-watcher/mailbox"
)

// ErrFailed is returned by Run once the reconnect budget is exhausted.
var ErrFailed = errors.New("watcher failed permanently")

type State int32

const (
	Disconnected State = iota
	Connecting
	Listening
	Reconnecting
	// Failed is terminal.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Listening:
		return "listening"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ScanFunc processes the unread messages of a freshly selected or signalled
// session. A returned error is treated as a session failure.
type ScanFunc func(ctx context.Context, session mailbox.Session) error

type Options struct {
	Mailbox string
	// HeartbeatInterval bounds how long the session may sit in a wait
	// without a liveness check.
	HeartbeatInterval time.Duration
	// IdleTimeout bounds a single wait call; servers drop IDLE after 30m.
	IdleTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

const (
	defaultMailbox           = "INBOX"
	defaultHeartbeatInterval = 5 * time.Minute
	defaultIdleTimeout       = 29 * time.Minute
	defaultMaxAttempts       = 5
	defaultReconnectDelay    = 30 * time.Second
)

type Watcher struct {
	opts   Options
	dialer mailbox.Dialer
	scan   ScanFunc
	logger *slog.Logger

	state    atomic.Int32
	attempts int
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

func New(opts Options, dialer mailbox.Dialer, scan ScanFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Mailbox == "" {
		opts.Mailbox = defaultMailbox
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultMaxAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	return &Watcher{
		opts:   opts,
		dialer: dialer,
		scan:   scan,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// State reports the current lifecycle state. Safe for concurrent use.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

func (w *Watcher) setState(s State) {
	if prev := State(w.state.Swap(int32(s))); prev != s {
		w.logger.Debug("watcher state changed", "from", prev.String(), "state", s.String())
	}
}

// Run drives the lifecycle until ctx is cancelled, which returns nil, or
// until MaxReconnectAttempts consecutive failures, which returns an error
// wrapping ErrFailed. No dial is attempted after the final failure.
func (w *Watcher) Run(ctx context.Context) error {
	w.attempts = 0
	for {
		err := w.runSession(ctx)
		if ctx.Err() != nil {
			w.setState(Disconnected)
			w.logger.Info("watcher stopped")
			return nil
		}

		w.setState(Reconnecting)
		w.attempts++
		if w.attempts >= w.opts.MaxReconnectAttempts {
			w.setState(Failed)
			w.logger.Error("watcher failed permanently", "attempt", w.attempts, "err", err)
			return fmt.Errorf("%w after %d attempts: %w", ErrFailed, w.attempts, err)
		}

		w.logger.Warn("connection lost, reconnecting",
			"attempt", w.attempts,
			"max", w.opts.MaxReconnectAttempts,
			"delay", w.opts.ReconnectDelay,
			"err", err,
		)
		if err := w.sleep(ctx, w.opts.ReconnectDelay); err != nil {
			w.setState(Disconnected)
			w.logger.Info("watcher stopped")
			return nil
		}
	}
}

// runSession holds one session from dial to teardown and returns the error
// that ended it.
func (w *Watcher) runSession(ctx context.Context) error {
	w.setState(Connecting)
	session, err := w.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			w.logger.Debug("session close failed", "err", err)
		}
	}()

	if err := session.Select(ctx, w.opts.Mailbox); err != nil {
		return err
	}
	w.attempts = 0
	lastHeartbeat := w.now()
	w.setState(Listening)
	w.logger.Info("listening for new messages", "mailbox", w.opts.Mailbox)

	if err := w.scan(ctx, session); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	wait := min(w.opts.HeartbeatInterval, w.opts.IdleTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := session.WaitForActivity(ctx, wait)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("wait for activity: %w", err)
		}

		switch result {
		case mailbox.WaitSignal:
			w.logger.Info("new message activity")
			if err := w.scan(ctx, session); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			// a busy mailbox never times out of the wait
			if w.now().Sub(lastHeartbeat) < w.opts.HeartbeatInterval {
				continue
			}
			if err := w.heartbeat(ctx, session); err != nil {
				return err
			}
			lastHeartbeat = w.now()
		case mailbox.WaitTimeout:
			if err := w.heartbeat(ctx, session); err != nil {
				return err
			}
			lastHeartbeat = w.now()
		default:
			return fmt.Errorf("wait for activity: unexpected result %s", result)
		}
	}
}

func (w *Watcher) heartbeat(ctx context.Context, session mailbox.Session) error {
	if err := session.Heartbeat(ctx); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	w.logger.Debug("heartbeat ok")
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
