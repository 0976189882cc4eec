// Package mailbox defines the session contract the watcher and the message
// processing loop consume. The imap and mbox packages implement it.
package mailbox

import (
	"context"
	"time"

	"github.com/dhcgn/receipt-watcher/model"
)

// WaitResult tags how a WaitForActivity call returned.
type WaitResult int

const (
	// WaitError means the wait failed; the accompanying error is non-nil.
	WaitError WaitResult = iota
	// WaitSignal means the server announced new messages.
	WaitSignal
	// WaitTimeout means the wait ran for its full duration without activity.
	WaitTimeout
)

func (r WaitResult) String() string {
	switch r {
	case WaitSignal:
		return "signal"
	case WaitTimeout:
		return "timeout"
	default:
		return "error"
	}
}

// Session is an authenticated connection to one mailbox. Implementations are
// not safe for concurrent use.
type Session interface {
	Select(ctx context.Context, name string) error
	SearchUnseen(ctx context.Context) ([]model.RawMessageRef, error)
	Fetch(ctx context.Context, ref model.RawMessageRef) ([]byte, error)
	MarkSeen(ctx context.Context, ref model.RawMessageRef) error
	// WaitForActivity blocks until new-message activity, the timeout, or
	// ctx cancellation. Cancellation returns WaitTimeout with ctx.Err().
	WaitForActivity(ctx context.Context, timeout time.Duration) (WaitResult, error)
	Heartbeat(ctx context.Context) error
	Close() error
}

// Dialer opens and authenticates new sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }
