// Package mbox serves an mbox archive as a mailbox.Session so archived
// mail can be replayed through the same processing loop as live mail.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/receipt-watcher/mailbox"
	"github.com/dhcgn/receipt-watcher/model"
)

var errNoSuchMessage = errors.New("no such message in archive")

// Archive holds every message of an mbox file in memory. Message refs are
// 1-based positions. Seen state lives only as long as the Archive.
type Archive struct {
	messages [][]byte
	seen     map[model.RawMessageRef]bool
	logger   *slog.Logger
}

// Open reads the archive at path.
func Open(path string, logger *slog.Logger) (*Archive, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	return NewArchive(file, logger)
}

// NewArchive reads every message from r.
func NewArchive(r io.Reader, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	reader := mboxlib.NewReader(r)
	archive := &Archive{seen: make(map[model.RawMessageRef]bool), logger: logger}
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("message %d read: %w", idx, err)
		}
		archive.messages = append(archive.messages, raw)
	}

	logger.Debug("mbox archive loaded", "messages", len(archive.messages))
	return archive, nil
}

// Len returns the number of messages in the archive.
func (a *Archive) Len() int { return len(a.messages) }

// Dial returns the archive itself; it satisfies mailbox.Dialer.
func (a *Archive) Dial(context.Context) (mailbox.Session, error) { return a, nil }

func (a *Archive) Select(context.Context, string) error { return nil }

// SearchUnseen returns every message not marked seen, in archive order.
func (a *Archive) SearchUnseen(context.Context) ([]model.RawMessageRef, error) {
	refs := make([]model.RawMessageRef, 0, len(a.messages))
	for i := range a.messages {
		ref := model.RawMessageRef(i + 1)
		if !a.seen[ref] {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (a *Archive) Fetch(_ context.Context, ref model.RawMessageRef) ([]byte, error) {
	if ref == 0 || int(ref) > len(a.messages) {
		return nil, &model.FetchError{Ref: ref, Err: errNoSuchMessage}
	}
	return a.messages[ref-1], nil
}

func (a *Archive) MarkSeen(_ context.Context, ref model.RawMessageRef) error {
	if ref == 0 || int(ref) > len(a.messages) {
		return errNoSuchMessage
	}
	a.seen[ref] = true
	return nil
}

// WaitForActivity never signals: an archive does not grow.
func (a *Archive) WaitForActivity(ctx context.Context, timeout time.Duration) (mailbox.WaitResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return mailbox.WaitTimeout, ctx.Err()
	case <-timer.C:
		return mailbox.WaitTimeout, nil
	}
}

func (a *Archive) Heartbeat(context.Context) error { return nil }

func (a *Archive) Close() error { return nil }

// CountMessages counts the messages in an mbox file without keeping them.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return count, fmt.Errorf("message %d read: %w", count, err)
		}
		count++
	}
}
