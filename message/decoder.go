package message

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dhcgn/receipt-watcher/mailbox"
	"github.com/dhcgn/receipt-watcher/model"
)

// ErrFiltered is returned by Decode for messages rejected by the filter.
// They are marked seen and not decoded.
var ErrFiltered = errors.New("message rejected by filter")

// Allower decides from the raw bytes whether a message is processed.
type Allower interface {
	AllowsRaw(raw []byte) bool
}

// Decoder fetches and decodes messages from a live session.
type Decoder struct {
	filter Allower
	logger *slog.Logger
}

// NewDecoder returns a Decoder. filter may be nil.
func NewDecoder(filter Allower, logger *slog.Logger) *Decoder {
	return &Decoder{filter: filter, logger: logger}
}

// Decode fetches ref and decodes it. The message is marked seen only after
// decoding succeeded, so a crash before that leaves it eligible for
// redelivery. Fetch failures are returned unchanged (a *model.FetchError or
// *model.ConnectionError from the session); parse failures as
// *model.DecodeError.
func (d *Decoder) Decode(ctx context.Context, session mailbox.Session, ref model.RawMessageRef) (model.DecodedMessage, error) {
	raw, err := session.Fetch(ctx, ref)
	if err != nil {
		return model.DecodedMessage{}, err
	}

	if d.filter != nil && !d.filter.AllowsRaw(raw) {
		d.markSeen(ctx, session, ref)
		return model.DecodedMessage{}, ErrFiltered
	}

	msg, err := Parse(raw, d.logger)
	if err != nil {
		return model.DecodedMessage{}, &model.DecodeError{Ref: ref, Err: err}
	}

	d.markSeen(ctx, session, ref)
	return msg, nil
}

func (d *Decoder) markSeen(ctx context.Context, session mailbox.Session, ref model.RawMessageRef) {
	if err := session.MarkSeen(ctx, ref); err != nil && d.logger != nil {
		d.logger.Warn("mark message seen failed", "uid", ref.String(), "err", err)
	}
}
