package model

import "fmt"

// ConnectionError reports an authentication or network failure on the
// mailbox session. It moves the watcher into reconnection.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("connection: %s: %v", e.Op, e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// FetchError reports a non-OK server status for one message. The message is
// skipped and the session stays usable.
type FetchError struct {
	Ref RawMessageRef
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch message %s: %v", e.Ref, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError reports a message that could not be parsed.
type DecodeError struct {
	Ref RawMessageRef
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode message %s: %v", e.Ref, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// ExtractionError reports an attachment whose text could not be extracted.
type ExtractionError struct {
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Format, e.Err)
}
func (e *ExtractionError) Unwrap() error { return e.Err }

// AnalysisError reports an unreachable reasoning service or a response
// without a usable JSON array.
type AnalysisError struct {
	Op  string
	Err error
}

func (e *AnalysisError) Error() string { return fmt.Sprintf("analysis: %s: %v", e.Op, e.Err) }
func (e *AnalysisError) Unwrap() error { return e.Err }

// ValidationError reports a line item with a malformed date or amount.
type ValidationError struct {
	Field string
	Value string
	Item  string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Error adding item %s: invalid %s %q: %v", e.Item, e.Field, e.Value, e.Err)
}
func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceError reports an unreachable ledger or dedup store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// NotificationError reports a summary that could not be delivered.
type NotificationError struct {
	To  string
	Err error
}

func (e *NotificationError) Error() string { return fmt.Sprintf("notify %s: %v", e.To, e.Err) }
func (e *NotificationError) Unwrap() error { return e.Err }
