package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/tay1862/kinsaep-core/internal/event"
	"github.com/tay1862/kinsaep-core/internal/store"
)

// Sink is the contract the engine needs from an external system. The
// transport behind it (websocket relay, SQL server, test double) is
// not the engine's concern.
type Sink interface {
	// Name identifies the sink for cursors, acks and logs. Must be
	// stable across restarts.
	Name() string

	// Publish delivers one event. A nil return is an acknowledgement.
	// Errors must be classified via NewTransientError /
	// NewPermanentError so the engine can pick retry or dead-letter.
	Publish(ctx context.Context, ev *event.Event) error

	// Query returns events matching the filter.
	Query(ctx context.Context, f store.Filter) ([]*event.Event, error)

	// Subscribe streams events matching the filter as the sink sees
	// them. The channel closes when ctx is done or the sink drops the
	// subscription.
	Subscribe(ctx context.Context, f store.Filter) (<-chan *event.Event, error)
}

// SinkError classifies a sink failure for the retry policy.
type SinkError struct {
	Sink      string
	Permanent bool
	Err       error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	class := "transient"
	if e.Permanent {
		class = "permanent"
	}
	return fmt.Sprintf("sink %s: %s error: %v", e.Sink, class, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *SinkError) Unwrap() error { return e.Err }

// NewTransientError wraps a retryable failure (network, availability).
func NewTransientError(sink string, err error) *SinkError {
	return &SinkError{Sink: sink, Err: err}
}

// NewPermanentError wraps a terminal rejection (authorization, schema).
// Items hitting a permanent error are dead-lettered without retry.
func NewPermanentError(sink string, err error) *SinkError {
	return &SinkError{Sink: sink, Permanent: true, Err: err}
}

// IsPermanent reports whether err is a permanent sink rejection.
// Unclassified errors default to transient: retrying a permanent
// failure wastes attempts, but dropping a transient one loses data.
func IsPermanent(err error) bool {
	var se *SinkError
	return errors.As(err, &se) && se.Permanent
}
