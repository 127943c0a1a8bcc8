package tables

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound indicates no session event exists for the id.
var ErrSessionNotFound = errors.New("session not found")

// ErrOrderNotFound indicates no order event exists for the id.
var ErrOrderNotFound = errors.New("order not found")

// TransitionError rejects an operation invalid in the session's
// current state. The state machine only moves forward: a session that
// needs correction is closed and a new one opened.
type TransitionError struct {
	SessionID string
	From      Status
	Op        string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: cannot %s while %s", e.SessionID, e.Op, e.From)
}

// IsTransitionError reports whether err is a state-machine rejection.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
