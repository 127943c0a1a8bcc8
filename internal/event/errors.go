package event

import (
	"errors"
	"fmt"
)

// RejectCode categorizes why an event was rejected before application.
type RejectCode string

const (
	// RejectMalformed indicates a structurally invalid event
	// (missing author, bad hex, negative kind, oversize field).
	RejectMalformed RejectCode = "MALFORMED"

	// RejectIDMismatch indicates the event's ID does not match its
	// content. The event was altered after ID assignment.
	RejectIDMismatch RejectCode = "ID_MISMATCH"

	// RejectBadSignature indicates signature verification failed.
	RejectBadSignature RejectCode = "BAD_SIGNATURE"
)

// ValidationError reports a structurally invalid event. Validation
// failures are returned as typed rejections, never panics, and always
// occur before any state change.
type ValidationError struct {
	Code    RejectCode
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SignatureError reports an authorship/integrity failure. Always fatal
// to the event in question; never auto-retried.
type SignatureError struct {
	EventID string
	Author  string
}

// Error implements the error interface.
func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s: signature verification failed (event=%s, author=%s)",
		RejectBadSignature, e.EventID, e.Author)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSignatureError reports whether err is (or wraps) a SignatureError.
func IsSignatureError(err error) bool {
	var se *SignatureError
	return errors.As(err, &se)
}
