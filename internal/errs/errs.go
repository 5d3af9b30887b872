// Package errs defines the dashboard's error taxonomy.
//
// Validation errors are raised before any fetch and leave state untouched.
// Transport and malformed-response errors are absorbed by the data
// controllers, which keep showing their last good result.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Class names used in fetch records, metrics labels and API payloads.
const (
	ClassValidation = "validation"
	ClassTransport  = "transport"
	ClassMalformed  = "malformed"
	ClassCanceled   = "canceled"
	ClassUnknown    = "unknown"
)

// ErrInactive is returned by intents sent to a controller that has been
// replaced by a mode switch.
var ErrInactive = errors.New("view is not active")

// ValidationError rejects user input such as a future date or an inverted range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransportError is a network failure or a non-success HTTP status.
type TransportError struct {
	Op     string
	Status int // 0 when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is a payload missing or mistyping expected fields.
type MalformedResponseError struct {
	Op     string
	Detail string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed response: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: malformed response: %s", e.Op, e.Detail)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Malformed builds a MalformedResponseError.
func Malformed(op, detail string, err error) error {
	return &MalformedResponseError{Op: op, Detail: detail, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Class maps err onto one of the Class* names. A nil error has no class.
func Class(err error) string {
	if err == nil {
		return ""
	}
	var (
		v *ValidationError
		m *MalformedResponseError
		t *TransportError
	)
	switch {
	case errors.As(err, &v):
		return ClassValidation
	case errors.As(err, &m):
		return ClassMalformed
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.As(err, &t):
		return ClassTransport
	default:
		return ClassUnknown
	}
}
