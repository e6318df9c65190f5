// Package result carries the value-or-failure outcome of workflow steps. A
// *Failure keeps the status or domain code, the retry annotations and the
// underlying error; only the envelope builder turns it into HTTP.
package result

import (
	"context"
	"errors"
	"fmt"
)

// Failure is the typed failure value threaded through the retry engine, the
// prompt cache, the quota store and the workflow service. Only the envelope
// builder turns it into an HTTP status and a domain code.
type Failure struct {
	// Message is the provider or internal error text. It is never shown in
	// the primary user-facing message field.
	Message string

	// StatusCode is a status-like code attached to the error (HTTP status of
	// a provider response, or a domain code). Zero means absent.
	StatusCode int

	// SafetyCode is non-zero when the failure is a content-safety rejection
	// (1001-1005).
	SafetyCode int

	// Attempts is the number of attempts made by the retry engine.
	Attempts int

	// Exhausted is true when the retry engine ran out of attempts, false
	// when it stopped on a permanent error.
	Exhausted bool

	// Permanent records the classification of the last error.
	Permanent bool

	// Err is the underlying error, if any.
	Err error
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d)", f.Message, f.StatusCode)
	}
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsSafety reports whether the failure is a content-safety rejection.
func (f *Failure) IsSafety() bool {
	return f != nil && f.SafetyCode != 0
}

// Classification returns "permanent" or "retryable" for diagnostics.
func (f *Failure) Classification() string {
	if f.Permanent {
		return "permanent"
	}
	return "retryable"
}

// New creates a Failure with a message and optional status code.
func New(status int, format string, args ...any) *Failure {
	return &Failure{Message: fmt.Sprintf(format, args...), StatusCode: status}
}

// Safety creates a content-safety rejection failure.
func Safety(code int, message string) *Failure {
	return &Failure{Message: message, StatusCode: code, SafetyCode: code, Permanent: true}
}

// From converts any error into a *Failure. An existing *Failure anywhere in
// the chain is returned as-is. Deadline errors become timeout failures.
func From(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Message: "timeout: " + err.Error(), Err: err}
	}
	return &Failure{Message: err.Error(), Err: err}
}

// Result is a value-or-failure union.
type Result[T any] struct {
	Value   T
	Failure *Failure
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps a failure.
func Fail[T any](f *Failure) Result[T] {
	if f == nil {
		f = &Failure{Message: "unknown failure"}
	}
	return Result[T]{Failure: f}
}

// OK reports whether the result holds a value.
func (r Result[T]) OK() bool {
	return r.Failure == nil
}

// Unwrap returns the value and the failure as a plain error.
func (r Result[T]) Unwrap() (T, error) {
	if r.Failure != nil {
		return r.Value, r.Failure
	}
	return r.Value, nil
}
