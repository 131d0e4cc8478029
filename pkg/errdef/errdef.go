// Package errdef provides the structured error envelope used across Replay.
//
// Every failure that crosses a component boundary is represented as an
// *Error carrying a symbolic code. The code fully determines the error's
// category, severity, recoverability, retryability, and suggested action via
// a static classification table; callers can rely on those attributes being
// deterministic for a given code. Replay reports retryability but never
// retries on its own.
package errdef

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category groups errors by the subsystem responsible for them.
type Category string

const (
	CategoryValidation  Category = "validation"
	CategoryExecution   Category = "execution"
	CategorySystem      Category = "system"
	CategoryIntegration Category = "integration"
	CategoryNetwork     Category = "network"
	CategoryTimeout     Category = "timeout"
)

// Severity indicates how serious an error is for the calling orchestrator.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is the uniform structured error envelope.
type Error struct {
	ID              string         `json:"id"`
	Code            Code           `json:"code"`
	Category        Category       `json:"category"`
	Severity        Severity       `json:"severity"`
	Message         string         `json:"message"`
	Details         map[string]any `json:"details,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Recoverable     bool           `json:"recoverable"`
	Retryable       bool           `json:"retryable"`
	SuggestedAction string         `json:"suggestedAction,omitempty"`

	cause error
}

// New creates a structured error with attributes derived from code.
func New(code Code, message string) *Error {
	c := Classify(code)
	return &Error{
		ID:              uuid.New().String(),
		Code:            code,
		Category:        c.Category,
		Severity:        c.Severity,
		Message:         message,
		Details:         make(map[string]any),
		Timestamp:       time.Now(),
		Recoverable:     c.Recoverable,
		Retryable:       c.Retryable,
		SuggestedAction: c.SuggestedAction,
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap converts a raw error into a structured one under the given code.
// If err is already structured it passes through unchanged, preserving the
// original code and attributes. The original error text is recorded under
// Details["originalError"] and remains reachable via errors.Unwrap.
func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	e := New(code, message)
	e.cause = err
	e.Details["originalError"] = err.Error()
	return e
}

// From returns err as a structured error, wrapping unclassified errors under
// a code absent from the classification table so they pick up the safe
// integration-category default.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	return Wrap(CodeUnexpected, err, err.Error())
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// Cause returns the structured cause, if the wrapped error is itself
// structured, enabling cause chains.
func (e *Error) Cause() *Error {
	if e.cause == nil {
		return nil
	}
	var structured *Error
	if errors.As(e.cause, &structured) {
		return structured
	}
	return nil
}

// WithDetail attaches a key/value pair to the error's details bag.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause records cause as the wrapped error. Unlike Wrap, it does not
// collapse structured causes, so chains of structured errors stay intact.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	if cause != nil {
		if e.Details == nil {
			e.Details = make(map[string]any)
		}
		e.Details["originalError"] = cause.Error()
	}
	return e
}

// As extracts a structured error from err.
func As(err error) (*Error, bool) {
	var structured *Error
	if errors.As(err, &structured) {
		return structured, true
	}
	return nil, false
}

// HasCode reports whether err is a structured error carrying code.
func HasCode(err error, code Code) bool {
	if structured, ok := As(err); ok {
		return structured.Code == code
	}
	return false
}
