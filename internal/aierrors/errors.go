// Package aierrors implements the error taxonomy of spec §7, generalizing
// kernel/utils/errors.go's two free functions (NewError, WrapError) into a
// typed Kind the orchestrator can branch on (retry vs. fallback vs. surface
// to the caller) while keeping the same thin fmt.Errorf-based construction.
package aierrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a stable error classification surfaced to callers.
type Kind string

const (
	InvalidInput     Kind = "InvalidInput"
	NoLegalMove      Kind = "NoLegalMove"
	DeadlineExceeded Kind = "DeadlineExceeded"
	TransientCompute Kind = "TransientCompute"
	QueueFull        Kind = "QueueFull"
	CircuitOpen      Kind = "CircuitOpen"
	Internal         Kind = "Internal"
)

// Retryable reports whether the retry wrapper should attempt this Kind again.
func (k Kind) Retryable() bool {
	return k == TransientCompute || k == Internal
}

// CountsTowardBreaker reports whether a failure of this Kind should count as
// a breaker failure.
func (k Kind) CountsTowardBreaker() bool {
	return k == TransientCompute || k == Internal
}

// Error is the typed error value returned across the core's callable
// surface: a stable Kind, a human message, a correlation id (the owning
// span id), and an optional wrapped cause.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("%s: %s [%s]", e.Kind, e.Message, e.CorrelationID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a taxonomy error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a taxonomy error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithCorrelation attaches a correlation id (typically a span id) and
// returns the same error for chaining.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error. A bare
// context.DeadlineExceeded or context.Canceled — what a deadline-respecting
// collaborator or a cancelled queue wait actually returns — classifies as
// DeadlineExceeded rather than falling through to Internal, so it neither
// trips the breaker nor gets retried (spec §7: "never triggers breaker
// opening", "non-retryable by default"). Everything else unclassified
// defaults to Internal.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return DeadlineExceeded
	}
	return Internal
}
