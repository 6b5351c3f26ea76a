// Package errs implements the engine-wide error taxonomy: every failure
// surfaced across a component boundary is re-categorized into one of a
// small set of machine-readable kinds so callers can decide whether to
// retry.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the machine-readable error category. Categories are permanent
// unless documented otherwise.
type Kind string

const (
	// InvalidInput means parameters violated a preconditioned invariant.
	// Permanent; never retried.
	InvalidInput Kind = "InvalidInput"
	// NotFound means the referenced id does not exist. Permanent.
	NotFound Kind = "NotFound"
	// Stale means the operation's precondition evaporated (auction ended,
	// deadline passed). Permanent at that callsite.
	Stale Kind = "Stale"
	// Transient means network, timeout, or resource contention. Retried
	// by the caller's error handler.
	Transient Kind = "Transient"
	// CircuitOpen means the dependency is quarantined. Carries RetryAfter.
	CircuitOpen Kind = "CircuitOpen"
	// ConsensusFailed means the coordinator returned Aborted or
	// RolledBack. Terminal for the current transaction.
	ConsensusFailed Kind = "ConsensusFailed"
	// AtomicityViolation means a post-execution settlement invariant check
	// failed (a saga left partial state across bridges/stores). Never
	// recovered automatically; quarantines the whole engine.
	AtomicityViolation Kind = "AtomicityViolation"
	// RateLimited means the caller exceeded the configured submission rate.
	RateLimited Kind = "RateLimited"
	// ClearingInvariant means a single auction's clearing result violated
	// Σ allocated ≤ S(clearing_price) before any settlement was attempted.
	// Scoped to the offending auction/supply schedule, not the process.
	ClearingInvariant Kind = "ClearingInvariant"
)

// Retryable reports whether a Kind is ever worth retrying: only
// Transient, RateLimited, and CircuitOpen are.
func (k Kind) Retryable() bool {
	switch k {
	case Transient, RateLimited, CircuitOpen:
		return true
	default:
		return false
	}
}

// Error is the engine-wide error envelope. Every failure returned across
// a component boundary carries a machine-readable code. CorrelationID is
// empty unless set with WithCorrelation; New and Wrap do not set it.
type Error struct {
	Kind          Kind
	Code          string
	Message       string
	CorrelationID string
	RetryAfter    time.Duration
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind and code.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap re-categorizes cause into kind, preserving it via Unwrap.
func Wrap(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: cause.Error(), Cause: cause}
}

// WithCorrelation attaches a correlation id, returning the receiver for
// chaining.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// WithRetryAfter attaches a retry-after hint, returning the receiver for
// chaining.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// Is reports whether err's Kind matches kind, per the errors.Is protocol.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not (or does not wrap)
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
