package domain

import (
	"errors"
	"fmt"
)

// DriverErrorKind classifies failures of the external game driver.
type DriverErrorKind string

const (
	DriverActionFailed      DriverErrorKind = "action_failed"
	DriverNavigationTimeout DriverErrorKind = "navigation_timeout"
)

// DriverError is a failure of a browser/game driver operation. ActionFailed
// is retried a small bounded number of times inside the round;
// NavigationTimeout at a round boundary may additionally be retried once by
// the session.
type DriverError struct {
	Kind DriverErrorKind
	Op   string
	Err  error
}

func (e *DriverError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("driver %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("driver %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// InferenceErrorKind classifies failures of the inference backend.
type InferenceErrorKind string

const (
	InferenceTimeout      InferenceErrorKind = "timeout"
	InferenceRateLimited  InferenceErrorKind = "rate_limited"
	InferenceUnparseable  InferenceErrorKind = "unparseable"
	InferenceBackendFault InferenceErrorKind = "backend_fault"
)

// InferenceError is a failure of an inference call. Timeout and RateLimited
// are retried once with backoff; Unparseable is never retried blindly, the
// backend's output is untrusted rather than assumed transient; BackendFault
// fails the round.
type InferenceError struct {
	Kind    InferenceErrorKind
	Backend string
	Err     error
}

func (e *InferenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("inference %s: %s", e.Backend, e.Kind)
	}
	return fmt.Sprintf("inference %s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Retryable reports whether one retry with backoff is permitted.
func (e *InferenceError) Retryable() bool {
	return e.Kind == InferenceTimeout || e.Kind == InferenceRateLimited
}

// ValidationError rejects a value that violates a domain invariant, such as
// a candidate guess with out-of-range coordinates.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AsDriverError unwraps err to a *DriverError if one is in the chain.
func AsDriverError(err error) (*DriverError, bool) {
	var de *DriverError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// AsInferenceError unwraps err to an *InferenceError if one is in the chain.
func AsInferenceError(err error) (*InferenceError, bool) {
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
