package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers deciding whether to retry, surface, or halt
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindConfiguration   Kind = "CONFIGURATION"
	KindAuthorization   Kind = "AUTHORIZATION"
	KindConflict        Kind = "CONFLICT"
	KindIntegrity       Kind = "INTEGRITY"
	KindUpstreamTimeout Kind = "UPSTREAM_TIMEOUT"
	KindNotFound        Kind = "NOT_FOUND"
	KindInternal        Kind = "INTERNAL"
)

var (
	// ErrWorkflowCompleted is returned for any action against a terminal workflow
	ErrWorkflowCompleted = errors.New("workflow already completed")

	// ErrVersionConflict is returned when an optimistic version check loses a race
	ErrVersionConflict = errors.New("workflow was modified concurrently")

	// ErrChainBroken is returned when an audit fingerprint does not match its recomputed value
	ErrChainBroken = errors.New("audit hash chain broken")

	// ErrIntegrityHold is returned for any action against a workflow held for compliance review
	ErrIntegrityHold = errors.New("workflow held pending integrity review")
)

// Error is the typed error carried across the engine
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input rejected before any mutation
func Validation(op, format string, args ...interface{}) *Error {
	return newError(KindValidation, op, format, args...)
}

// Configuration reports missing or conflicting rule configuration
func Configuration(op, format string, args ...interface{}) *Error {
	return newError(KindConfiguration, op, format, args...)
}

// Authorization reports an actor not qualified for the action
func Authorization(op, format string, args ...interface{}) *Error {
	return newError(KindAuthorization, op, format, args...)
}

// Conflict reports an action against a terminal workflow or a lost race
func Conflict(op string, err error, format string, args ...interface{}) *Error {
	e := newError(KindConflict, op, format, args...)
	e.Err = err
	return e
}

// Integrity reports a broken audit chain or a replay mismatch
func Integrity(op string, err error, format string, args ...interface{}) *Error {
	e := newError(KindIntegrity, op, format, args...)
	e.Err = err
	return e
}

// UpstreamTimeout reports an unavailable collaborator
func UpstreamTimeout(op string, err error, format string, args ...interface{}) *Error {
	e := newError(KindUpstreamTimeout, op, format, args...)
	e.Err = err
	return e
}

func NotFound(op, format string, args ...interface{}) *Error {
	return newError(KindNotFound, op, format, args...)
}

func Internal(op string, err error, format string, args ...interface{}) *Error {
	e := newError(KindInternal, op, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of the first typed error in the chain, or KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the operation may be retried unchanged.
// Client errors and integrity failures never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindUpstreamTimeout, KindInternal:
		return true
	default:
		return false
	}
}
