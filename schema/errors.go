// Package schema defines the data model shared across the voice gateway,
// orchestrator, dispatcher, and outbox components: sessions, audio frames,
// slot frames, turn state, tool results, outbox records, and the error
// taxonomy every component returns instead of ad hoc strings.
package schema

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode categorizes a failure for propagation-policy decisions (spec §7):
// which errors terminate a turn immediately, which trigger a single retry,
// and which are captured per-item without aborting a batch.
type ErrorCode string

const (
	// Auth
	ErrAuthFailed    ErrorCode = "AUTH_FAILED"
	ErrTokenExpired  ErrorCode = "TOKEN_EXPIRED"

	// Transport
	ErrPingTimeout ErrorCode = "PING_TIMEOUT"
	ErrWSClosed    ErrorCode = "WS_CLOSED"

	// Policy
	ErrRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrOriginRejected    ErrorCode = "ORIGIN_REJECTED"
	ErrPIIBlocked        ErrorCode = "PII_BLOCKED"
	ErrBudgetExceeded    ErrorCode = "BUDGET_EXCEEDED"

	// Input
	ErrValidation  ErrorCode = "VALIDATION_ERROR"
	ErrUnsafeInput ErrorCode = "UNSAFE_INPUT"

	// Provider
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrProviderTimeout     ErrorCode = "PROVIDER_TIMEOUT"

	// Orchestrator
	ErrPlanInvalid       ErrorCode = "PLAN_INVALID"
	ErrMaxLoopsExceeded  ErrorCode = "MAX_LOOPS_EXCEEDED"

	// Dispatch
	ErrActionNotFound      ErrorCode = "ACTION_NOT_FOUND"
	ErrActionFailed        ErrorCode = "ACTION_FAILED"
	ErrConfirmationRequired ErrorCode = "CONFIRMATION_REQUIRED"

	// Outbox
	ErrPublishFailed ErrorCode = "PUBLISH_FAILED"
	ErrDeadLettered  ErrorCode = "DEAD_LETTERED"
)

// retryableCodes lists the codes IsRetryable reports as retryable: the
// Provider errors and PUBLISH_FAILED. Everything else either terminates the
// turn or is handled by a component-specific recovery strategy (handleError).
var retryableCodes = map[ErrorCode]bool{
	ErrProviderUnavailable: true,
	ErrProviderTimeout:     true,
	ErrPublishFailed:       true,
}

// Error is a structured error carrying the failing operation, a category
// code, a human-readable message, and an optional wrapped cause.
type Error struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error

	// ResetAt is set for ErrRateLimitExceeded so the gateway can surface the
	// bucket's reset time on the wire error event (spec §8 scenario 4); zero
	// for every other code.
	ResetAt time.Time
}

// NewError builds an Error. cause may be nil.
func NewError(op string, code ErrorCode, msg string, cause error) *Error {
	return &Error{Op: op, Code: code, Message: msg, Err: cause}
}

// NewRateLimitError builds an ErrRateLimitExceeded Error carrying the
// bucket's reset time.
func NewRateLimitError(op, msg string, resetAt time.Time) *Error {
	return &Error{Op: op, Code: ErrRateLimitExceeded, Message: msg, ResetAt: resetAt}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Op, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Op, e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// IsRetryable reports whether err carries a retryable code.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return retryableCodes[e.Code]
	}
	return false
}

// Code extracts the ErrorCode from err, or "" if err is not (or does not
// wrap) an *Error.
func Code(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
