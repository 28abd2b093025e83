// Package errors defines the ledger kernel's error taxonomy: Validation and
// BusinessRule errors are never retried, Transient errors are retried
// internally up to a configured cap, and Fatal errors abort the current unit
// of work and are operator-visible.
package errors

import "fmt"

type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindBusinessRule Kind = "BUSINESS_RULE"
	KindTransient    Kind = "TRANSIENT"
	KindFatal        Kind = "FATAL"
)

// KernelError is the single error type surfaced by every subsystem.
type KernelError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *KernelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *KernelError) Unwrap() error { return e.Cause }

// Retryable reports whether the caller's internal retry loop should attempt
// this operation again.
func (e *KernelError) Retryable() bool { return e.Kind == KindTransient }

func new_(kind Kind, code, message string, cause error) *KernelError {
	return &KernelError{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Validation errors — bad input, never retryable.
func InvalidAmount(msg string) *KernelError       { return new_(KindValidation, "InvalidAmount", msg, nil) }
func CurrencyMismatch(msg string) *KernelError    { return new_(KindValidation, "CurrencyMismatch", msg, nil) }
func UnknownAccount(msg string) *KernelError      { return new_(KindValidation, "UnknownAccount", msg, nil) }
func AccountInactive(msg string) *KernelError     { return new_(KindValidation, "AccountInactive", msg, nil) }
func IllegalStateTransition(msg string) *KernelError {
	return new_(KindValidation, "IllegalStateTransition", msg, nil)
}

// BusinessRule errors — domain invariant violations, never retryable.
func InsufficientFunds(msg string) *KernelError { return new_(KindBusinessRule, "InsufficientFunds", msg, nil) }
func DoubleReversal(msg string) *KernelError     { return new_(KindBusinessRule, "DoubleReversal", msg, nil) }
func IdempotencyKeyConflict(msg string) *KernelError {
	return new_(KindBusinessRule, "IdempotencyKeyConflict", msg, nil)
}

// PreviousFailure replays the error message an earlier attempt recorded
// against this idempotency key, for a caller retrying a request whose
// first attempt failed terminally.
func PreviousFailure(msg string) *KernelError {
	return new_(KindBusinessRule, "PreviousFailure", msg, nil)
}

// Transient errors — retried internally up to a configured cap.
func ConcurrencyConflict(msg string) *KernelError { return new_(KindTransient, "ConcurrencyConflict", msg, nil) }
func SerializationFailure(cause error) *KernelError {
	return new_(KindTransient, "SerializationFailure", "transaction could not be serialized", cause)
}
func Timeout(msg string) *KernelError        { return new_(KindTransient, "Timeout", msg, nil) }
func CacheUnavailable(cause error) *KernelError {
	return new_(KindTransient, "CacheUnavailable", "cache is unavailable, degrading to durable store", cause)
}
func TransientConflict(msg string) *KernelError { return new_(KindTransient, "TransientConflict", msg, nil) }
func InProgress(msg string) *KernelError        { return new_(KindTransient, "InProgress", msg, nil) }

// Fatal errors — operator-visible, abort the current unit of work.
func StoreUnavailable(cause error) *KernelError {
	return new_(KindFatal, "StoreUnavailable", "durable store is unavailable", cause)
}
func InvariantViolated(msg string) *KernelError { return new_(KindFatal, "InvariantViolated", msg, nil) }

// Is reports whether err is a *KernelError with the given code, the idiom
// used by callers that branch on a specific failure (e.g. retry loops
// checking for ConcurrencyConflict).
func Is(err error, code string) bool {
	ke, ok := err.(*KernelError)
	if !ok {
		return false
	}
	return ke.Code == code
}
