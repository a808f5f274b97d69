package escrow

import (
	"errors"
	"fmt"
)

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

var (
	ErrNoSigner             = Err("no signer")
	ErrProviderUnavailable  = Err("signing provider unavailable")
	ErrUserRejected         = Err("user rejected request")
	ErrInvalidTransition    = Err("invalid transition")
	ErrReverted             = Err("transaction reverted")
	ErrNetwork              = Err("network error")
	ErrEventNotFound        = Err("expected event not found")
	ErrFeeChanged           = Err("creation fee changed")
	ErrOperationInProgress  = Err("operation in progress")
	ErrConsistencyViolation = Err("consistency violation")
	ErrStoreUnavailable     = Err("content store unavailable")
	ErrUnauthorized         = Err("unauthorized")
	ErrNotFound             = Err("not found")
)

// Error is a classified failure. Kind is one of the Err values above; errors.Is
// matches on it.
type Error struct {
	Kind   Err
	Op     string
	Reason string
	Err    error
}

// NewError builds a classified error.
func NewError(kind Err, op, reason string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: cause}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(Err)
	return ok && k == e.Kind
}

// KindOf returns the classification of err, or "" when unclassified.
func KindOf(err error) Err {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Err
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// Retryable reports whether resubmitting is safe without reconciling first.
func Retryable(err error) bool {
	return KindOf(err) == ErrNetwork
}

// NeedsReconcile reports whether the caller must re-read ledger state before
// any further write for the job.
func NeedsReconcile(err error) bool {
	switch KindOf(err) {
	case ErrReverted, ErrInvalidTransition, ErrEventNotFound, ErrConsistencyViolation:
		return true
	}
	return false
}

// Consistency builds a ConsistencyViolation for field on job id.
func Consistency(id uint64, field string, have, got any) *Error {
	return NewError(ErrConsistencyViolation, "upsert", fmt.Sprintf("job %d %s: have %v, got %v", id, field, have, got), nil)
}
