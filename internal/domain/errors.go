package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrCapabilityNotFound  = fmt.Errorf("capability not found")
	ErrCapabilityInactive  = fmt.Errorf("capability inactive")
	ErrDuplicateCapability = fmt.Errorf("capability already registered")
	ErrExtractFailed       = fmt.Errorf("oracle output extraction failed")
	ErrRetriesExhausted    = fmt.Errorf("turn retries exhausted")
	ErrDeclaredFailure     = fmt.Errorf("capability declared error status")
	ErrSessionNotFound     = fmt.Errorf("session not found")
	ErrSnapshotNotFound    = fmt.Errorf("pause snapshot not found")
	ErrBlobNotFound        = fmt.Errorf("blob not found")
	ErrProviderUnavailable = fmt.Errorf("tool provider unavailable")
	ErrToolNotFound        = fmt.Errorf("tool not found")
	ErrInvalidArguments    = fmt.Errorf("invalid tool arguments")

	// Oracle transport errors.
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")
	ErrOracleError = fmt.Errorf("oracle request failed")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g. "Registry.Get")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRecoverable reports whether err describes a failure the caller may retry
// or resume from, as opposed to a permanently stuck loop.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrOracleError) ||
		errors.Is(err, ErrExtractFailed)
}
