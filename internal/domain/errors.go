package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrSelfTransfer           = errors.New("cannot transfer to your own account")
	ErrConcurrentModification = errors.New("account was modified concurrently; try again")
	ErrIdentifierExhausted    = errors.New("could not allocate a unique account number")
	ErrPINNotSet              = errors.New("transfer pin not set")
	ErrPINAlreadySet          = errors.New("transfer pin already set")
	ErrPINMismatch            = errors.New("pin and confirmation do not match")
	ErrPromptConsumed         = errors.New("authorization prompt already used")
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrTransferInProgress     = errors.New("a transfer with this idempotency key is still processing")
	ErrIdempotencyConflict    = errors.New("idempotency key was already used for a different request")
)

// ValidationError reports malformed input. It is raised before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientFundsError is safe to show to the account owner verbatim.
type InsufficientFundsError struct {
	Available int64
	Required  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %d, required %d, short by %d", e.Available, e.Required, e.Shortfall())
}

// Shortfall is how much more the account needs, in kobo.
func (e *InsufficientFundsError) Shortfall() int64 {
	if e.Required <= e.Available {
		return 0
	}
	return e.Required - e.Available
}

// PINRejectedError is a wrong PIN that has not yet triggered a lockout.
type PINRejectedError struct {
	RemainingAttempts int
}

func (e *PINRejectedError) Error() string {
	return fmt.Sprintf("invalid transfer pin; %d attempt(s) remaining", e.RemainingAttempts)
}

// PINLockedError is returned while the account is in its PIN cooldown.
type PINLockedError struct {
	LockedUntil time.Time
}

func (e *PINLockedError) Error() string {
	if e.LockedUntil.IsZero() {
		return "too many incorrect pin attempts"
	}
	return fmt.Sprintf("too many incorrect pin attempts; locked until %s", e.LockedUntil.UTC().Format(time.RFC3339))
}

// StoreUnavailableError wraps an infrastructure failure. It says nothing about
// whether the operation took effect.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// RateLimitedError is returned when a per-account throttle is exceeded.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded; retry after %ds", e.RetryAfterSeconds)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
