package domain

import "time"

// SecurityCredential stores the hashed transfer PIN and its persisted attempt state.
type SecurityCredential struct {
	AccountID      string     `json:"account_id"`
	PINHash        string     `json:"-"`
	FailedAttempts int        `json:"failed_attempts"`
	LastFailedAt   *time.Time `json:"last_failed_at,omitempty"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}

// IsLocked reports whether the credential is inside an active cooldown.
func (c *SecurityCredential) IsLocked(now time.Time) bool {
	return c != nil && c.LockedUntil != nil && c.LockedUntil.After(now)
}

// PINState is a state of a single authorization prompt.
type PINState string

const (
	PINStateAwaitingInput PINState = "awaiting_input"
	PINStateVerifying     PINState = "verifying"
	PINStateAuthorized    PINState = "authorized"
	PINStateRejected      PINState = "rejected"
	PINStateLocked        PINState = "locked"
)

// CreatePINRequest is the DTO for first-time PIN setup.
type CreatePINRequest struct {
	PIN        string `json:"pin"`
	ConfirmPIN string `json:"confirm_pin"`
}
