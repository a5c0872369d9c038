package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	PINLength             = 4
	DefaultPINMaxAttempts = 3
	DefaultPINLockout     = 15 * time.Minute
)

type PINOptions struct {
	MaxAttempts         int
	Lockout             time.Duration
	VerifyRatePerMinute int
	HashCost            int
}

// PINGate verifies transfer PINs before any balance-mutating action. Failure counts
// and cooldowns are persisted per account, so they survive new prompts and restarts.
type PINGate struct {
	repo    store.Repository
	limiter RateLimiter
	opts    PINOptions
	now     func() time.Time
	logger  *slog.Logger
}

func NewPINGate(repo store.Repository, limiter RateLimiter, opts PINOptions, logger *slog.Logger) *PINGate {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultPINMaxAttempts
	}
	if opts.Lockout <= 0 {
		opts.Lockout = DefaultPINLockout
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PINGate{
		repo:    repo,
		limiter: limiter,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With("component", "pin_gate"),
	}
}

// ValidatePINFormat accepts exactly four ASCII digits.
func ValidatePINFormat(pin string) error {
	if len(pin) != PINLength {
		return domain.NewValidationError("pin", "must be exactly 4 digits")
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return domain.NewValidationError("pin", "must be exactly 4 digits")
		}
	}
	return nil
}

// HasPIN reports whether the account has completed PIN setup.
func (g *PINGate) HasPIN(ctx context.Context, accountID string) (bool, error) {
	_, err := g.repo.GetSecurityCredential(ctx, accountID)
	if errors.Is(err, domain.ErrPINNotSet) {
		return false, nil
	}
	if err != nil {
		return false, storeError("get security credential", err)
	}
	return true, nil
}

// Create stores the first PIN for an account. The confirmation must match and no PIN
// may exist yet.
func (g *PINGate) Create(ctx context.Context, accountID, pin, confirmation string) error {
	if err := ValidatePINFormat(pin); err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(pin), []byte(confirmation)) != 1 {
		return domain.ErrPINMismatch
	}

	hasPIN, err := g.HasPIN(ctx, accountID)
	if err != nil {
		return err
	}
	if hasPIN {
		return domain.ErrPINAlreadySet
	}
	if _, err := g.repo.EnsureAccount(ctx, accountID); err != nil {
		return storeError("ensure account", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), g.opts.HashCost)
	if err != nil {
		return err
	}
	if err := g.repo.CreateTransferPIN(ctx, accountID, string(hash)); err != nil {
		return storeError("create transfer pin", err)
	}
	g.logger.Info("transfer pin created", "account_id", accountID)
	return nil
}

// Reset deletes the PIN so the owner can run Create again. It is an admin operation.
func (g *PINGate) Reset(ctx context.Context, accountID string) error {
	if err := g.repo.DeleteTransferPIN(ctx, accountID); err != nil {
		return storeError("delete transfer pin", err)
	}
	g.logger.Warn("transfer pin reset", "account_id", accountID)
	return nil
}

// Verify checks pin against the stored hash.
//
// A malformed pin is a ValidationError and costs no attempt. While the account is
// in cooldown every call returns PINLockedError without comparing. A wrong pin
// returns PINRejectedError, or PINLockedError once the threshold is reached.
func (g *PINGate) Verify(ctx context.Context, accountID, pin string) error {
	if err := ValidatePINFormat(pin); err != nil {
		return err
	}
	if err := g.throttle(ctx, accountID); err != nil {
		return err
	}

	credential, err := g.repo.GetSecurityCredential(ctx, accountID)
	if err != nil {
		return storeError("get security credential", err)
	}
	if credential.IsLocked(g.now()) {
		return &domain.PINLockedError{LockedUntil: *credential.LockedUntil}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(credential.PINHash), []byte(pin)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			g.logger.Error("stored pin hash unusable", "account_id", accountID, "error", err)
		}
		updated, recordErr := g.repo.RecordFailedPINAttempt(ctx, accountID, g.opts.MaxAttempts, g.opts.Lockout)
		if recordErr != nil {
			return storeError("record failed pin attempt", recordErr)
		}
		if updated.LockedUntil != nil {
			g.logger.Warn("transfer pin locked", "account_id", accountID, "locked_until", updated.LockedUntil)
			return &domain.PINLockedError{LockedUntil: *updated.LockedUntil}
		}
		remaining := g.opts.MaxAttempts - updated.FailedAttempts
		if remaining < 0 {
			remaining = 0
		}
		return &domain.PINRejectedError{RemainingAttempts: remaining}
	}

	if credential.FailedAttempts > 0 || credential.LockedUntil != nil {
		if err := g.repo.ResetPINFailureState(ctx, accountID); err != nil {
			return storeError("reset pin failure state", err)
		}
	}
	return nil
}

// Authorize verifies pin and, only on success, runs action once.
func (g *PINGate) Authorize(ctx context.Context, accountID, pin string, action func(context.Context) error) error {
	if err := g.Verify(ctx, accountID, pin); err != nil {
		return err
	}
	return action(ctx)
}

func (g *PINGate) throttle(ctx context.Context, accountID string) error {
	return enforceRateLimit(ctx, g.limiter, g.logger, ScopePINVerify, accountID, g.opts.VerifyRatePerMinute)
}

// PINPrompt is one authorization prompt. It moves
// AwaitingInput -> Verifying -> Authorized | Rejected | Locked, where Rejected
// returns to AwaitingInput on the next submission and Locked and Authorized are
// terminal for the prompt.
type PINPrompt struct {
	gate      *PINGate
	accountID string

	mu          sync.Mutex
	state       domain.PINState
	failures    int
	lockedUntil time.Time
}

// NewPrompt starts a prompt for accountID.
func (g *PINGate) NewPrompt(accountID string) *PINPrompt {
	return &PINPrompt{
		gate:      g,
		accountID: strings.TrimSpace(accountID),
		state:     domain.PINStateAwaitingInput,
	}
}

// State returns the prompt's current state.
func (p *PINPrompt) State() domain.PINState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// RemainingAttempts is how many wrong entries this prompt still tolerates.
func (p *PINPrompt) RemainingAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if remaining := p.gate.opts.MaxAttempts - p.failures; remaining > 0 {
		return remaining
	}
	return 0
}

// Submit verifies one PIN entry. Once the prompt is locked, even the correct PIN is
// refused without being compared.
func (p *PINPrompt) Submit(ctx context.Context, pin string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case domain.PINStateLocked:
		return &domain.PINLockedError{LockedUntil: p.lockedUntil}
	case domain.PINStateAuthorized:
		return domain.ErrPromptConsumed
	}

	previous := p.state
	p.state = domain.PINStateVerifying
	err := p.gate.Verify(ctx, p.accountID, pin)

	var (
		rejected *domain.PINRejectedError
		locked   *domain.PINLockedError
	)
	switch {
	case err == nil:
		p.state = domain.PINStateAuthorized
		p.failures = 0
	case errors.As(err, &locked):
		p.state = domain.PINStateLocked
		p.lockedUntil = locked.LockedUntil
	case errors.As(err, &rejected):
		p.failures++
		if p.failures >= p.gate.opts.MaxAttempts {
			p.state = domain.PINStateLocked
			p.lockedUntil = p.gate.now().Add(p.gate.opts.Lockout)
			return &domain.PINLockedError{LockedUntil: p.lockedUntil}
		}
		p.state = domain.PINStateRejected
		if rejected.RemainingAttempts > p.gate.opts.MaxAttempts-p.failures {
			rejected.RemainingAttempts = p.gate.opts.MaxAttempts - p.failures
		}
	default:
		p.state = previous
	}
	return err
}
