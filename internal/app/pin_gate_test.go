package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/domain"
)

type fakeLimiter struct {
	counts map[string]int
	err    error
}

func (f *fakeLimiter) Hit(ctx context.Context, scope RateScope, accountID string, limit int, window time.Duration) (RateWindow, error) {
	if f.err != nil {
		return RateWindow{}, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	key := string(scope) + ":" + accountID
	f.counts[key]++
	return RateWindow{Hits: f.counts[key], Limit: limit, ResetAfter: 42 * time.Second}, nil
}

func TestCreatePIN(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	ctx := context.Background()
	h.openAccount(t, "seller-a", 0)

	assert.ErrorIs(t, h.pins.Create(ctx, "seller-a", "1234", "1243"), domain.ErrPINMismatch)
	assert.True(t, domain.IsValidation(h.pins.Create(ctx, "seller-a", "12a4", "12a4")))
	assert.True(t, domain.IsValidation(h.pins.Create(ctx, "seller-a", "12345", "12345")))

	hasPIN, err := h.pins.HasPIN(ctx, "seller-a")
	require.NoError(t, err)
	assert.False(t, hasPIN)

	require.NoError(t, h.pins.Create(ctx, "seller-a", "1234", "1234"))
	assert.ErrorIs(t, h.pins.Create(ctx, "seller-a", "5678", "5678"), domain.ErrPINAlreadySet)

	credential, err := h.repo.GetSecurityCredential(ctx, "seller-a")
	require.NoError(t, err)
	assert.NotEqual(t, "1234", credential.PINHash)
}

func TestVerifyWithoutPIN(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	h.openAccount(t, "seller-a", 0)

	err := h.pins.Verify(context.Background(), "seller-a", "1234")
	assert.ErrorIs(t, err, domain.ErrPINNotSet)
}

func TestVerifyCountsDownAndLocks(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	ctx := context.Background()
	h.openAccount(t, "seller-a", 0)
	require.NoError(t, h.pins.Create(ctx, "seller-a", "1234", "1234"))

	var rejected *domain.PINRejectedError
	require.ErrorAs(t, h.pins.Verify(ctx, "seller-a", "0000"), &rejected)
	assert.Equal(t, 2, rejected.RemainingAttempts)

	require.ErrorAs(t, h.pins.Verify(ctx, "seller-a", "1111"), &rejected)
	assert.Equal(t, 1, rejected.RemainingAttempts)

	var locked *domain.PINLockedError
	require.ErrorAs(t, h.pins.Verify(ctx, "seller-a", "2222"), &locked)
	assert.True(t, locked.LockedUntil.After(time.Now()))

	// The cooldown is persisted: a fresh call with the right PIN is still refused.
	require.ErrorAs(t, h.pins.Verify(ctx, "seller-a", "1234"), &locked)
}

func TestVerifyMalformedPINConsumesNoAttempt(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	ctx := context.Background()
	h.openAccount(t, "seller-a", 0)
	require.NoError(t, h.pins.Create(ctx, "seller-a", "1234", "1234"))

	for i := 0; i < 5; i++ {
		assert.True(t, domain.IsValidation(h.pins.Verify(ctx, "seller-a", "12")))
	}
	credential, err := h.repo.GetSecurityCredential(ctx, "seller-a")
	require.NoError(t, err)
	assert.Zero(t, credential.FailedAttempts)
	assert.NoError(t, h.pins.Verify(ctx, "seller-a", "1234"))
}

func TestVerifySuccessResetsFailures(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	ctx := context.Background()
	h.openAccount(t, "seller-a", 0)
	require.NoError(t, h.pins.Create(ctx, "seller-a", "1234", "1234"))

	var rejected *domain.PINRejectedError
	require.ErrorAs(t, h.pins.Verify(ctx, "seller-a", "0000"), &rejected)
	require.ErrorAs(t, h.pins.Verify(ctx, "seller-a", "0000"), &rejected)
	require.NoError(t, h.pins.Verify(ctx, "seller-a", "1234"))

	credential, err := h.repo.GetSecurityCredential(ctx, "seller-a")
	require.NoError(t, err)
	assert.Zero(t, credential.FailedAttempts)
	assert.Nil(t, credential.LockedUntil)
}

func TestPromptLocksAfterThreeFailuresEvenForCorrectPIN(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	ctx := context.Background()
	h.openAccount(t, "seller-a", 0)
	require.NoError(t, h.pins.Create(ctx, "seller-a", "1234", "1234"))

	prompt := h.pins.NewPrompt("seller-a")
	assert.Equal(t, domain.PINStateAwaitingInput, prompt.State())

	var rejected *domain.PINRejectedError
	require.ErrorAs(t, prompt.Submit(ctx, "0000"), &rejected)
	assert.Equal(t, domain.PINStateRejected, prompt.State())
	assert.Equal(t, 2, prompt.RemainingAttempts())
	require.ErrorAs(t, prompt.Submit(ctx, "0001"), &rejected)

	var locked *domain.PINLockedError
	require.ErrorAs(t, prompt.Submit(ctx, "0002"), &locked)
	assert.Equal(t, domain.PINStateLocked, prompt.State())

	require.ErrorAs(t, prompt.Submit(ctx, "1234"), &locked)
	assert.Equal(t, domain.PINStateLocked, prompt.State())
}

func TestPromptAuthorizesOnce(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	ctx := context.Background()
	h.openAccount(t, "seller-a", 0)
	require.NoError(t, h.pins.Create(ctx, "seller-a", "1234", "1234"))

	prompt := h.pins.NewPrompt("seller-a")
	require.NoError(t, prompt.Submit(ctx, "1234"))
	assert.Equal(t, domain.PINStateAuthorized, prompt.State())
	assert.ErrorIs(t, prompt.Submit(ctx, "1234"), domain.ErrPromptConsumed)
}

func TestPromptValidationErrorKeepsState(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	ctx := context.Background()
	h.openAccount(t, "seller-a", 0)
	require.NoError(t, h.pins.Create(ctx, "seller-a", "1234", "1234"))

	prompt := h.pins.NewPrompt("seller-a")
	assert.True(t, domain.IsValidation(prompt.Submit(ctx, "abc")))
	assert.Equal(t, domain.PINStateAwaitingInput, prompt.State())
	assert.Equal(t, 3, prompt.RemainingAttempts())
}

func TestAuthorizeRunsActionOnlyAfterSuccess(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	ctx := context.Background()
	h.openAccount(t, "seller-a", 0)
	require.NoError(t, h.pins.Create(ctx, "seller-a", "1234", "1234"))

	calls := 0
	action := func(context.Context) error {
		calls++
		return nil
	}
	var rejected *domain.PINRejectedError
	require.ErrorAs(t, h.pins.Authorize(ctx, "seller-a", "9999", action), &rejected)
	assert.Zero(t, calls)

	require.NoError(t, h.pins.Authorize(ctx, "seller-a", "1234", action))
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	assert.ErrorIs(t, h.pins.Authorize(ctx, "seller-a", "1234", func(context.Context) error { return boom }), boom)
}

func TestResetAllowsRecreate(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	ctx := context.Background()
	h.openAccount(t, "seller-a", 0)
	require.NoError(t, h.pins.Create(ctx, "seller-a", "1234", "1234"))

	require.NoError(t, h.pins.Reset(ctx, "seller-a"))
	require.NoError(t, h.pins.Create(ctx, "seller-a", "4321", "4321"))
	assert.NoError(t, h.pins.Verify(ctx, "seller-a", "4321"))
	assert.ErrorIs(t, h.pins.Reset(ctx, "seller-b"), domain.ErrPINNotSet)
}

func TestVerifyRateLimit(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	ctx := context.Background()
	h.openAccount(t, "seller-a", 0)
	require.NoError(t, h.pins.Create(ctx, "seller-a", "1234", "1234"))

	h.pins.limiter = &fakeLimiter{}
	h.pins.opts.VerifyRatePerMinute = 2

	require.NoError(t, h.pins.Verify(ctx, "seller-a", "1234"))
	require.NoError(t, h.pins.Verify(ctx, "seller-a", "1234"))

	var limited *domain.RateLimitedError
	require.ErrorAs(t, h.pins.Verify(ctx, "seller-a", "1234"), &limited)
	assert.Equal(t, 42, limited.RetryAfterSeconds)
}

func TestVerifyRateLimiterOutageFailsOpen(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	ctx := context.Background()
	h.openAccount(t, "seller-a", 0)
	require.NoError(t, h.pins.Create(ctx, "seller-a", "1234", "1234"))

	h.pins.limiter = &fakeLimiter{err: errors.New("redis down")}
	h.pins.opts.VerifyRatePerMinute = 1
	assert.NoError(t, h.pins.Verify(ctx, "seller-a", "1234"))
}
