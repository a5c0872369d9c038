package app

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/domain"
)

func newTestRedisLimiter(t *testing.T) *RedisRateLimiter {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return NewRedisRateLimiter(client, "wallet:test:")
}

func TestRedisRateLimiter_CountsWithinWindow(t *testing.T) {
	limiter := newTestRedisLimiter(t)
	ctx := context.Background()
	accountID := uuid.NewString()

	for want := 1; want <= 3; want++ {
		window, err := limiter.Hit(ctx, ScopeTransferSubmit, accountID, 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, window.Hits)
		assert.Equal(t, want > 2, window.Exceeded())
		assert.LessOrEqual(t, window.ResetAfter, time.Minute)
		assert.Greater(t, window.ResetAfter, time.Duration(0))
	}

	window, err := limiter.Hit(ctx, ScopePINVerify, accountID, 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, window.Hits, "scopes are counted separately")
}

func TestRedisRateLimiter_DisabledInputs(t *testing.T) {
	var nilLimiter *RedisRateLimiter
	window, err := nilLimiter.Hit(context.Background(), ScopeTransferSubmit, "a", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, window.Exceeded())

	limiter := NewRedisRateLimiter(nil, "")
	assert.Equal(t, "wallet:rate_limit:{seller-a}:transfer", limiter.key(ScopeTransferSubmit, "seller-a"))
	window, err = limiter.Hit(context.Background(), ScopeTransferSubmit, " ", 5, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, window.Hits)
}

func TestRateWindowRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RateWindow{}.RetryAfterSeconds())
	assert.Equal(t, 1, RateWindow{ResetAfter: 200 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 43, RateWindow{ResetAfter: 42*time.Second + time.Millisecond}.RetryAfterSeconds())
	assert.False(t, RateWindow{Hits: 9}.Exceeded(), "a zero limit never throttles")
}

func TestEnforceRateLimit(t *testing.T) {
	ctx := context.Background()
	limiter := &fakeLimiter{}

	require.NoError(t, enforceRateLimit(ctx, limiter, discardLogger(), ScopeTransferSubmit, "seller-a", 1))
	err := enforceRateLimit(ctx, limiter, discardLogger(), ScopeTransferSubmit, "seller-a", 1)
	var limited *domain.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 42, limited.RetryAfterSeconds)

	assert.NoError(t, enforceRateLimit(ctx, limiter, discardLogger(), ScopeTransferSubmit, "seller-a", 0))
	assert.NoError(t, enforceRateLimit(ctx, nil, discardLogger(), ScopeTransferSubmit, "seller-a", 1))
	assert.NoError(t, enforceRateLimit(ctx, &fakeLimiter{err: errors.New("redis down")}, discardLogger(), ScopePINVerify, "seller-a", 1))
}
