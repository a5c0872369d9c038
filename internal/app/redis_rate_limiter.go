package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/wallet-service/internal/domain"
)

// RateScope names one throttled wallet action.
type RateScope string

const (
	ScopeTransferSubmit RateScope = "transfer"
	ScopePINVerify      RateScope = "pin"

	DefaultRateLimitPrefix = "wallet:rate_limit"
)

// RateWindow is the state of one account's counter after a hit.
type RateWindow struct {
	Hits       int
	Limit      int
	ResetAfter time.Duration
}

// Exceeded reports whether the hit that produced w went over the limit.
func (w RateWindow) Exceeded() bool {
	return w.Limit > 0 && w.Hits > w.Limit
}

// RetryAfterSeconds rounds ResetAfter up to whole seconds, never below one.
func (w RateWindow) RetryAfterSeconds() int {
	seconds := int((w.ResetAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

// RateLimiter counts hits on an account's action inside a fixed window.
type RateLimiter interface {
	Hit(ctx context.Context, scope RateScope, accountID string, limit int, window time.Duration) (RateWindow, error)
}

// enforceRateLimit applies a per-minute budget. A limiter outage lets the request
// through; the PIN lockout and balance checks still hold without it.
func enforceRateLimit(ctx context.Context, limiter RateLimiter, logger *slog.Logger, scope RateScope, accountID string, perMinute int) error {
	if limiter == nil || perMinute <= 0 {
		return nil
	}
	window, err := limiter.Hit(ctx, scope, accountID, perMinute, time.Minute)
	if err != nil {
		logger.Warn("rate limiter unavailable; allowing", "scope", scope, "account_id", accountID, "error", err)
		return nil
	}
	if window.Exceeded() {
		logger.Info("request throttled", "scope", scope, "account_id", accountID, "hits", window.Hits)
		return &domain.RateLimitedError{RetryAfterSeconds: window.RetryAfterSeconds()}
	}
	return nil
}

// RedisRateLimiter keeps one counter per account and action. Keys look like
// "wallet:rate_limit:{<account>}:transfer"; the braces are a cluster hash tag so all
// of an account's counters live in one slot.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultRateLimitPrefix
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

func (r *RedisRateLimiter) key(scope RateScope, accountID string) string {
	return fmt.Sprintf("%s:{%s}:%s", r.prefix, accountID, scope)
}

// Hit increments the counter and starts its window on the first hit. INCR, EXPIRE NX
// and PTTL run in one MULTI so the window cannot be left without an expiry.
// EXPIRE NX needs Redis 7 or newer.
func (r *RedisRateLimiter) Hit(ctx context.Context, scope RateScope, accountID string, limit int, window time.Duration) (RateWindow, error) {
	accountID = strings.TrimSpace(accountID)
	if r == nil || r.client == nil || limit <= 0 || scope == "" || accountID == "" {
		return RateWindow{}, nil
	}
	if window < time.Second {
		window = time.Second
	}

	key := r.key(scope, accountID)
	var (
		hits *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hits = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return RateWindow{}, fmt.Errorf("rate limit %s: %w", scope, err)
	}

	resetAfter := ttl.Val()
	if resetAfter <= 0 {
		resetAfter = window
	}
	return RateWindow{Hits: int(hits.Val()), Limit: limit, ResetAfter: resetAfter}, nil
}
