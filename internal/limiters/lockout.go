package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the failed-attempt lock guard.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration // trailing interval over which failures count
	Duration  time.Duration // lock flag TTL
}

var (
	// ErrLockoutUnavailable indicates the lock flag backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// FailureCounter reports how many failed attempts an email accumulated since
// the given instant. Backed by the durable attempt ledger.
type FailureCounter func(ctx context.Context, email string, since time.Time) (int64, error)

// LockGuard gates login on an ephemeral per-email lock flag and decides,
// from ledger history, when to set it.
type LockGuard struct {
	redis  redis.UniversalClient
	count  FailureCounter
	config LockoutConfig
}

// NewLockGuard creates a lock guard over the given Redis client and ledger
// counter.
func NewLockGuard(redisClient redis.UniversalClient, count FailureCounter, cfg LockoutConfig) *LockGuard {
	return &LockGuard{redis: redisClient, count: count, config: cfg}
}

func lockKey(email string) string {
	return "account_lock:" + email
}

// IsLocked reports whether the lock flag is present. Fails open: a backend
// error reads as unlocked, with the error returned for logging.
func (g *LockGuard) IsLocked(ctx context.Context, email string) (bool, error) {
	n, err := g.redis.Exists(ctx, lockKey(email)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return n > 0, nil
}

// Evaluate counts failures in the trailing window and sets the lock flag
// when the threshold is reached. Returns true when the account transitioned
// to locked by this call (the caller sends the lock notice exactly then).
func (g *LockGuard) Evaluate(ctx context.Context, email string, now time.Time) (bool, error) {
	failures, err := g.count(ctx, email, now.Add(-g.config.Window))
	if err != nil {
		return false, err
	}
	if failures < int64(g.config.Threshold) {
		return false, nil
	}

	set, err := g.redis.SetNX(ctx, lockKey(email), "locked", g.config.Duration).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return set, nil
}

// Lock sets the flag unconditionally. Administrative use.
func (g *LockGuard) Lock(ctx context.Context, email string, duration time.Duration) error {
	if duration <= 0 {
		duration = g.config.Duration
	}
	if err := g.redis.Set(ctx, lockKey(email), "locked", duration).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Unlock clears the flag so the next login is evaluated fresh.
func (g *LockGuard) Unlock(ctx context.Context, email string) error {
	if err := g.redis.Del(ctx, lockKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
