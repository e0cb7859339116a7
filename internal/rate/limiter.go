package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited indicates the source exceeded its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable indicates the counter backend is unreachable.
	ErrRedisUnavailable = errors.New("rate limit backend unavailable")
)

// Config holds rate limiter tuning parameters.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Limiter enforces a fixed-window request budget per source address using
// Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func sourceKey(source string) string {
	return "ratelimit:" + source
}

// Allow records one request from the source and reports whether it is within
// budget. Backend failures fail open: the error is returned for logging, but
// allowed is true.
func (l *Limiter) Allow(ctx context.Context, source string) (bool, error) {
	if source == "" {
		return true, nil
	}

	count, err := l.incrementWithTTL(ctx, sourceKey(source), l.config.Window)
	if err != nil {
		return true, err
	}
	if count > int64(l.config.MaxRequests) {
		return false, ErrRateLimited
	}
	return true, nil
}

// Reset clears the counter for a source. Used by tests and administrative
// tooling.
func (l *Limiter) Reset(ctx context.Context, source string) error {
	if err := l.redis.Del(ctx, sourceKey(source)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
