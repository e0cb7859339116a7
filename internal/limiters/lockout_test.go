package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func staticCount(n int64) FailureCounter {
	return func(context.Context, string, time.Time) (int64, error) {
		return n, nil
	}
}

func testLockoutConfig() LockoutConfig {
	return LockoutConfig{Threshold: 5, Window: 30 * time.Minute, Duration: 30 * time.Minute}
}

func TestEvaluateBelowThreshold(t *testing.T) {
	_, rdb := newTestRedis(t)
	guard := NewLockGuard(rdb, staticCount(4), testLockoutConfig())
	ctx := context.Background()

	locked, err := guard.Evaluate(ctx, "alice@example.com", time.Now())
	if err != nil || locked {
		t.Fatalf("Evaluate below threshold: locked=%v err=%v", locked, err)
	}
	if isLocked, _ := guard.IsLocked(ctx, "alice@example.com"); isLocked {
		t.Fatal("flag set below threshold")
	}
}

func TestEvaluateSetsFlagOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	guard := NewLockGuard(rdb, staticCount(5), testLockoutConfig())
	ctx := context.Background()

	// First crossing reports the transition.
	locked, err := guard.Evaluate(ctx, "alice@example.com", time.Now())
	if err != nil || !locked {
		t.Fatalf("Evaluate at threshold: locked=%v err=%v", locked, err)
	}

	// Later evaluations see the existing flag and do not re-report.
	locked, err = guard.Evaluate(ctx, "alice@example.com", time.Now())
	if err != nil || locked {
		t.Fatalf("second Evaluate: locked=%v err=%v", locked, err)
	}

	if isLocked, err := guard.IsLocked(ctx, "alice@example.com"); err != nil || !isLocked {
		t.Fatalf("IsLocked = %v, %v", isLocked, err)
	}
}

func TestFlagExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	guard := NewLockGuard(rdb, staticCount(5), testLockoutConfig())
	ctx := context.Background()

	if _, err := guard.Evaluate(ctx, "alice@example.com", time.Now()); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	mr.FastForward(testLockoutConfig().Duration + time.Second)

	if isLocked, err := guard.IsLocked(ctx, "alice@example.com"); err != nil || isLocked {
		t.Fatalf("flag should expire: locked=%v err=%v", isLocked, err)
	}
}

func TestLockAndUnlock(t *testing.T) {
	_, rdb := newTestRedis(t)
	guard := NewLockGuard(rdb, staticCount(0), testLockoutConfig())
	ctx := context.Background()

	if err := guard.Lock(ctx, "alice@example.com", 0); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if isLocked, _ := guard.IsLocked(ctx, "alice@example.com"); !isLocked {
		t.Fatal("flag missing after Lock")
	}

	if err := guard.Unlock(ctx, "alice@example.com"); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if isLocked, _ := guard.IsLocked(ctx, "alice@example.com"); isLocked {
		t.Fatal("flag present after Unlock")
	}
}

func TestEvaluatePropagatesCounterError(t *testing.T) {
	_, rdb := newTestRedis(t)
	ledgerErr := errors.New("ledger unavailable")
	guard := NewLockGuard(rdb, func(context.Context, string, time.Time) (int64, error) {
		return 0, ledgerErr
	}, testLockoutConfig())

	if _, err := guard.Evaluate(context.Background(), "alice@example.com", time.Now()); !errors.Is(err, ledgerErr) {
		t.Fatalf("expected ledger error, got %v", err)
	}
}

func TestIsLockedFailsOpen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	guard := NewLockGuard(rdb, staticCount(0), testLockoutConfig())

	mr.Close()

	locked, err := guard.IsLocked(context.Background(), "alice@example.com")
	if locked {
		t.Fatal("backend failure must read as unlocked")
	}
	if !errors.Is(err, ErrLockoutUnavailable) {
		t.Fatalf("expected ErrLockoutUnavailable, got %v", err)
	}
}
