package stores

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newDualFixture(t *testing.T) (*DualStore, *miniredis.Miniredis, *memFallbackRepo) {
	t.Helper()
	mr, rdb := newTestRedis(t)
	repo := newMemFallbackRepo()
	dual := NewDualStore(
		NewRedisStore(rdb, "otp"),
		NewFallbackStore(repo, nil, nil),
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		slog.Default(),
	)
	return dual, mr, repo
}

func TestDualStoreUsesPrimaryWhenHealthy(t *testing.T) {
	dual, _, repo := newDualFixture(t)
	ctx := context.Background()

	if err := dual.Create(ctx, testChallenge("alice@example.com", "ref-1", "123456", time.Minute)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(repo.rows) != 0 {
		t.Fatalf("healthy primary must not write durable rows, have %d", len(repo.rows))
	}

	outcome, email, err := dual.Validate(ctx, "ref-1", "123456", 3)
	if err != nil || outcome != OutcomeMatch || email != "alice@example.com" {
		t.Fatalf("outcome=%v email=%q err=%v", outcome, email, err)
	}
}

func TestDualStoreFailsOverWhenPrimaryDown(t *testing.T) {
	dual, mr, repo := newDualFixture(t)
	ctx := context.Background()

	mr.Close()

	if err := dual.Create(ctx, testChallenge("alice@example.com", "ref-1", "123456", time.Minute)); err != nil {
		t.Fatalf("Create during outage failed: %v", err)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("expected one durable row, have %d", len(repo.rows))
	}

	if email, err := dual.ResolveEmail(ctx, "ref-1"); err != nil || email != "alice@example.com" {
		t.Fatalf("ResolveEmail during outage: %q, %v", email, err)
	}

	outcome, _, err := dual.Validate(ctx, "ref-1", "123456", 3)
	if err != nil || outcome != OutcomeMatch {
		t.Fatalf("Validate during outage: outcome=%v err=%v", outcome, err)
	}
}

func TestDualStoreReadsFallThroughOnNotFound(t *testing.T) {
	dual, _, repo := newDualFixture(t)
	ctx := context.Background()

	// Challenge written straight into the durable store, as if created
	// during a past outage. The primary is healthy but has no record.
	now := time.Now()
	if err := repo.Save(ctx, &FallbackRecord{
		Reference: "ref-1",
		Email:     "alice@example.com",
		Code:      "123456",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if email, err := dual.ResolveEmail(ctx, "ref-1"); err != nil || email != "alice@example.com" {
		t.Fatalf("ResolveEmail fall-through: %q, %v", email, err)
	}
	if active, err := dual.HasActive(ctx, "alice@example.com"); err != nil || !active {
		t.Fatalf("HasActive fall-through = %v, %v", active, err)
	}

	outcome, _, err := dual.Validate(ctx, "ref-1", "123456", 3)
	if err != nil || outcome != OutcomeMatch {
		t.Fatalf("Validate fall-through: outcome=%v err=%v", outcome, err)
	}
}

func TestDualStoreCreateClearsStaleFallbackRows(t *testing.T) {
	dual, _, repo := newDualFixture(t)
	ctx := context.Background()

	// Leftover durable row from an outage window.
	now := time.Now()
	if err := repo.Save(ctx, &FallbackRecord{
		Reference: "ref-stale",
		Email:     "alice@example.com",
		Code:      "000000",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := dual.Create(ctx, testChallenge("alice@example.com", "ref-new", "123456", time.Minute)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The new primary challenge supersedes across backends: the stale
	// durable row must not be reachable anymore.
	if len(repo.rows) != 0 {
		t.Fatalf("stale durable rows not cleared, have %d", len(repo.rows))
	}
	if _, err := dual.ResolveEmail(ctx, "ref-stale"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected stale reference dead, got %v", err)
	}
}

func TestDualStoreInvalidateHitsBothBackends(t *testing.T) {
	dual, _, repo := newDualFixture(t)
	ctx := context.Background()

	now := time.Now()
	if err := repo.Save(ctx, &FallbackRecord{
		Reference: "ref-durable",
		Email:     "alice@example.com",
		Code:      "000000",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	// Bypass dual.Create so both backends hold a row at once.
	if err := dual.primary.Create(ctx, testChallenge("alice@example.com", "ref-fast", "123456", time.Minute)); err != nil {
		t.Fatalf("primary Create failed: %v", err)
	}

	if err := dual.Invalidate(ctx, "alice@example.com"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if active, err := dual.HasActive(ctx, "alice@example.com"); err != nil || active {
		t.Fatalf("HasActive after Invalidate = %v, %v", active, err)
	}
	if len(repo.rows) != 0 {
		t.Fatalf("durable rows not cleared, have %d", len(repo.rows))
	}
}
