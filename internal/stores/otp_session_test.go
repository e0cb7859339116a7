package stores

import (
	"context"
	"errors"
	"sync"
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

func testChallenge(email, reference, code string, ttl time.Duration) *Challenge {
	now := time.Now()
	return &Challenge{
		Reference: reference,
		Email:     email,
		Code:      code,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

// memFallbackRepo backs FallbackStore tests without a database.
type memFallbackRepo struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]*FallbackRecord
	failAll error
}

func newMemFallbackRepo() *memFallbackRepo {
	return &memFallbackRepo{nextID: 1, rows: make(map[int64]*FallbackRecord)}
}

func (m *memFallbackRepo) FindLatestValidByEmail(_ context.Context, email string, now time.Time) (*FallbackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	var latest *FallbackRecord
	for _, r := range m.rows {
		if r.Email != email || r.Used || !now.Before(r.ExpiresAt) {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memFallbackRepo) FindValidByReference(_ context.Context, reference string, now time.Time) (*FallbackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	for _, r := range m.rows {
		if r.Reference == reference && !r.Used && now.Before(r.ExpiresAt) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memFallbackRepo) Save(_ context.Context, record *FallbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	if record.ID == 0 {
		record.ID = m.nextID
		m.nextID++
	}
	cp := *record
	m.rows[record.ID] = &cp
	return nil
}

func (m *memFallbackRepo) DeleteByEmail(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	for id, r := range m.rows {
		if r.Email == email {
			delete(m.rows, id)
		}
	}
	return nil
}

func TestRedisStoreCreateAndResolve(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "otp")
	ctx := context.Background()

	ch := testChallenge("alice@example.com", "ref-1", "123456", time.Minute)
	if err := store.Create(ctx, ch); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	email, err := store.ResolveEmail(ctx, "ref-1")
	if err != nil {
		t.Fatalf("ResolveEmail failed: %v", err)
	}
	if email != "alice@example.com" {
		t.Fatalf("resolved %q", email)
	}

	active, err := store.HasActive(ctx, "alice@example.com")
	if err != nil || !active {
		t.Fatalf("HasActive = %v, %v", active, err)
	}

	if _, err := store.ResolveEmail(ctx, "ref-unknown"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestRedisStoreCreateSupersedes(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "otp")
	ctx := context.Background()

	if err := store.Create(ctx, testChallenge("alice@example.com", "ref-old", "111111", time.Minute)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, testChallenge("alice@example.com", "ref-new", "222222", time.Minute)); err != nil {
		t.Fatalf("second Create failed: %v", err)
	}

	if _, err := store.ResolveEmail(ctx, "ref-old"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("superseded reference should not resolve, got %v", err)
	}
	if email, err := store.ResolveEmail(ctx, "ref-new"); err != nil || email != "alice@example.com" {
		t.Fatalf("current reference: %q, %v", email, err)
	}

	// Validating against the superseded reference must not touch the live
	// challenge.
	if _, _, err := store.Validate(ctx, "ref-old", "111111", 3); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
	if outcome, _, err := store.Validate(ctx, "ref-new", "222222", 3); err != nil || outcome != OutcomeMatch {
		t.Fatalf("Validate = %v, %v", outcome, err)
	}
}

func TestRedisStoreValidateOutcomes(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "otp")
	ctx := context.Background()

	if err := store.Create(ctx, testChallenge("alice@example.com", "ref-1", "123456", time.Minute)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Two mismatches under a budget of three.
	for i := 0; i < 2; i++ {
		outcome, email, err := store.Validate(ctx, "ref-1", "999999", 3)
		if err != nil || outcome != OutcomeMismatch || email != "alice@example.com" {
			t.Fatalf("attempt %d: outcome=%v email=%q err=%v", i+1, outcome, email, err)
		}
	}

	// Third mismatch exhausts the budget and removes the challenge.
	outcome, _, err := store.Validate(ctx, "ref-1", "999999", 3)
	if err != nil || outcome != OutcomeExceeded {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if _, _, err := store.Validate(ctx, "ref-1", "123456", 3); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound after exhaustion, got %v", err)
	}
}

func TestRedisStoreValidateMatchConsumes(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "otp")
	ctx := context.Background()

	if err := store.Create(ctx, testChallenge("alice@example.com", "ref-1", "123456", time.Minute)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	outcome, email, err := store.Validate(ctx, "ref-1", "123456", 3)
	if err != nil || outcome != OutcomeMatch || email != "alice@example.com" {
		t.Fatalf("outcome=%v email=%q err=%v", outcome, email, err)
	}
	if _, _, err := store.Validate(ctx, "ref-1", "123456", 3); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected single use, got %v", err)
	}
	if active, err := store.HasActive(ctx, "alice@example.com"); err != nil || active {
		t.Fatalf("HasActive after consume = %v, %v", active, err)
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "otp")
	ctx := context.Background()

	if err := store.Create(ctx, testChallenge("alice@example.com", "ref-1", "123456", time.Minute)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.ResolveEmail(ctx, "ref-1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound after expiry, got %v", err)
	}
	if active, err := store.HasActive(ctx, "alice@example.com"); err != nil || active {
		t.Fatalf("HasActive after expiry = %v, %v", active, err)
	}
}

func TestRedisStoreInvalidate(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "otp")
	ctx := context.Background()

	if err := store.Create(ctx, testChallenge("alice@example.com", "ref-1", "123456", time.Minute)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Invalidate(ctx, "alice@example.com"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := store.ResolveEmail(ctx, "ref-1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("reference should die with the challenge, got %v", err)
	}

	// Invalidating an email with no challenge is a no-op.
	if err := store.Invalidate(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("Invalidate on absent email: %v", err)
	}
}

func TestRedisStoreBackendError(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRedisStore(rdb, "otp")
	ctx := context.Background()

	mr.Close()

	if err := store.Create(ctx, testChallenge("alice@example.com", "ref-1", "123456", time.Minute)); !errors.Is(err, ErrChallengeBackend) {
		t.Fatalf("expected ErrChallengeBackend, got %v", err)
	}
	if _, err := store.ResolveEmail(ctx, "ref-1"); !errors.Is(err, ErrChallengeBackend) {
		t.Fatalf("expected ErrChallengeBackend, got %v", err)
	}
	if _, _, err := store.Validate(ctx, "ref-1", "123456", 3); !errors.Is(err, ErrChallengeBackend) {
		t.Fatalf("expected ErrChallengeBackend, got %v", err)
	}
	if _, err := store.HasActive(ctx, "alice@example.com"); !errors.Is(err, ErrChallengeBackend) {
		t.Fatalf("expected ErrChallengeBackend, got %v", err)
	}
}

func TestChallengeCodecRoundTrip(t *testing.T) {
	in := &Challenge{
		Reference: "ref-1",
		Email:     "alice@example.com",
		Code:      "123456",
		Attempts:  2,
		CreatedAt: 1700000000,
		ExpiresAt: 1700000300,
	}

	data, err := encodeChallenge(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := decodeChallenge(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}

	if _, err := decodeChallenge([]byte{0xFF, 0x00}); err == nil {
		t.Fatal("expected error for unknown version")
	}
	if _, err := decodeChallenge(data[:len(data)-3]); err == nil {
		t.Fatal("expected error for truncated record")
	}
}
