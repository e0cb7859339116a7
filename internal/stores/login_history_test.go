package stores

import (
	"context"
	"testing"
	"time"
)

func TestLoginHistoryRecordAndLastLogin(t *testing.T) {
	_, rdb := newTestRedis(t)
	history := NewLoginHistory(rdb)
	ctx := context.Background()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := history.Record(ctx, "alice@example.com", at); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, ok, err := history.LastLogin(ctx, "alice@example.com")
	if err != nil || !ok {
		t.Fatalf("LastLogin: ok=%v err=%v", ok, err)
	}
	if !got.Equal(at) {
		t.Fatalf("LastLogin = %v, want %v", got, at)
	}

	// A later login replaces the score.
	later := at.Add(time.Hour)
	if err := history.Record(ctx, "alice@example.com", later); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	got, _, err = history.LastLogin(ctx, "alice@example.com")
	if err != nil || !got.Equal(later) {
		t.Fatalf("LastLogin = %v, want %v (err=%v)", got, later, err)
	}

	// Unknown member.
	if _, ok, err := history.LastLogin(ctx, "nobody@example.com"); err != nil || ok {
		t.Fatalf("LastLogin for unknown member: ok=%v err=%v", ok, err)
	}
}

func TestLoginHistoryRecentActive(t *testing.T) {
	_, rdb := newTestRedis(t)
	history := NewLoginHistory(rdb)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if err := history.Record(ctx, email, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	recent, err := history.RecentActive(ctx, 2)
	if err != nil {
		t.Fatalf("RecentActive failed: %v", err)
	}
	if len(recent) != 2 || recent[0] != "c@example.com" || recent[1] != "b@example.com" {
		t.Fatalf("RecentActive = %v", recent)
	}
}

func TestLoginHistoryPrune(t *testing.T) {
	_, rdb := newTestRedis(t)
	history := NewLoginHistory(rdb)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	_ = history.Record(ctx, "old@example.com", base.Add(-48*time.Hour))
	_ = history.Record(ctx, "fresh@example.com", base)

	removed, err := history.Prune(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Prune removed %d, want 1", removed)
	}

	if _, ok, _ := history.LastLogin(ctx, "old@example.com"); ok {
		t.Fatal("pruned member still present")
	}
	if _, ok, _ := history.LastLogin(ctx, "fresh@example.com"); !ok {
		t.Fatal("fresh member pruned")
	}

	// Prune at the exact cutoff keeps entries scored at the cutoff.
	removed, err = history.Prune(ctx, base)
	if err != nil || removed != 0 {
		t.Fatalf("Prune at cutoff: removed=%d err=%v", removed, err)
	}
}
