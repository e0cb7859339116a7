package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const loginHistoryKey = "login_history"

// LoginHistory records the last successful login per member in a ranked set,
// scored by epoch milliseconds. One entry per email; re-recording moves the
// member's score forward.
type LoginHistory struct {
	rdb redis.UniversalClient
}

func NewLoginHistory(rdb redis.UniversalClient) *LoginHistory {
	return &LoginHistory{rdb: rdb}
}

// Record upserts the member with the given login instant.
func (h *LoginHistory) Record(ctx context.Context, email string, at time.Time) error {
	err := h.rdb.ZAdd(ctx, loginHistoryKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: email,
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: record login: %v", ErrChallengeBackend, err)
	}
	return nil
}

// LastLogin returns the most recent recorded login for email, or ok=false
// when the member has never logged in.
func (h *LoginHistory) LastLogin(ctx context.Context, email string) (time.Time, bool, error) {
	score, err := h.rdb.ZScore(ctx, loginHistoryKey, email).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: last login: %v", ErrChallengeBackend, err)
	}
	return time.UnixMilli(int64(score)), true, nil
}

// RecentActive lists up to limit emails ordered by most recent login first.
func (h *LoginHistory) RecentActive(ctx context.Context, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	members, err := h.rdb.ZRevRange(ctx, loginHistoryKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: recent active: %v", ErrChallengeBackend, err)
	}
	return members, nil
}

// Prune drops entries whose last login is strictly before cutoff. Returns the
// number of removed members.
func (h *LoginHistory) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	max := fmt.Sprintf("(%d", cutoff.UnixMilli())
	removed, err := h.rdb.ZRemRangeByScore(ctx, loginHistoryKey, "-inf", max).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: prune login history: %v", ErrChallengeBackend, err)
	}
	return removed, nil
}
