package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/denden/memberauth"
)

// AttemptRepo implements memberauth.LoginAttemptRepository. The table is
// append-only; the retention sweep is the only delete path.
type AttemptRepo struct {
	store *Store
}

func (r *AttemptRepo) Save(ctx context.Context, attempt *memberauth.LoginAttempt) error {
	res, err := r.store.conn(ctx).ExecContext(ctx,
		`INSERT INTO login_attempts (email, source_address, successful, attempted_at)
		 VALUES (?, ?, ?, ?)`,
		attempt.Email, attempt.SourceAddress, attempt.Successful,
		attempt.AttemptedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlstore: insert attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlstore: insert attempt id: %w", err)
	}
	attempt.ID = id
	return nil
}

func (r *AttemptRepo) CountFailedSince(ctx context.Context, email string, since time.Time) (int64, error) {
	var count int64
	err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM login_attempts
		 WHERE email = ? AND successful = 0 AND attempted_at >= ?`,
		email, since.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: count failed attempts: %w", err)
	}
	return count, nil
}

func (r *AttemptRepo) DeleteBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.store.conn(ctx).ExecContext(ctx,
		`DELETE FROM login_attempts WHERE id IN (
			SELECT id FROM login_attempts WHERE attempted_at < ? LIMIT ?
		)`, cutoff.UnixMilli(), limit)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete attempts: %w", err)
	}
	return res.RowsAffected()
}
