package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/denden/memberauth"
)

// OtpFallbackRepo implements memberauth.OtpFallbackRepository.
type OtpFallbackRepo struct {
	store *Store
}

const otpColumns = `id, reference, email, code, attempts, created_at, expires_at, used`

func (r *OtpFallbackRepo) FindLatestValidByEmail(ctx context.Context, email string, now time.Time) (*memberauth.OtpFallbackSession, error) {
	row := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+otpColumns+` FROM otp_fallback_sessions
		 WHERE email = ? AND used = 0 AND expires_at > ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		email, now.UnixMilli())
	return scanOtpSession(row)
}

func (r *OtpFallbackRepo) FindValidByReference(ctx context.Context, reference string, now time.Time) (*memberauth.OtpFallbackSession, error) {
	row := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+otpColumns+` FROM otp_fallback_sessions
		 WHERE reference = ? AND used = 0 AND expires_at > ?`,
		reference, now.UnixMilli())
	return scanOtpSession(row)
}

func (r *OtpFallbackRepo) Save(ctx context.Context, session *memberauth.OtpFallbackSession) error {
	if session.ID == 0 {
		res, err := r.store.conn(ctx).ExecContext(ctx,
			`INSERT INTO otp_fallback_sessions (reference, email, code, attempts, created_at, expires_at, used)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			session.Reference, session.Email, session.Code, session.Attempts,
			session.CreatedAt.UnixMilli(), session.ExpiresAt.UnixMilli(), session.Used)
		if err != nil {
			return fmt.Errorf("sqlstore: insert otp session: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("sqlstore: insert otp session id: %w", err)
		}
		session.ID = id
		return nil
	}

	_, err := r.store.conn(ctx).ExecContext(ctx,
		`UPDATE otp_fallback_sessions SET attempts = ?, used = ? WHERE id = ?`,
		session.Attempts, session.Used, session.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update otp session: %w", err)
	}
	return nil
}

func (r *OtpFallbackRepo) DeleteByEmail(ctx context.Context, email string) error {
	_, err := r.store.conn(ctx).ExecContext(ctx,
		`DELETE FROM otp_fallback_sessions WHERE email = ?`, email)
	if err != nil {
		return fmt.Errorf("sqlstore: delete otp sessions: %w", err)
	}
	return nil
}

func (r *OtpFallbackRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.store.conn(ctx).ExecContext(ctx,
		`DELETE FROM otp_fallback_sessions WHERE id IN (
			SELECT id FROM otp_fallback_sessions WHERE expires_at < ? LIMIT ?
		)`, cutoff.UnixMilli(), limit)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete expired otp sessions: %w", err)
	}
	return res.RowsAffected()
}

func scanOtpSession(row *sql.Row) (*memberauth.OtpFallbackSession, error) {
	var (
		s       memberauth.OtpFallbackSession
		created int64
		expires int64
	)
	err := row.Scan(&s.ID, &s.Reference, &s.Email, &s.Code, &s.Attempts, &created, &expires, &s.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan otp session: %w", err)
	}
	s.CreatedAt = time.UnixMilli(created)
	s.ExpiresAt = time.UnixMilli(expires)
	return &s, nil
}
