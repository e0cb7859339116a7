package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/denden/memberauth"
)

// TokenRepo implements memberauth.VerificationTokenRepository.
type TokenRepo struct {
	store *Store
}

func (r *TokenRepo) FindByToken(ctx context.Context, token string) (*memberauth.VerificationToken, error) {
	row := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT id, token, account_id, kind, expires_at, used, created_at
		 FROM verification_tokens WHERE token = ?`, token)

	var (
		t       memberauth.VerificationToken
		expires int64
		created int64
	)
	err := row.Scan(&t.ID, &t.Token, &t.AccountID, &t.Kind, &expires, &t.Used, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan token: %w", err)
	}
	t.ExpiresAt = time.UnixMilli(expires)
	t.CreatedAt = time.UnixMilli(created)
	return &t, nil
}

func (r *TokenRepo) Save(ctx context.Context, token *memberauth.VerificationToken) error {
	if token.ID == 0 {
		res, err := r.store.conn(ctx).ExecContext(ctx,
			`INSERT INTO verification_tokens (token, account_id, kind, expires_at, used, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			token.Token, token.AccountID, token.Kind,
			token.ExpiresAt.UnixMilli(), token.Used, token.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("sqlstore: insert token: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("sqlstore: insert token id: %w", err)
		}
		token.ID = id
		return nil
	}

	_, err := r.store.conn(ctx).ExecContext(ctx,
		`UPDATE verification_tokens SET used = ?, expires_at = ? WHERE id = ?`,
		token.Used, token.ExpiresAt.UnixMilli(), token.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update token: %w", err)
	}
	return nil
}

// DeleteExpiredBefore removes at most limit expired rows. Bounded so the
// retention sweep never holds the write lock for long.
func (r *TokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.store.conn(ctx).ExecContext(ctx,
		`DELETE FROM verification_tokens WHERE id IN (
			SELECT id FROM verification_tokens WHERE expires_at < ? LIMIT ?
		)`, cutoff.UnixMilli(), limit)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}
