package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/denden/memberauth"
)

// AccountRepo implements memberauth.AccountRepository.
type AccountRepo struct {
	store *Store
}

const accountColumns = `id, email, password_hash, status, last_login_at, created_at, updated_at`

func (r *AccountRepo) FindByEmail(ctx context.Context, email string) (*memberauth.Account, error) {
	row := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	return scanAccount(row)
}

func (r *AccountRepo) FindByID(ctx context.Context, id int64) (*memberauth.Account, error) {
	row := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *AccountRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var one int
	err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT 1 FROM accounts WHERE email = ?`, email).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlstore: exists by email: %w", err)
	}
	return true, nil
}

func (r *AccountRepo) Save(ctx context.Context, account *memberauth.Account) error {
	var lastLogin any
	if account.LastLoginAt != nil {
		lastLogin = account.LastLoginAt.UnixMilli()
	}

	if account.ID == 0 {
		res, err := r.store.conn(ctx).ExecContext(ctx,
			`INSERT INTO accounts (email, password_hash, status, last_login_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			account.Email, account.PasswordHash, account.Status, lastLogin,
			account.CreatedAt.UnixMilli(), account.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("sqlstore: insert account: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("sqlstore: insert account id: %w", err)
		}
		account.ID = id
		return nil
	}

	_, err := r.store.conn(ctx).ExecContext(ctx,
		`UPDATE accounts
		 SET email = ?, password_hash = ?, status = ?, last_login_at = ?, updated_at = ?
		 WHERE id = ?`,
		account.Email, account.PasswordHash, account.Status, lastLogin,
		account.UpdatedAt.UnixMilli(), account.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update account: %w", err)
	}
	return nil
}

func scanAccount(row *sql.Row) (*memberauth.Account, error) {
	var (
		a         memberauth.Account
		lastLogin sql.NullInt64
		created   int64
		updated   int64
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Status, &lastLogin, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan account: %w", err)
	}
	if lastLogin.Valid {
		t := time.UnixMilli(lastLogin.Int64)
		a.LastLoginAt = &t
	}
	a.CreatedAt = time.UnixMilli(created)
	a.UpdatedAt = time.UnixMilli(updated)
	return &a, nil
}
