package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	email         TEXT    NOT NULL UNIQUE,
	password_hash TEXT    NOT NULL,
	status        INTEGER NOT NULL DEFAULT 0,
	last_login_at INTEGER,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_tokens (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	token      TEXT    NOT NULL UNIQUE,
	account_id INTEGER NOT NULL,
	kind       INTEGER NOT NULL DEFAULT 0,
	expires_at INTEGER NOT NULL,
	used       INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verification_tokens_expires
	ON verification_tokens (expires_at);

CREATE TABLE IF NOT EXISTS login_attempts (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	email          TEXT    NOT NULL,
	source_address TEXT    NOT NULL DEFAULT '',
	successful     INTEGER NOT NULL,
	attempted_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_login_attempts_email_time
	ON login_attempts (email, attempted_at);
CREATE INDEX IF NOT EXISTS idx_login_attempts_time
	ON login_attempts (attempted_at);

CREATE TABLE IF NOT EXISTS otp_fallback_sessions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	reference  TEXT    NOT NULL UNIQUE,
	email      TEXT    NOT NULL,
	code       TEXT    NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	used       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_otp_fallback_email
	ON otp_fallback_sessions (email, created_at);
CREATE INDEX IF NOT EXISTS idx_otp_fallback_expires
	ON otp_fallback_sessions (expires_at);
`

// Store owns the SQLite handle shared by the repository implementations.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store in tests. Transactions are
// opened with an immediate write lock via the DSN.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlstore: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Accounts returns the account repository.
func (s *Store) Accounts() *AccountRepo { return &AccountRepo{store: s} }

// Tokens returns the verification token repository.
func (s *Store) Tokens() *TokenRepo { return &TokenRepo{store: s} }

// Attempts returns the login attempt repository.
func (s *Store) Attempts() *AttemptRepo { return &AttemptRepo{store: s} }

// OtpFallback returns the durable OTP session repository.
func (s *Store) OtpFallback() *OtpFallbackRepo { return &OtpFallbackRepo{store: s} }

type txKey struct{}

// querier is the common subset of *sql.DB and *sql.Tx the repositories use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// InTransaction runs fn inside a single transaction. The transaction is
// threaded through the context, so repository calls made with the derived
// context join it automatically. Nested calls reuse the outer transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}
