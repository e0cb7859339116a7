package memberauth

import (
	"context"
	"time"
)

// AccountStatus represents the lifecycle state of a member account.
type AccountStatus uint8

const (
	// AccountPending is the state between registration and email
	// verification. Login is refused.
	AccountPending AccountStatus = iota
	// AccountActive is the normal, fully verified state.
	AccountActive
	// AccountLockedStatus is the durable locked state. The usual lockout is
	// the ephemeral Redis flag; this status exists for administrative locks
	// persisted to the account row.
	AccountLockedStatus
)

// String returns the lowercase status name.
func (s AccountStatus) String() string {
	switch s {
	case AccountPending:
		return "pending"
	case AccountActive:
		return "active"
	case AccountLockedStatus:
		return "locked"
	default:
		return "unknown"
	}
}

// Account is the durable member record. PasswordHash never leaves the
// engine; transport layers receive [AccountView] instead.
type Account struct {
	ID           int64
	Email        string
	PasswordHash string
	Status       AccountStatus
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountView is the public projection of an account returned after a
// completed login.
type AccountView struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// TokenKind distinguishes verification token purposes.
type TokenKind uint8

const (
	// TokenEmailVerification proves control of a registered email address.
	TokenEmailVerification TokenKind = iota
	// TokenPasswordReset is provisioned for a future reset flow; the engine
	// issues only email-verification tokens today.
	TokenPasswordReset
)

// VerificationToken is a single-use, expiring opaque token. It holds a
// non-owning reference to its account; accounts never enumerate tokens.
type VerificationToken struct {
	ID        int64
	Token     string
	AccountID int64
	Kind      TokenKind
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// LoginAttempt is one append-only row in the attempt ledger. Rows are never
// updated; retention pruning is the only delete path.
type LoginAttempt struct {
	ID            int64
	Email         string
	SourceAddress string
	Successful    bool
	AttemptedAt   time.Time
}

// OtpFallbackSession is the durable mirror of an OTP challenge, written only
// while the fast store is unreachable.
type OtpFallbackSession struct {
	ID        int64
	Reference string
	Email     string
	Code      string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// OtpChallengeResult is returned by Login and ResendOtp: an opaque reference
// to the pending challenge and its remaining lifetime in seconds.
type OtpChallengeResult struct {
	Reference string `json:"reference"`
	ExpiresIn int64  `json:"expiresIn"`
}

// AuthResult is returned by VerifyOtp on a completed login.
type AuthResult struct {
	Token     string      `json:"token"`
	TokenType string      `json:"tokenType"`
	ExpiresIn int64       `json:"expiresIn"`
	Account   AccountView `json:"account"`
}

// AccountRepository is the durable account port. FindByEmail and FindByID
// return (nil, nil) when no row matches; errors mean the store itself
// failed. Save inserts when ID is zero and assigns the new ID, otherwise
// updates in place.
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id int64) (*Account, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Save(ctx context.Context, account *Account) error
}

// VerificationTokenRepository is the durable token port. FindByToken returns
// (nil, nil) when the value is unknown. DeleteExpiredBefore removes at most
// limit expired rows and reports how many went away.
type VerificationTokenRepository interface {
	FindByToken(ctx context.Context, token string) (*VerificationToken, error)
	Save(ctx context.Context, token *VerificationToken) error
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// LoginAttemptRepository is the append-only attempt ledger port.
type LoginAttemptRepository interface {
	Save(ctx context.Context, attempt *LoginAttempt) error
	CountFailedSince(ctx context.Context, email string, since time.Time) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// OtpFallbackRepository is the durable OTP mirror port. FindLatestValidByEmail
// and FindValidByReference return the most recent unused, unexpired row (nil
// when there is none), ties broken by creation time descending.
type OtpFallbackRepository interface {
	FindLatestValidByEmail(ctx context.Context, email string, now time.Time) (*OtpFallbackSession, error)
	FindValidByReference(ctx context.Context, reference string, now time.Time) (*OtpFallbackSession, error)
	Save(ctx context.Context, session *OtpFallbackSession) error
	DeleteByEmail(ctx context.Context, email string) error
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// TransactionRunner groups repository calls into one atomic unit of work.
// Implementations propagate the transaction through the context so the
// repositories participate transparently. Optional: without it the engine
// falls back to sequential writes.
type TransactionRunner interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repositories bundles the durable ports handed to [Builder.WithRepositories].
// Tx may be nil.
type Repositories struct {
	Accounts    AccountRepository
	Tokens      VerificationTokenRepository
	Attempts    LoginAttemptRepository
	OtpFallback OtpFallbackRepository
	Tx          TransactionRunner
}

// EmailDispatcher is the outbound email port. All methods are fire-and-forget:
// they enqueue and return immediately, delivery failures are retried and then
// logged by the implementation, never surfaced to the authentication caller.
type EmailDispatcher interface {
	SendVerification(ctx context.Context, to, token string)
	SendOtp(ctx context.Context, to, code string)
	SendAccountLocked(ctx context.Context, to string)
}

// Clock supplies the current time. Injected for tests; nil means time.Now.
type Clock func() time.Time

// DigitSource supplies n cryptographically secure random decimal digits.
// Injected for tests; nil means the crypto/rand backed default.
type DigitSource func(n int) (string, error)
