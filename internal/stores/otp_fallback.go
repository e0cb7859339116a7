package stores

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFallbackBackend wraps durable-store failures on the fallback path.
	ErrFallbackBackend = errors.New("otp fallback backend unavailable")
)

// FallbackRecord is the store-local view of a durable OTP row.
type FallbackRecord struct {
	ID        int64
	Reference string
	Email     string
	Code      string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// FallbackRepository is the narrow durable port the fallback store runs on.
// The root package adapts its public repository interface onto this.
type FallbackRepository interface {
	FindLatestValidByEmail(ctx context.Context, email string, now time.Time) (*FallbackRecord, error)
	FindValidByReference(ctx context.Context, reference string, now time.Time) (*FallbackRecord, error)
	Save(ctx context.Context, record *FallbackRecord) error
	DeleteByEmail(ctx context.Context, email string) error
}

// TxRunner wraps fn in one storage transaction. A nil runner degrades to
// plain sequential calls.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// FallbackStore implements [SessionStore] over the durable repository. It is
// only selected while the fast store is confirmed unreachable. Its
// check-and-mutate is serialized by the surrounding transaction, a weaker
// guarantee than the Redis path (see package doc).
type FallbackStore struct {
	repo FallbackRepository
	tx   TxRunner
	now  func() time.Time
}

// NewFallbackStore creates the durable fallback store. now is injectable for
// tests; nil means time.Now.
func NewFallbackStore(repo FallbackRepository, tx TxRunner, now func() time.Time) *FallbackStore {
	if now == nil {
		now = time.Now
	}
	return &FallbackStore{repo: repo, tx: tx, now: now}
}

func (s *FallbackStore) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx(ctx, fn)
}

// Create supersedes any prior rows for the email: delete-then-insert inside
// one transaction.
func (s *FallbackStore) Create(ctx context.Context, ch *Challenge) error {
	record := &FallbackRecord{
		Reference: ch.Reference,
		Email:     ch.Email,
		Code:      ch.Code,
		Attempts:  int(ch.Attempts),
		CreatedAt: time.Unix(ch.CreatedAt, 0),
		ExpiresAt: time.Unix(ch.ExpiresAt, 0),
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.DeleteByEmail(ctx, ch.Email); err != nil {
			return err
		}
		return s.repo.Save(ctx, record)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFallbackBackend, err)
	}
	return nil
}

// ResolveEmail looks the reference up among valid rows.
func (s *FallbackStore) ResolveEmail(ctx context.Context, reference string) (string, error) {
	record, err := s.repo.FindValidByReference(ctx, reference, s.now())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFallbackBackend, err)
	}
	if record == nil {
		return "", ErrChallengeNotFound
	}
	return record.Email, nil
}

// Validate runs the compare-and-mutate inside one transaction: mark used on
// match, bump attempts on mismatch, delete the email's rows once the budget
// is exhausted.
func (s *FallbackStore) Validate(ctx context.Context, reference, code string, maxAttempts int) (Outcome, string, error) {
	var (
		outcome Outcome
		email   string
	)

	err := s.inTx(ctx, func(ctx context.Context) error {
		record, err := s.repo.FindValidByReference(ctx, reference, s.now())
		if err != nil {
			return err
		}
		if record == nil {
			return ErrChallengeNotFound
		}
		email = record.Email

		if record.Code == code {
			outcome = OutcomeMatch
			record.Used = true
			return s.repo.Save(ctx, record)
		}

		record.Attempts++
		if record.Attempts >= maxAttempts {
			outcome = OutcomeExceeded
			return s.repo.DeleteByEmail(ctx, record.Email)
		}

		outcome = OutcomeMismatch
		return s.repo.Save(ctx, record)
	})
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return 0, "", ErrChallengeNotFound
		}
		return 0, "", fmt.Errorf("%w: %v", ErrFallbackBackend, err)
	}
	return outcome, email, nil
}

// HasActive reports whether a valid row exists for the email.
func (s *FallbackStore) HasActive(ctx context.Context, email string) (bool, error) {
	record, err := s.repo.FindLatestValidByEmail(ctx, email, s.now())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrFallbackBackend, err)
	}
	return record != nil, nil
}

// Invalidate deletes all rows for the email.
func (s *FallbackStore) Invalidate(ctx context.Context, email string) error {
	if err := s.repo.DeleteByEmail(ctx, email); err != nil {
		return fmt.Errorf("%w: %v", ErrFallbackBackend, err)
	}
	return nil
}
