package stores

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// pingTimeout bounds the explicit connectivity check. Store calls must stay
// sub-second so availability never hinges on a hung fast store.
const pingTimeout = 500 * time.Millisecond

// Pinger reports fast-store connectivity. Backed by redis PING.
type Pinger func(ctx context.Context) error

// DualStore routes OTP operations to the Redis primary and falls back to the
// durable store only when the primary is confirmed unreachable by an
// explicit ping. Reads additionally consult the fallback when the primary
// simply has no record, so challenges created during an outage stay
// verifiable after the fast store returns.
type DualStore struct {
	primary  *RedisStore
	fallback *FallbackStore
	ping     Pinger
	logger   *slog.Logger
}

// NewDualStore wires the selector. logger may be nil.
func NewDualStore(primary *RedisStore, fallback *FallbackStore, ping Pinger, logger *slog.Logger) *DualStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DualStore{primary: primary, fallback: fallback, ping: ping, logger: logger}
}

// primaryDown confirms unavailability with an explicit bounded ping rather
// than inferring it from an arbitrary command error.
func (s *DualStore) primaryDown(ctx context.Context) bool {
	if s.ping == nil {
		return true
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.ping(pingCtx) != nil
}

func (s *DualStore) routeError(ctx context.Context, op string, err error) bool {
	if !errors.Is(err, ErrChallengeBackend) {
		return false
	}
	if !s.primaryDown(ctx) {
		return false
	}
	s.logger.Warn("fast store unreachable, using durable otp fallback", "op", op)
	return true
}

// Create writes to the primary, or to the fallback during an outage. On the
// primary path any stale fallback rows for the email are cleared so the new
// challenge supersedes across backends.
func (s *DualStore) Create(ctx context.Context, ch *Challenge) error {
	err := s.primary.Create(ctx, ch)
	if err == nil {
		if err := s.fallback.Invalidate(ctx, ch.Email); err != nil {
			s.logger.Warn("failed to clear superseded fallback otp rows", "error", err)
		}
		return nil
	}
	if s.routeError(ctx, "create", err) {
		return s.fallback.Create(ctx, ch)
	}
	return err
}

// ResolveEmail consults the primary first, then the fallback.
func (s *DualStore) ResolveEmail(ctx context.Context, reference string) (string, error) {
	email, err := s.primary.ResolveEmail(ctx, reference)
	switch {
	case err == nil:
		return email, nil
	case errors.Is(err, ErrChallengeNotFound):
		return s.fallback.ResolveEmail(ctx, reference)
	case s.routeError(ctx, "resolve", err):
		return s.fallback.ResolveEmail(ctx, reference)
	default:
		return "", err
	}
}

// Validate runs against whichever backend holds the challenge.
func (s *DualStore) Validate(ctx context.Context, reference, code string, maxAttempts int) (Outcome, string, error) {
	outcome, email, err := s.primary.Validate(ctx, reference, code, maxAttempts)
	switch {
	case err == nil:
		return outcome, email, nil
	case errors.Is(err, ErrChallengeNotFound):
		return s.fallback.Validate(ctx, reference, code, maxAttempts)
	case s.routeError(ctx, "validate", err):
		return s.fallback.Validate(ctx, reference, code, maxAttempts)
	default:
		return 0, "", err
	}
}

// HasActive checks the fast store first, the fallback second.
func (s *DualStore) HasActive(ctx context.Context, email string) (bool, error) {
	active, err := s.primary.HasActive(ctx, email)
	switch {
	case err == nil && active:
		return true, nil
	case err == nil:
		return s.fallback.HasActive(ctx, email)
	case s.routeError(ctx, "hasactive", err):
		return s.fallback.HasActive(ctx, email)
	default:
		return false, err
	}
}

// Invalidate removes the challenge from both backends.
func (s *DualStore) Invalidate(ctx context.Context, email string) error {
	if err := s.primary.Invalidate(ctx, email); err != nil && !s.routeError(ctx, "invalidate", err) {
		return err
	}
	return s.fallback.Invalidate(ctx, email)
}
