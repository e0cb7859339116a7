package memberauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/denden/memberauth/internal"
	"github.com/denden/memberauth/internal/limiters"
	"github.com/denden/memberauth/internal/rate"
	"github.com/denden/memberauth/internal/stores"
	"github.com/denden/memberauth/jwt"
	"github.com/denden/memberauth/password"
)

// Engine is the authentication engine. Build one with [Builder]; all methods
// are safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger

	repos  Repositories
	mailer EmailDispatcher

	otpStore    stores.SessionStore
	history     *stores.LoginHistory
	lockGuard   *limiters.LockGuard
	rateLimiter *rate.Limiter

	passwordHash *password.Hasher
	jwtManager   *jwt.Manager

	audit   *auditDispatcher
	metrics *Metrics

	redisPing func(ctx context.Context) error

	now    Clock
	digits DigitSource

	closed atomic.Bool
}

func (e *Engine) ready() error {
	if e == nil || e.repos.Accounts == nil {
		return ErrEngineNotReady
	}
	if e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// Close shuts down the audit dispatcher. The engine refuses further calls.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.closed.CompareAndSwap(false, true) {
		e.audit.Close()
	}
}

// Metrics exposes the engine counter set.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot copies the current counter values. Exporters read through
// this rather than holding the counter set directly.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded due to a full queue.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// HealthStatus reports reachability of the two storage tiers.
type HealthStatus struct {
	FastStore    bool `json:"fastStore"`
	DurableStore bool `json:"durableStore"`
}

// Healthy is true when both tiers respond. The engine itself keeps working
// with a degraded fast store.
func (h HealthStatus) Healthy() bool {
	return h.FastStore && h.DurableStore
}

// Health probes both storage tiers.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e.ready() != nil {
		return HealthStatus{}
	}
	var status HealthStatus
	if err := e.redisPing(ctx); err == nil {
		status.FastStore = true
	}
	if _, err := e.repos.Accounts.ExistsByEmail(ctx, "health-probe@invalid"); err == nil {
		status.DurableStore = true
	}
	return status
}

// AllowRequest enforces the fixed-window budget for a source address. It
// returns ErrTooManyRequests once the budget is spent. A counter backend
// failure fails open: the request is allowed and the incident logged.
func (e *Engine) AllowRequest(ctx context.Context, source string) error {
	if err := e.ready(); err != nil {
		return err
	}

	allowed, err := e.rateLimiter.Allow(ctx, source)
	if err != nil && !errors.Is(err, rate.ErrRateLimited) {
		e.logger.Warn("rate limit backend unavailable, failing open", "error", err)
		return nil
	}
	if !allowed {
		e.metrics.Inc(MetricRateLimited)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditRateLimited,
			Source:    source,
			Success:   false,
			Error:     ErrorCode(ErrTooManyRequests),
		})
		return ErrTooManyRequests
	}
	return nil
}

// UnlockAccount clears the lockout flag and, when the durable status is
// locked, reactivates the account row. Administrative operation.
func (e *Engine) UnlockAccount(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = normalizeEmail(email)

	account, err := e.repos.Accounts.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}
	if account == nil {
		return ErrUserNotFound
	}

	if err := e.lockGuard.Unlock(ctx, email); err != nil {
		return fmt.Errorf("%w: %v", ErrFastStoreUnavailable, err)
	}

	if account.Status == AccountLockedStatus {
		account.Status = AccountActive
		account.UpdatedAt = e.now()
		if err := e.repos.Accounts.Save(ctx, account); err != nil {
			return fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
		}
	}

	e.metrics.Inc(MetricAccountUnlocked)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditAccountUnlocked,
		Email:     internal.MaskEmail(email),
		AccountID: account.ID,
		Success:   true,
	})
	return nil
}

// LastLogin returns the most recent completed login for the email. The
// ranked set answers first; the durable account row covers members whose
// history entry was pruned.
func (e *Engine) LastLogin(ctx context.Context, email string) (time.Time, bool, error) {
	if err := e.ready(); err != nil {
		return time.Time{}, false, err
	}
	email = normalizeEmail(email)

	at, ok, err := e.history.LastLogin(ctx, email)
	if err == nil && ok {
		return at, true, nil
	}
	if err != nil {
		e.logger.Warn("login history unavailable, consulting account row", "error", err)
	}

	account, err := e.repos.Accounts.FindByEmail(ctx, email)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}
	if account == nil {
		return time.Time{}, false, ErrUserNotFound
	}
	if account.LastLoginAt == nil {
		return time.Time{}, false, nil
	}
	return *account.LastLoginAt, true, nil
}

// RecentActiveAccounts lists up to limit emails ordered by most recent
// login.
func (e *Engine) RecentActiveAccounts(ctx context.Context, limit int64) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	emails, err := e.history.RecentActive(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFastStoreUnavailable, err)
	}
	return emails, nil
}

// ValidateSessionToken verifies a session token and returns its claims.
// Failures map to ErrMalformedToken, ErrInvalidSignature or ErrTokenExpired.
func (e *Engine) ValidateSessionToken(token string) (*jwt.SessionClaims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	start := e.now()
	claims, err := e.jwtManager.Parse(token)
	e.metrics.Observe(MetricTokenValidateLatency, e.now().Sub(start))

	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrMalformed):
		return nil, ErrMalformedToken
	case errors.Is(err, jwt.ErrSignature):
		return nil, ErrInvalidSignature
	case errors.Is(err, jwt.ErrExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrMalformedToken
	}
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	e.audit.Emit(ctx, event)
}

// mapStoreErr translates store-level failures into the public error surface.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrOtpSessionNotFound
	case errors.Is(err, stores.ErrFallbackBackend):
		return fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	case errors.Is(err, stores.ErrChallengeBackend):
		return fmt.Errorf("%w: %v", ErrFastStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrFastStoreUnavailable, err)
	}
}

// normalizeEmail trims surrounding whitespace only. The email is a
// case-sensitive key: "A@x.com" and "a@x.com" are distinct accounts.
func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// recordAttempt appends one row to the attempt ledger. Failures are logged,
// never surfaced: the login outcome must not depend on ledger availability.
func (e *Engine) recordAttempt(ctx context.Context, email, source string, successful bool) {
	err := e.repos.Attempts.Save(ctx, &LoginAttempt{
		Email:         email,
		SourceAddress: source,
		Successful:    successful,
		AttemptedAt:   e.now(),
	})
	if err != nil {
		e.logger.Error("failed to record login attempt", "error", err)
	}
}
