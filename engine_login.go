package memberauth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/denden/memberauth/internal"
	"github.com/denden/memberauth/internal/stores"
)

// Login is the password first factor. On success it does not issue a session
// token: it creates an OTP challenge, emails the code and returns an opaque
// reference for [Engine.VerifyOtp]. A new challenge supersedes any earlier
// one for the same account.
//
// A wrong password and an unknown email are indistinguishable to the caller.
// Crossing the failed-attempt threshold locks the account and sends the lock
// notice exactly once.
func (e *Engine) Login(ctx context.Context, email, plainPassword, source string) (*OtpChallengeResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)

	account, err := e.repos.Accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}
	if account == nil {
		e.metrics.Inc(MetricLoginFirstFactorFailure)
		e.recordAttempt(ctx, email, source, false)
		return nil, ErrInvalidCredentials
	}

	locked, err := e.lockGuard.IsLocked(ctx, email)
	if err != nil {
		// Fail open: a dead lock flag backend must not block all logins.
		e.logger.Warn("lock flag backend unavailable, failing open", "error", err)
	}
	if locked || account.Status == AccountLockedStatus {
		e.metrics.Inc(MetricLoginFirstFactorFailure)
		e.recordAttempt(ctx, email, source, false)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditLoginFirstFactor,
			Email:     internal.MaskEmail(email),
			AccountID: account.ID,
			Source:    source,
			Success:   false,
			Error:     ErrorCode(ErrAccountLocked),
		})
		return nil, ErrAccountLocked
	}

	if account.Status == AccountPending {
		e.metrics.Inc(MetricLoginFirstFactorFailure)
		e.recordAttempt(ctx, email, source, false)
		return nil, ErrAccountNotActivated
	}

	ok, err := e.passwordHash.Verify(plainPassword, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, e.failFirstFactor(ctx, account, source)
	}

	e.maybeRehash(ctx, account, plainPassword)
	e.recordAttempt(ctx, email, source, true)

	result, err := e.issueChallenge(ctx, email)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginFirstFactorSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLoginFirstFactor,
		Email:     internal.MaskEmail(email),
		AccountID: account.ID,
		Source:    source,
		Success:   true,
	})
	return result, nil
}

// failFirstFactor records the failure, evaluates the lockout threshold and
// picks the right error for the caller.
func (e *Engine) failFirstFactor(ctx context.Context, account *Account, source string) error {
	e.metrics.Inc(MetricLoginFirstFactorFailure)
	e.recordAttempt(ctx, account.Email, source, false)

	justLocked, err := e.lockGuard.Evaluate(ctx, account.Email, e.now())
	if err != nil {
		e.logger.Warn("lockout evaluation failed", "error", err)
	}
	if justLocked {
		e.metrics.Inc(MetricAccountLocked)
		e.mailer.SendAccountLocked(ctx, account.Email)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditAccountLocked,
			Email:     internal.MaskEmail(account.Email),
			AccountID: account.ID,
			Source:    source,
			Success:   false,
			Error:     ErrorCode(ErrAccountLocked),
		})
		return ErrAccountLocked
	}

	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLoginFirstFactor,
		Email:     internal.MaskEmail(account.Email),
		AccountID: account.ID,
		Source:    source,
		Success:   false,
		Error:     ErrorCode(ErrInvalidCredentials),
	})
	return ErrInvalidCredentials
}

// maybeRehash upgrades the stored hash after a successful verification when
// the configured cost grew. Best effort.
func (e *Engine) maybeRehash(ctx context.Context, account *Account, plainPassword string) {
	needs, err := e.passwordHash.NeedsRehash(account.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.passwordHash.Hash(plainPassword)
	if err != nil {
		return
	}
	account.PasswordHash = hash
	account.UpdatedAt = e.now()
	if err := e.repos.Accounts.Save(ctx, account); err != nil {
		e.logger.Warn("failed to persist upgraded password hash", "error", err)
	}
}

// issueChallenge creates and stores a fresh OTP challenge for the email and
// dispatches the code.
func (e *Engine) issueChallenge(ctx context.Context, email string) (*OtpChallengeResult, error) {
	code, err := e.digits(e.config.Otp.Digits)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	now := e.now()
	challenge := &stores.Challenge{
		Reference: uuid.NewString(),
		Email:     email,
		Code:      code,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(e.config.Otp.TTL).Unix(),
	}
	if err := e.otpStore.Create(ctx, challenge); err != nil {
		return nil, mapStoreErr(err)
	}

	e.mailer.SendOtp(ctx, email, code)

	return &OtpChallengeResult{
		Reference: challenge.Reference,
		ExpiresIn: int64(e.config.Otp.TTL.Seconds()),
	}, nil
}
