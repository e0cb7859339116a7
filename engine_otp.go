package memberauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/denden/memberauth/internal"
	"github.com/denden/memberauth/internal/stores"
)

// VerifyOtp is the second factor. A matching code consumes the challenge and
// completes the login: the account's last-login timestamp is updated, the
// login history entry written and a signed session token returned.
//
// A wrong code within the attempt budget returns ErrInvalidOtp and keeps the
// challenge alive; the wrong code that spends the last attempt destroys the
// challenge and returns ErrOtpAttemptsExceeded.
func (e *Engine) VerifyOtp(ctx context.Context, reference, code string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	outcome, email, err := e.otpStore.Validate(ctx, reference, code, e.config.Otp.MaxAttempts)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	switch outcome {
	case stores.OutcomeMismatch:
		e.metrics.Inc(MetricOtpMismatch)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditOtpVerified,
			Email:     internal.MaskEmail(email),
			Success:   false,
			Error:     ErrorCode(ErrInvalidOtp),
		})
		return nil, ErrInvalidOtp
	case stores.OutcomeExceeded:
		e.metrics.Inc(MetricOtpExceeded)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditOtpVerified,
			Email:     internal.MaskEmail(email),
			Success:   false,
			Error:     ErrorCode(ErrOtpAttemptsExceeded),
		})
		return nil, ErrOtpAttemptsExceeded
	}

	account, err := e.repos.Accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}
	if account == nil {
		return nil, ErrUserNotFound
	}

	now := e.now()
	account.LastLoginAt = &now
	account.UpdatedAt = now
	if err := e.repos.Accounts.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}

	if err := e.history.Record(ctx, email, now); err != nil {
		// The durable row already has the timestamp; the ranked set catches
		// up on the next login.
		e.logger.Warn("failed to record login history", "error", err)
	}

	token, err := e.jwtManager.Issue(email, account.ID)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditOtpVerified,
		Email:     internal.MaskEmail(email),
		AccountID: account.ID,
		Success:   true,
	})

	return &AuthResult{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(e.config.JWT.TTL.Seconds()),
		Account:   accountView(account),
	}, nil
}

// ResendOtp reissues the challenge behind an existing reference with a fresh
// code and a fresh reference. The old reference stops resolving immediately.
func (e *Engine) ResendOtp(ctx context.Context, reference string) (*OtpChallengeResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email, err := e.otpStore.ResolveEmail(ctx, reference)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return nil, ErrOtpSessionNotFound
		}
		return nil, mapStoreErr(err)
	}

	result, err := e.issueChallenge(ctx, email)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricOtpResent)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditOtpResent,
		Email:     internal.MaskEmail(email),
		Success:   true,
	})
	return result, nil
}
