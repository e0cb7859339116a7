package memberauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/denden/memberauth/internal"
	"github.com/denden/memberauth/password"
)

// Register creates a pending account and emails a verification token. The
// account cannot log in until [Engine.VerifyEmail] consumes the token.
func (e *Engine) Register(ctx context.Context, email, plainPassword string) (*AccountView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)

	if err := password.Check(plainPassword); err != nil {
		e.metrics.Inc(MetricRegisterWeakPassword)
		return nil, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	exists, err := e.repos.Accounts.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}
	if exists {
		e.metrics.Inc(MetricRegisterDuplicate)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditRegister,
			Email:     internal.MaskEmail(email),
			Success:   false,
			Error:     ErrorCode(ErrEmailAlreadyExists),
		})
		return nil, ErrEmailAlreadyExists
	}

	hash, err := e.passwordHash.Hash(plainPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := e.now()
	account := &Account{
		Email:        email,
		PasswordHash: hash,
		Status:       AccountPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	token := &VerificationToken{
		Token:     uuid.NewString(),
		Kind:      TokenEmailVerification,
		ExpiresAt: now.Add(e.config.Verification.TokenTTL),
		CreatedAt: now,
	}

	err = e.inTransaction(ctx, func(ctx context.Context) error {
		if err := e.repos.Accounts.Save(ctx, account); err != nil {
			return err
		}
		token.AccountID = account.ID
		return e.repos.Tokens.Save(ctx, token)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}

	e.mailer.SendVerification(ctx, email, token.Token)

	e.metrics.Inc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRegister,
		Email:     internal.MaskEmail(email),
		AccountID: account.ID,
		Success:   true,
	})

	view := accountView(account)
	return &view, nil
}

// VerifyEmail consumes a verification token and activates its account. A
// token works exactly once; expiry, reuse and wrong kind are each rejected
// with a distinct error.
func (e *Engine) VerifyEmail(ctx context.Context, tokenValue string) error {
	if err := e.ready(); err != nil {
		return err
	}

	token, err := e.repos.Tokens.FindByToken(ctx, tokenValue)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}
	if token == nil {
		e.metrics.Inc(MetricVerifyFailure)
		return ErrTokenNotFound
	}
	// Kind is checked before the used flag: a consumed token of another
	// kind is rejected as invalid, not as already used.
	if token.Kind != TokenEmailVerification {
		e.metrics.Inc(MetricVerifyFailure)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditVerifyEmail,
			AccountID: token.AccountID,
			Success:   false,
			Error:     ErrorCode(ErrInvalidToken),
		})
		return ErrInvalidToken
	}
	if token.Used {
		e.metrics.Inc(MetricVerifyFailure)
		return ErrTokenAlreadyUsed
	}
	if !e.now().Before(token.ExpiresAt) {
		e.metrics.Inc(MetricVerifyFailure)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditVerifyEmail,
			AccountID: token.AccountID,
			Success:   false,
			Error:     ErrorCode(ErrInvalidToken),
		})
		return ErrInvalidToken
	}

	var account *Account
	err = e.inTransaction(ctx, func(ctx context.Context) error {
		account, err = e.repos.Accounts.FindByID(ctx, token.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return ErrUserNotFound
		}

		token.Used = true
		if err := e.repos.Tokens.Save(ctx, token); err != nil {
			return err
		}

		if account.Status == AccountPending {
			account.Status = AccountActive
			account.UpdatedAt = e.now()
			if err := e.repos.Accounts.Save(ctx, account); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}

	e.metrics.Inc(MetricVerifySuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditVerifyEmail,
		Email:     internal.MaskEmail(account.Email),
		AccountID: account.ID,
		Success:   true,
	})
	return nil
}

// ResendVerification issues a fresh token for an account still pending
// activation. Older tokens stay valid until they expire or get used.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
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
	if account.Status != AccountPending {
		return ErrAccountNotActivated
	}

	now := e.now()
	token := &VerificationToken{
		Token:     uuid.NewString(),
		AccountID: account.ID,
		Kind:      TokenEmailVerification,
		ExpiresAt: now.Add(e.config.Verification.TokenTTL),
		CreatedAt: now,
	}
	if err := e.repos.Tokens.Save(ctx, token); err != nil {
		return fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}

	e.mailer.SendVerification(ctx, email, token.Token)

	e.emitAudit(ctx, AuditEvent{
		EventType: AuditResendVerification,
		Email:     internal.MaskEmail(email),
		AccountID: account.ID,
		Success:   true,
	})
	return nil
}

func (e *Engine) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.repos.Tx == nil {
		return fn(ctx)
	}
	return e.repos.Tx.InTransaction(ctx, fn)
}

func accountView(a *Account) AccountView {
	return AccountView{
		ID:          a.ID,
		Email:       a.Email,
		LastLoginAt: a.LastLoginAt,
	}
}
