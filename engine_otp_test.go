package memberauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func loginChallenge(t *testing.T, engine *Engine, env *testEnv, email, password string) (string, string) {
	t.Helper()
	result, err := engine.Login(context.Background(), email, password, "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return result.Reference, env.mail.lastOtp(email)
}

func TestVerifyOtpCompletesLogin(t *testing.T) {
	engine, env := newTestEngine(t, nil)
	ctx := context.Background()

	registerActive(t, engine, env, "alice@example.com", "Str0ng-Pass!")
	reference, code := loginChallenge(t, engine, env, "alice@example.com", "Str0ng-Pass!")

	auth, err := engine.VerifyOtp(ctx, reference, code)
	if err != nil {
		t.Fatalf("VerifyOtp failed: %v", err)
	}
	if auth.Token == "" || auth.TokenType != "Bearer" {
		t.Fatalf("unexpected auth result: %+v", auth)
	}
	if auth.Account.Email != "alice@example.com" {
		t.Fatalf("unexpected account view: %+v", auth.Account)
	}
	if auth.Account.LastLoginAt == nil {
		t.Fatal("expected last login timestamp on completed login")
	}

	// The issued session token round-trips through validation.
	claims, err := engine.ValidateSessionToken(auth.Token)
	if err != nil {
		t.Fatalf("ValidateSessionToken failed: %v", err)
	}
	if claims.Subject != "alice@example.com" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if claims.UserID != auth.Account.ID {
		t.Fatalf("uid claim %d does not match account %d", claims.UserID, auth.Account.ID)
	}

	// The challenge is consumed: the same code cannot complete twice.
	if _, err := engine.VerifyOtp(ctx, reference, code); !errors.Is(err, ErrOtpSessionNotFound) {
		t.Fatalf("expected ErrOtpSessionNotFound on replay, got %v", err)
	}
}

func TestVerifyOtpAttemptBudget(t *testing.T) {
	engine, env := newTestEngine(t, nil)
	ctx := context.Background()

	registerActive(t, engine, env, "alice@example.com", "Str0ng-Pass!")
	reference, code := loginChallenge(t, engine, env, "alice@example.com", "Str0ng-Pass!")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	// First two wrong codes keep the challenge alive.
	for i := 0; i < testConfig().Otp.MaxAttempts-1; i++ {
		if _, err := engine.VerifyOtp(ctx, reference, wrong); !errors.Is(err, ErrInvalidOtp) {
			t.Fatalf("attempt %d: expected ErrInvalidOtp, got %v", i+1, err)
		}
	}

	// The wrong code spending the last attempt destroys the challenge.
	if _, err := engine.VerifyOtp(ctx, reference, wrong); !errors.Is(err, ErrOtpAttemptsExceeded) {
		t.Fatalf("expected ErrOtpAttemptsExceeded, got %v", err)
	}

	// Afterwards even the correct code finds nothing.
	if _, err := engine.VerifyOtp(ctx, reference, code); !errors.Is(err, ErrOtpSessionNotFound) {
		t.Fatalf("expected ErrOtpSessionNotFound after exhaustion, got %v", err)
	}
}

func TestVerifyOtpExpiredChallenge(t *testing.T) {
	engine, env := newTestEngine(t, nil)
	ctx := context.Background()

	registerActive(t, engine, env, "alice@example.com", "Str0ng-Pass!")
	reference, code := loginChallenge(t, engine, env, "alice@example.com", "Str0ng-Pass!")

	env.mr.FastForward(testConfig().Otp.TTL + time.Second)

	if _, err := engine.VerifyOtp(ctx, reference, code); !errors.Is(err, ErrOtpSessionNotFound) {
		t.Fatalf("expected ErrOtpSessionNotFound after expiry, got %v", err)
	}
}

func TestNewLoginSupersedesChallenge(t *testing.T) {
	engine, env := newTestEngine(t, nil)
	ctx := context.Background()

	registerActive(t, engine, env, "alice@example.com", "Str0ng-Pass!")
	oldRef, oldCode := loginChallenge(t, engine, env, "alice@example.com", "Str0ng-Pass!")
	newRef, newCode := loginChallenge(t, engine, env, "alice@example.com", "Str0ng-Pass!")

	if oldRef == newRef {
		t.Fatal("expected a fresh reference per login")
	}

	// The superseded challenge no longer resolves.
	if _, err := engine.VerifyOtp(ctx, oldRef, oldCode); !errors.Is(err, ErrOtpSessionNotFound) {
		t.Fatalf("expected superseded reference to be dead, got %v", err)
	}

	if _, err := engine.VerifyOtp(ctx, newRef, newCode); err != nil {
		t.Fatalf("current challenge should verify: %v", err)
	}
}

func TestResendOtpRotatesReferenceAndCode(t *testing.T) {
	engine, env := newTestEngine(t, nil)
	ctx := context.Background()

	registerActive(t, engine, env, "alice@example.com", "Str0ng-Pass!")
	oldRef, oldCode := loginChallenge(t, engine, env, "alice@example.com", "Str0ng-Pass!")

	resent, err := engine.ResendOtp(ctx, oldRef)
	if err != nil {
		t.Fatalf("ResendOtp failed: %v", err)
	}
	if resent.Reference == oldRef {
		t.Fatal("resend must rotate the reference")
	}

	// Old reference and code are dead.
	if _, err := engine.VerifyOtp(ctx, oldRef, oldCode); !errors.Is(err, ErrOtpSessionNotFound) {
		t.Fatalf("expected old reference to be dead, got %v", err)
	}

	newCode := env.mail.lastOtp("alice@example.com")
	if _, err := engine.VerifyOtp(ctx, resent.Reference, newCode); err != nil {
		t.Fatalf("resent challenge should verify: %v", err)
	}
}

func TestResendOtpUnknownReference(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	if _, err := engine.ResendOtp(context.Background(), "no-such-reference"); !errors.Is(err, ErrOtpSessionNotFound) {
		t.Fatalf("expected ErrOtpSessionNotFound, got %v", err)
	}
}

func TestOtpFallbackWhenRedisDown(t *testing.T) {
	engine, env := newTestEngine(t, nil)
	ctx := context.Background()

	registerActive(t, engine, env, "alice@example.com", "Str0ng-Pass!")

	// Redis dies after activation; the first factor still works because the
	// lock guard fails open, and the challenge lands in the durable store.
	env.mr.Close()

	result, err := engine.Login(ctx, "alice@example.com", "Str0ng-Pass!", "")
	if err != nil {
		t.Fatalf("Login with dead redis failed: %v", err)
	}

	session, err := env.fallback.FindValidByReference(ctx, result.Reference, time.Now())
	if err != nil || session == nil {
		t.Fatalf("expected durable challenge row, got %v / %v", session, err)
	}

	code := env.mail.lastOtp("alice@example.com")
	auth, err := engine.VerifyOtp(ctx, result.Reference, code)
	if err != nil {
		t.Fatalf("VerifyOtp via fallback failed: %v", err)
	}
	if auth.Token == "" {
		t.Fatal("expected session token from fallback path")
	}

	// The consumed row is excluded from further validation.
	if _, err := engine.VerifyOtp(ctx, result.Reference, code); !errors.Is(err, ErrOtpSessionNotFound) {
		t.Fatalf("expected consumed fallback challenge to be dead, got %v", err)
	}
}

func TestValidateSessionTokenFailures(t *testing.T) {
	engine, env := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.ValidateSessionToken("not-a-jwt"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken, got %v", err)
	}

	registerActive(t, engine, env, "alice@example.com", "Str0ng-Pass!")
	ref, code := loginChallenge(t, engine, env, "alice@example.com", "Str0ng-Pass!")
	auth, err := engine.VerifyOtp(ctx, ref, code)
	if err != nil {
		t.Fatalf("VerifyOtp failed: %v", err)
	}

	// A token minted under a different signing key is rejected.
	other, _ := newTestEngine(t, func(cfg *Config) {
		cfg.JWT.Secret = []byte("another-secret-that-is-32-bytes!")
	})
	if _, err := other.ValidateSessionToken(auth.Token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestLastLoginAndRecentActive(t *testing.T) {
	engine, env := newTestEngine(t, nil)
	ctx := context.Background()

	registerActive(t, engine, env, "first@example.com", "Str0ng-Pass!")
	registerActive(t, engine, env, "second@example.com", "Str0ng-Pass!")

	for _, email := range []string{"first@example.com", "second@example.com"} {
		ref, code := loginChallenge(t, engine, env, email, "Str0ng-Pass!")
		if _, err := engine.VerifyOtp(ctx, ref, code); err != nil {
			t.Fatalf("VerifyOtp for %s failed: %v", email, err)
		}
	}

	at, ok, err := engine.LastLogin(ctx, "first@example.com")
	if err != nil || !ok {
		t.Fatalf("LastLogin failed: ok=%v err=%v", ok, err)
	}
	if time.Since(at) > time.Minute {
		t.Fatalf("implausible last login %v", at)
	}

	recent, err := engine.RecentActiveAccounts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentActiveAccounts failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent accounts, got %v", recent)
	}
	// Most recent login first.
	if recent[0] != "second@example.com" {
		t.Fatalf("expected second@example.com first, got %v", recent)
	}

	// A member that never logged in.
	registerActive(t, engine, env, "never@example.com", "Str0ng-Pass!")
	_, ok, err = engine.LastLogin(ctx, "never@example.com")
	if err != nil || ok {
		t.Fatalf("expected no last login, ok=%v err=%v", ok, err)
	}
}
