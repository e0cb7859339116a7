package memberauth

import "errors"

var (
	// ErrInvalidCredentials is returned by Login for a wrong password or an
	// unknown email. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrWeakPassword is returned by Register when the password fails the
	// strength policy. The wrapped message names the first violation.
	ErrWeakPassword = errors.New("password policy violation")
	// ErrEmailAlreadyExists is returned by Register for a duplicate email.
	ErrEmailAlreadyExists = errors.New("email already registered")
	// ErrUserNotFound is returned when an operation requires an existing
	// account and none matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountNotActivated is returned by Login while the account is still
	// pending email verification, and by ResendVerification when the account
	// is no longer pending.
	ErrAccountNotActivated = errors.New("account not activated")
	// ErrAccountLocked is returned by Login while the lockout flag is set or
	// the account status is locked.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenNotFound is returned by VerifyEmail for an unknown token value.
	ErrTokenNotFound = errors.New("verification token not found")
	// ErrInvalidToken is returned by VerifyEmail for an expired token or a
	// token of the wrong kind.
	ErrInvalidToken = errors.New("verification token invalid")
	// ErrTokenAlreadyUsed is returned by VerifyEmail when the token was
	// consumed before.
	ErrTokenAlreadyUsed = errors.New("verification token already used")
	// ErrOtpSessionNotFound is returned by VerifyOtp and ResendOtp when the
	// reference resolves to no live challenge (absent, expired, superseded,
	// or already consumed).
	ErrOtpSessionNotFound = errors.New("otp session not found")
	// ErrInvalidOtp is returned by VerifyOtp on a code mismatch while the
	// attempt budget still has room.
	ErrInvalidOtp = errors.New("invalid otp code")
	// ErrOtpAttemptsExceeded is returned by VerifyOtp when the mismatch that
	// just happened exhausted the attempt budget. The challenge is gone.
	ErrOtpAttemptsExceeded = errors.New("otp attempts exceeded")
	// ErrTooManyRequests is returned by AllowRequest when the source address
	// exceeded its fixed-window budget.
	ErrTooManyRequests = errors.New("too many requests")

	// ErrInvalidSignature is returned by ValidateSessionToken when the token
	// signature does not verify.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrMalformedToken is returned by ValidateSessionToken when the token
	// cannot be parsed at all.
	ErrMalformedToken = errors.New("token malformed")
	// ErrTokenExpired is returned by ValidateSessionToken for a well-formed,
	// correctly signed token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrFastStoreUnavailable wraps Redis connectivity failures.
	ErrFastStoreUnavailable = errors.New("fast store unavailable")
	// ErrDurableStoreUnavailable wraps repository failures.
	ErrDurableStoreUnavailable = errors.New("durable store unavailable")
	// ErrEmailDispatch wraps email delivery failures for the operations that
	// surface them (resend paths).
	ErrEmailDispatch = errors.New("email dispatch failed")

	// ErrEngineNotReady is returned when an Engine method is called on a nil
	// or incompletely built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorCode maps an engine error to a stable machine-readable code for
// transport layers. Unknown errors map to INTERNAL_ERROR so no internal
// detail leaks outward.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, ErrWeakPassword):
		return "WEAK_PASSWORD"
	case errors.Is(err, ErrEmailAlreadyExists):
		return "EMAIL_ALREADY_EXISTS"
	case errors.Is(err, ErrUserNotFound):
		return "USER_NOT_FOUND"
	case errors.Is(err, ErrAccountNotActivated):
		return "ACCOUNT_NOT_ACTIVATED"
	case errors.Is(err, ErrAccountLocked):
		return "ACCOUNT_LOCKED"
	case errors.Is(err, ErrTokenNotFound):
		return "TOKEN_NOT_FOUND"
	case errors.Is(err, ErrInvalidToken):
		return "INVALID_TOKEN"
	case errors.Is(err, ErrTokenAlreadyUsed):
		return "TOKEN_ALREADY_USED"
	case errors.Is(err, ErrOtpSessionNotFound):
		return "OTP_SESSION_NOT_FOUND"
	case errors.Is(err, ErrInvalidOtp):
		return "INVALID_OTP"
	case errors.Is(err, ErrOtpAttemptsExceeded):
		return "OTP_ATTEMPTS_EXCEEDED"
	case errors.Is(err, ErrTooManyRequests):
		return "RATE_LIMIT_EXCEEDED"
	case errors.Is(err, ErrInvalidSignature):
		return "JWT_SIGNATURE_INVALID"
	case errors.Is(err, ErrMalformedToken):
		return "INVALID_JWT_FORMAT"
	case errors.Is(err, ErrTokenExpired):
		return "INVALID_TOKEN"
	case errors.Is(err, ErrEmailDispatch):
		return "EMAIL_SERVICE_ERROR"
	case errors.Is(err, ErrFastStoreUnavailable):
		return "REDIS_SERVICE_ERROR"
	case errors.Is(err, ErrDurableStoreUnavailable):
		return "DATABASE_SERVICE_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
