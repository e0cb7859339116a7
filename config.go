package memberauth

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full engine configuration tree. Configure before Build and
// treat as immutable afterwards.
type Config struct {
	JWT          JWTConfig
	Password     PasswordConfig
	Otp          OtpConfig
	Lockout      LockoutConfig
	RateLimit    RateLimitConfig
	Verification VerificationConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

// JWTConfig controls session token issuance. Secret is required and must be
// at least 32 bytes; a missing secret aborts Build.
type JWTConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// PasswordConfig holds the argon2id parameters for credential hashing.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// OtpConfig controls the second authentication factor.
type OtpConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	RedisPrefix string
}

// LockoutConfig controls failed-attempt account lockout. Window is the
// trailing interval over which failures are counted; Duration is the lock
// flag TTL.
type LockoutConfig struct {
	MaxFailedAttempts int
	Window            time.Duration
	Duration          time.Duration
}

// RateLimitConfig is the fixed-window per-source-address request budget.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

// VerificationConfig controls email verification tokens.
type VerificationConfig struct {
	TokenTTL time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics system.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the engine defaults. Host applications overlay
// their settings on top of it.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			TTL:    24 * time.Hour,
			Issuer: "memberauth",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        2,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Otp: OtpConfig{
			Digits:      6,
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
			RedisPrefix: "otp",
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: 5,
			Window:            30 * time.Minute,
			Duration:          30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 10,
			Window:      time.Minute,
		},
		Verification: VerificationConfig{
			TokenTTL: 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for fatal startup errors.
func (c Config) Validate() error {
	if len(c.JWT.Secret) == 0 {
		return errors.New("jwt signing secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("jwt signing secret must be at least 32 bytes")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("jwt ttl must be positive")
	}
	if c.Otp.Digits < 4 || c.Otp.Digits > 10 {
		return fmt.Errorf("otp digits out of range: %d", c.Otp.Digits)
	}
	if c.Otp.TTL <= 0 {
		return errors.New("otp ttl must be positive")
	}
	if c.Otp.MaxAttempts <= 0 {
		return errors.New("otp max attempts must be positive")
	}
	if c.Lockout.MaxFailedAttempts <= 0 {
		return errors.New("lockout threshold must be positive")
	}
	if c.Lockout.Window <= 0 || c.Lockout.Duration <= 0 {
		return errors.New("lockout window and duration must be positive")
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit budget and window must be positive")
	}
	if c.Verification.TokenTTL <= 0 {
		return errors.New("verification token ttl must be positive")
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	if c.JWT.Secret != nil {
		out.JWT.Secret = append([]byte(nil), c.JWT.Secret...)
	}
	return out
}
