package memberauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/denden/memberauth/internal"
	"github.com/denden/memberauth/internal/limiters"
	"github.com/denden/memberauth/internal/rate"
	"github.com/denden/memberauth/internal/stores"
	"github.com/denden/memberauth/jwt"
	"github.com/denden/memberauth/password"
)

// Builder assembles an [Engine]. Configure, then call Build exactly once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	repos  Repositories
	mailer EmailDispatcher

	auditSink AuditSink
	logger    *slog.Logger

	clock  Clock
	digits DigitSource

	built bool
}

// New returns a builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration tree.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the fast-store client. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRepositories sets the durable ports. Accounts, Tokens, Attempts and
// OtpFallback are required; Tx is optional.
func (b *Builder) WithRepositories(repos Repositories) *Builder {
	b.repos = repos
	return b
}

// WithEmailDispatcher sets the outbound email port. Required.
func (b *Builder) WithEmailDispatcher(d EmailDispatcher) *Builder {
	b.mailer = d
	return b
}

// WithAuditSink sets the destination for audit events. Optional; without a
// sink events are dropped.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Optional; defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source. Test hook.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithDigitSource overrides OTP code generation. Test hook.
func (b *Builder) WithDigitSource(src DigitSource) *Builder {
	b.digits = src
	return b
}

// Build validates the configuration, wires every component and returns the
// ready engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.repos.Accounts == nil || b.repos.Tokens == nil ||
		b.repos.Attempts == nil || b.repos.OtpFallback == nil {
		return nil, errors.New("all durable repositories required")
	}
	if b.mailer == nil {
		return nil, errors.New("email dispatcher required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	digits := b.digits
	if digits == nil {
		digits = internal.NewOTP
	}

	engine := &Engine{
		config:  cfg,
		logger:  logger,
		repos:   b.repos,
		mailer:  b.mailer,
		now:     clock,
		digits:  digits,
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}

	ping := func(ctx context.Context) error {
		return b.redis.Ping(ctx).Err()
	}
	engine.redisPing = ping

	var txRunner stores.TxRunner
	if b.repos.Tx != nil {
		txRunner = b.repos.Tx.InTransaction
	}
	primary := stores.NewRedisStore(b.redis, cfg.Otp.RedisPrefix)
	fallback := stores.NewFallbackStore(
		&fallbackRepoAdapter{repo: b.repos.OtpFallback},
		txRunner,
		clock,
	)
	engine.otpStore = stores.NewDualStore(primary, fallback, ping, logger)

	engine.history = stores.NewLoginHistory(b.redis)
	engine.lockGuard = limiters.NewLockGuard(b.redis, b.repos.Attempts.CountFailedSince, limiters.LockoutConfig{
		Threshold: cfg.Lockout.MaxFailedAttempts,
		Window:    cfg.Lockout.Window,
		Duration:  cfg.Lockout.Duration,
	})
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
	})

	ph, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		Secret: cfg.JWT.Secret,
		TTL:    cfg.JWT.TTL,
		Issuer: cfg.JWT.Issuer,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm.WithClock(clock)

	b.built = true

	return engine, nil
}

// fallbackRepoAdapter narrows the public OtpFallbackRepository to the store
// package's record type.
type fallbackRepoAdapter struct {
	repo OtpFallbackRepository
}

func (a *fallbackRepoAdapter) FindLatestValidByEmail(ctx context.Context, email string, now time.Time) (*stores.FallbackRecord, error) {
	s, err := a.repo.FindLatestValidByEmail(ctx, email, now)
	return toFallbackRecord(s), err
}

func (a *fallbackRepoAdapter) FindValidByReference(ctx context.Context, reference string, now time.Time) (*stores.FallbackRecord, error) {
	s, err := a.repo.FindValidByReference(ctx, reference, now)
	return toFallbackRecord(s), err
}

func (a *fallbackRepoAdapter) Save(ctx context.Context, record *stores.FallbackRecord) error {
	session := &OtpFallbackSession{
		ID:        record.ID,
		Reference: record.Reference,
		Email:     record.Email,
		Code:      record.Code,
		Attempts:  record.Attempts,
		CreatedAt: record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
		Used:      record.Used,
	}
	if err := a.repo.Save(ctx, session); err != nil {
		return err
	}
	record.ID = session.ID
	return nil
}

func (a *fallbackRepoAdapter) DeleteByEmail(ctx context.Context, email string) error {
	return a.repo.DeleteByEmail(ctx, email)
}

func toFallbackRecord(s *OtpFallbackSession) *stores.FallbackRecord {
	if s == nil {
		return nil
	}
	return &stores.FallbackRecord{
		ID:        s.ID,
		Reference: s.Reference,
		Email:     s.Email,
		Code:      s.Code,
		Attempts:  s.Attempts,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		Used:      s.Used,
	}
}
