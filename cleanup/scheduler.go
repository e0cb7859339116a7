package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/denden/memberauth"
	"github.com/denden/memberauth/internal/stores"
)

// Config tunes the sweep cadence and retention windows.
type Config struct {
	// Interval between sweeps. Zero disables the background loop; RunOnce
	// remains usable.
	Interval time.Duration
	// BatchSize bounds each delete statement.
	BatchSize int
	// AttemptRetention is how long login attempt rows are kept. The window
	// must comfortably exceed the lockout evaluation window.
	AttemptRetention time.Duration
	// HistoryRetention is how long inactive members stay in the login
	// history ranked set. Zero keeps history forever.
	HistoryRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.AttemptRetention <= 0 {
		c.AttemptRetention = 30 * 24 * time.Hour
	}
	return c
}

// Scheduler owns the background sweep goroutine.
type Scheduler struct {
	config   Config
	tokens   memberauth.VerificationTokenRepository
	attempts memberauth.LoginAttemptRepository
	otp      memberauth.OtpFallbackRepository
	history  *stores.LoginHistory
	logger   *slog.Logger
	now      func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a scheduler. history may be nil when Redis is not part of the
// deployment; logger may be nil.
func New(cfg Config, repos memberauth.Repositories, history *stores.LoginHistory, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		config:   cfg.withDefaults(),
		tokens:   repos.Tokens,
		attempts: repos.Attempts,
		otp:      repos.OtpFallback,
		history:  history,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithClock overrides the time source. Test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start launches the periodic sweep. No-op when Interval is zero.
func (s *Scheduler) Start() {
	if s.config.Interval <= 0 {
		close(s.done)
		return
	}
	go s.run()
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
			s.RunOnce(ctx)
			cancel()
		case <-s.stop:
			return
		}
	}
}

// Stop terminates the background loop and waits for an in-flight sweep.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Result reports what one sweep removed.
type Result struct {
	Tokens      int64
	Attempts    int64
	OtpSessions int64
	History     int64
}

// RunOnce performs a single sweep. Every category is swept even when an
// earlier one fails; the sweep is idempotent and the next run picks up
// whatever was left behind.
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	now := s.now()
	var res Result

	res.Tokens = s.sweepBatched(ctx, "verification tokens", func(limit int) (int64, error) {
		return s.tokens.DeleteExpiredBefore(ctx, now, limit)
	})
	res.Attempts = s.sweepBatched(ctx, "login attempts", func(limit int) (int64, error) {
		return s.attempts.DeleteBefore(ctx, now.Add(-s.config.AttemptRetention), limit)
	})
	if s.otp != nil {
		res.OtpSessions = s.sweepBatched(ctx, "otp fallback sessions", func(limit int) (int64, error) {
			return s.otp.DeleteExpiredBefore(ctx, now, limit)
		})
	}
	if s.history != nil && s.config.HistoryRetention > 0 {
		removed, err := s.history.Prune(ctx, now.Add(-s.config.HistoryRetention))
		if err != nil {
			s.logger.Warn("retention sweep failed", "category", "login history", "error", err)
		}
		res.History = removed
	}

	if res.Tokens+res.Attempts+res.OtpSessions+res.History > 0 {
		s.logger.Info("retention sweep completed",
			"tokens", res.Tokens,
			"attempts", res.Attempts,
			"otp_sessions", res.OtpSessions,
			"history", res.History,
		)
	}
	return res
}

func (s *Scheduler) sweepBatched(ctx context.Context, category string, del func(limit int) (int64, error)) int64 {
	var total int64
	for {
		if ctx.Err() != nil {
			return total
		}
		removed, err := del(s.config.BatchSize)
		if err != nil {
			s.logger.Warn("retention sweep failed", "category", category, "error", err)
			return total
		}
		total += removed
		if removed < int64(s.config.BatchSize) {
			return total
		}
	}
}
