// Command memberauthd serves the member authentication engine over HTTP.
//
// Configuration comes from a YAML file (-config) with secrets overridable
// through the environment; a .env file in the working directory is loaded
// when present.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/denden/memberauth"
	"github.com/denden/memberauth/cleanup"
	"github.com/denden/memberauth/internal/stores"
	"github.com/denden/memberauth/mailer"
	"github.com/denden/memberauth/sqlstore"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not load .env file", "error", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *fileConfig, logger *slog.Logger) error {
	store, err := sqlstore.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	engineCfg := engineConfig(cfg)

	sender, err := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		return err
	}
	defer sender.Close()

	dispatcher := mailer.NewDispatcher(mailer.Config{
		VerificationTTL:     engineCfg.Verification.TokenTTL,
		OtpTTL:              engineCfg.Otp.TTL,
		LockDuration:        engineCfg.Lockout.Duration,
		MaskRecipientInLogs: true,
	}, sender, logger)
	defer dispatcher.Close()

	repos := memberauth.Repositories{
		Accounts:    store.Accounts(),
		Tokens:      store.Tokens(),
		Attempts:    store.Attempts(),
		OtpFallback: store.OtpFallback(),
		Tx:          store,
	}

	engine, err := memberauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithRepositories(repos).
		WithEmailDispatcher(dispatcher).
		WithAuditSink(memberauth.NewJSONWriterSink(os.Stdout)).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	sweeper := cleanup.New(cleanup.Config{
		Interval:         cfg.Cleanup.Interval,
		BatchSize:        cfg.Cleanup.BatchSize,
		AttemptRetention: cfg.Cleanup.AttemptRetention,
		HistoryRetention: cfg.Cleanup.HistoryRetention,
	}, repos, stores.NewLoginHistory(rdb), logger)
	sweeper.Start()
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(engine, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

func engineConfig(cfg *fileConfig) memberauth.Config {
	out := memberauth.DefaultConfig()
	out.JWT.Secret = []byte(cfg.JWT.Secret)
	if cfg.JWT.TTL > 0 {
		out.JWT.TTL = cfg.JWT.TTL
	}
	if cfg.JWT.Issuer != "" {
		out.JWT.Issuer = cfg.JWT.Issuer
	}
	if cfg.Otp.Digits > 0 {
		out.Otp.Digits = cfg.Otp.Digits
	}
	if cfg.Otp.TTL > 0 {
		out.Otp.TTL = cfg.Otp.TTL
	}
	if cfg.Otp.MaxAttempts > 0 {
		out.Otp.MaxAttempts = cfg.Otp.MaxAttempts
	}
	if cfg.Lockout.MaxFailedAttempts > 0 {
		out.Lockout.MaxFailedAttempts = cfg.Lockout.MaxFailedAttempts
	}
	if cfg.Lockout.Window > 0 {
		out.Lockout.Window = cfg.Lockout.Window
	}
	if cfg.Lockout.Duration > 0 {
		out.Lockout.Duration = cfg.Lockout.Duration
	}
	if cfg.RateLimit.MaxRequests > 0 {
		out.RateLimit.MaxRequests = cfg.RateLimit.MaxRequests
	}
	if cfg.RateLimit.Window > 0 {
		out.RateLimit.Window = cfg.RateLimit.Window
	}
	if cfg.Verification.TokenTTL > 0 {
		out.Verification.TokenTTL = cfg.Verification.TokenTTL
	}
	return out
}
