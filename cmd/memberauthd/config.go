package main

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// fileConfig is the on-disk YAML shape of the daemon configuration. Secrets
// can be left empty in the file and supplied through the environment
// (MEMBERAUTH_JWT_SECRET, MEMBERAUTH_REDIS_PASSWORD, MEMBERAUTH_SMTP_PASSWORD).
type fileConfig struct {
	Listen string `yaml:"listen"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	JWT struct {
		Secret string        `yaml:"secret"`
		TTL    time.Duration `yaml:"ttl"`
		Issuer string        `yaml:"issuer"`
	} `yaml:"jwt"`

	Otp struct {
		Digits      int           `yaml:"digits"`
		TTL         time.Duration `yaml:"ttl"`
		MaxAttempts int           `yaml:"max_attempts"`
	} `yaml:"otp"`

	Lockout struct {
		MaxFailedAttempts int           `yaml:"max_failed_attempts"`
		Window            time.Duration `yaml:"window"`
		Duration          time.Duration `yaml:"duration"`
	} `yaml:"lockout"`

	RateLimit struct {
		MaxRequests int           `yaml:"max_requests"`
		Window      time.Duration `yaml:"window"`
	} `yaml:"rate_limit"`

	Verification struct {
		TokenTTL time.Duration `yaml:"token_ttl"`
	} `yaml:"verification"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`

	Cleanup struct {
		Interval         time.Duration `yaml:"interval"`
		BatchSize        int           `yaml:"batch_size"`
		AttemptRetention time.Duration `yaml:"attempt_retention"`
		HistoryRetention time.Duration `yaml:"history_retention"`
	} `yaml:"cleanup"`
}

func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	cfg.Listen = ":8080"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Database.Path = "memberauth.db"
	cfg.Cleanup.Interval = time.Hour

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("MEMBERAUTH_JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("MEMBERAUTH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MEMBERAUTH_SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("MEMBERAUTH_LISTEN"); v != "" {
		cfg.Listen = v
	}

	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret missing: set jwt.secret or MEMBERAUTH_JWT_SECRET")
	}
	return cfg, nil
}
