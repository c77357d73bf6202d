// Package config reads service settings from the environment. A .env file in
// the working directory is loaded first when present; real environment
// variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/archive"
	"github.com/attnx/tournament-engine/internal/tournament"
)

// Score sources.
const (
	ScoreSourceHTTP   = "http"
	ScoreSourceRedis  = "redis"
	ScoreSourceMemory = "memory"
)

// Config holds every setting of the engine.
type Config struct {
	Port string

	DatabaseURL   string        // empty: in-memory store
	RedisURL      string        // empty: no cache
	CacheTTL      time.Duration // tournament and target cache entries
	ClickHouseURL string        // empty: no score history

	ScoreSource   string
	ScoreAPIURL   string
	ScoreTimeout  time.Duration
	ScoreAttempts int

	WalletAPIURL   string // empty: in-memory wallet
	WalletAPIToken string

	Defaults      tournament.Defaults
	SweepInterval time.Duration

	Archive archive.Config // Bucket empty: reports are not archived
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not read .env", "err", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:           get("PORT", "8080"),
		DatabaseURL:    get("DATABASE_URL", ""),
		RedisURL:       get("REDIS_URL", ""),
		ClickHouseURL:  get("CLICKHOUSE_URL", ""),
		ScoreAPIURL:    get("SCORE_API_URL", ""),
		WalletAPIURL:   get("WALLET_API_URL", ""),
		WalletAPIToken: get("WALLET_API_TOKEN", ""),
		Archive: archive.Config{
			Bucket:          get("ARCHIVE_BUCKET", ""),
			Endpoint:        get("ARCHIVE_ENDPOINT", ""),
			Region:          get("ARCHIVE_REGION", ""),
			AccessKeyID:     get("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: get("ARCHIVE_SECRET_ACCESS_KEY", ""),
		},
	}

	var err error
	if cfg.CacheTTL, err = time.ParseDuration(get("CACHE_TTL", "30s")); err != nil {
		return nil, fmt.Errorf("CACHE_TTL: %w", err)
	}
	if cfg.ScoreTimeout, err = time.ParseDuration(get("SCORE_TIMEOUT", "2s")); err != nil {
		return nil, fmt.Errorf("SCORE_TIMEOUT: %w", err)
	}
	if cfg.ScoreAttempts, err = strconv.Atoi(get("SCORE_ATTEMPTS", "3")); err != nil || cfg.ScoreAttempts < 1 {
		return nil, fmt.Errorf("SCORE_ATTEMPTS must be a positive integer")
	}
	if cfg.SweepInterval, err = time.ParseDuration(get("SCHEDULER_SWEEP", "1m")); err != nil {
		return nil, fmt.Errorf("SCHEDULER_SWEEP: %w", err)
	}

	cfg.ScoreSource = strings.ToLower(get("SCORE_SOURCE", defaultScoreSource(cfg)))
	switch cfg.ScoreSource {
	case ScoreSourceHTTP:
		if cfg.ScoreAPIURL == "" {
			return nil, fmt.Errorf("SCORE_SOURCE=http needs SCORE_API_URL")
		}
	case ScoreSourceRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("SCORE_SOURCE=redis needs REDIS_URL")
		}
	case ScoreSourceMemory:
	default:
		return nil, fmt.Errorf("SCORE_SOURCE must be http, redis or memory, got %q", cfg.ScoreSource)
	}

	if cfg.Defaults.PlatformFeeRate, err = decimal.NewFromString(get("PLATFORM_FEE_RATE", "0.10")); err != nil {
		return nil, fmt.Errorf("PLATFORM_FEE_RATE: %w", err)
	}
	if cfg.Defaults.PlatformFeeRate.IsNegative() || cfg.Defaults.PlatformFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("PLATFORM_FEE_RATE must be in [0, 1)")
	}
	if cfg.Defaults.StartingBalance, err = decimal.NewFromString(get("STARTING_BALANCE", "10000.00")); err != nil {
		return nil, fmt.Errorf("STARTING_BALANCE: %w", err)
	}
	if !cfg.Defaults.StartingBalance.IsPositive() {
		return nil, fmt.Errorf("STARTING_BALANCE must be positive")
	}
	if cfg.Defaults.PayoutTable, err = ParsePayoutTable(get("PAYOUT_TABLE", "0.50,0.30,0.20")); err != nil {
		return nil, fmt.Errorf("PAYOUT_TABLE: %w", err)
	}
	return cfg, nil
}

func defaultScoreSource(cfg *Config) string {
	if cfg.ScoreAPIURL != "" {
		return ScoreSourceHTTP
	}
	return ScoreSourceMemory
}

// ParsePayoutTable parses comma-separated shares such as "0.5,0.3,0.2".
func ParsePayoutTable(s string) ([]decimal.Decimal, error) {
	var table []decimal.Decimal
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		share, err := decimal.NewFromString(part)
		if err != nil {
			return nil, fmt.Errorf("share %q: %w", part, err)
		}
		table = append(table, share)
	}
	if err := tournament.ValidatePayoutTable(table); err != nil {
		return nil, err
	}
	return table, nil
}
