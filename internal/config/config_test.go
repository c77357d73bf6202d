package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ScoreSourceMemory, cfg.ScoreSource)
	assert.Equal(t, 2*time.Second, cfg.ScoreTimeout)
	assert.Equal(t, 3, cfg.ScoreAttempts)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.True(t, cfg.Defaults.PlatformFeeRate.Equal(decimal.NewFromFloat(0.1)))
	assert.True(t, cfg.Defaults.StartingBalance.Equal(decimal.NewFromInt(10000)))
	require.Len(t, cfg.Defaults.PayoutTable, 3)
	assert.True(t, cfg.Defaults.PayoutTable[0].Equal(decimal.NewFromFloat(0.5)))
	assert.Empty(t, cfg.Archive.Bucket)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PORT":              "9000",
		"SCORE_API_URL":     "http://trends:8081",
		"SCORE_TIMEOUT":     "500ms",
		"SCORE_ATTEMPTS":    "5",
		"PLATFORM_FEE_RATE": "0.15",
		"STARTING_BALANCE":  "2500",
		"PAYOUT_TABLE":      "0.6, 0.4",
		"ARCHIVE_BUCKET":    "settlements",
		"ARCHIVE_ENDPOINT":  "http://minio:9000",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, ScoreSourceHTTP, cfg.ScoreSource, "an API URL implies the http source")
	assert.Equal(t, 500*time.Millisecond, cfg.ScoreTimeout)
	assert.Equal(t, 5, cfg.ScoreAttempts)
	assert.True(t, cfg.Defaults.PlatformFeeRate.Equal(decimal.NewFromFloat(0.15)))
	assert.True(t, cfg.Defaults.StartingBalance.Equal(decimal.NewFromInt(2500)))
	assert.Len(t, cfg.Defaults.PayoutTable, 2)
	assert.Equal(t, "settlements", cfg.Archive.Bucket)
	assert.Equal(t, "http://minio:9000", cfg.Archive.Endpoint)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad source":         {"SCORE_SOURCE": "carrier-pigeon"},
		"http without url":   {"SCORE_SOURCE": "http"},
		"redis without url":  {"SCORE_SOURCE": "redis"},
		"bad timeout":        {"SCORE_TIMEOUT": "soon"},
		"zero attempts":      {"SCORE_ATTEMPTS": "0"},
		"fee rate of one":    {"PLATFORM_FEE_RATE": "1"},
		"negative balance":   {"STARTING_BALANCE": "-1"},
		"payout over pool":   {"PAYOUT_TABLE": "0.7,0.4"},
		"payout not numeric": {"PAYOUT_TABLE": "half"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(env(vars))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("SCORE_SOURCE", "memory")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
}
