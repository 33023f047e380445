package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Venues = []VenueConfig{
		{Name: "alpha", Class: "cex"},
		{Name: "beta", Class: "dex"},
	}
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg.Mode = "serve"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "live" }, "unsupported mode"},
		{"no venues", func(c *Config) { c.Venues = nil }, "at least one venue"},
		{"empty venue name", func(c *Config) { c.Venues[0].Name = "" }, "empty name"},
		{"duplicate venue", func(c *Config) { c.Venues[1].Name = "alpha" }, "duplicate venue"},
		{"bad venue class", func(c *Config) { c.Venues[0].Class = "otc" }, "unknown class"},
		{"failure rate out of range", func(c *Config) { c.Venues[0].FailureRate = 1 }, "failure_rate"},
		{"zero scoring weights", func(c *Config) { c.Scoring = ScoringConfig{} }, "scoring weights"},
		{"mitigation threshold too high", func(c *Config) { c.Iceberg.MitigationThreshold = 1.5 }, "mitigation_threshold"},
		{"decay factor at one", func(c *Config) { c.Iceberg.DecayFactor = 1 }, "decay_factor"},
		{"schedule band negative", func(c *Config) { c.POV.ScheduleBand = -0.1 }, "schedule_band"},
		{"zero dispatch timeout", func(c *Config) { c.Orchestrator.DispatchTimeout = 0 }, "dispatch_timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, d.D())

	require.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "serve"

[[venues]]
name = "alpha"
class = "cex"
taker_fee_rate = 0.001

[twap]
tick = "200ms"

[scoring]
max_latency = "250ms"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, 200*time.Millisecond, cfg.TWAP.Tick.D())
	assert.Equal(t, 250*time.Millisecond, cfg.Scoring.MaxLatency.D())
	// Untouched sections keep their defaults.
	assert.Equal(t, 256, cfg.Latency.WindowSize)
	assert.Equal(t, 0.99, cfg.VWAP.CompletionRatio)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("EXECD_SERVER_PORT", "9191")
	t.Setenv("EXECD_REDIS_ENABLED", "true")
	t.Setenv("EXECD_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("EXECD_POSTGRES_PASSWORD", "hunter2")

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[venues]]
name = "alpha"
class = "cex"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
