// Package config defines the top-level configuration for the execution
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by EXECD_* environment variables.
type Config struct {
	Venues       []VenueConfig      `toml:"venues"`
	Liquidity    LiquidityConfig    `toml:"liquidity"`
	Latency      LatencyConfig      `toml:"latency"`
	Scoring      ScoringConfig      `toml:"scoring"`
	Cost         CostConfig         `toml:"cost"`
	TWAP         TWAPConfig         `toml:"twap"`
	VWAP         VWAPConfig         `toml:"vwap"`
	POV          POVConfig          `toml:"pov"`
	Iceberg      IcebergConfig      `toml:"iceberg"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Server       ServerConfig       `toml:"server"`
	Feed         FeedConfig         `toml:"feed"`
	Redis        RedisConfig        `toml:"redis"`
	Postgres     PostgresConfig     `toml:"postgres"`
	S3           S3Config           `toml:"s3"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// VenueConfig describes one venue known to the engine. In paper mode each
// entry backs a simulator instance; in serve mode it parameterises the real
// adapter registered under the same name.
type VenueConfig struct {
	Name          string  `toml:"name"`
	Class         string  `toml:"class"` // cex, dex, ecn
	MakerFeeRate  float64 `toml:"maker_fee_rate"`
	TakerFeeRate  float64 `toml:"taker_fee_rate"`
	TickSize      float64 `toml:"tick_size"`
	BaseLatencyMs int     `toml:"base_latency_ms"`
	FailureRate   float64 `toml:"failure_rate"` // simulator only
	RateLimit     int     `toml:"rate_limit"`   // dispatches per second
	RateBurst     int     `toml:"rate_burst"`
}

// LiquidityConfig tunes the aggregated liquidity cache.
type LiquidityConfig struct {
	TTLCEX              Duration `toml:"ttl_cex"`
	TTLDEX              Duration `toml:"ttl_dex"`
	TTLECN              Duration `toml:"ttl_ecn"`
	VolatilityThreshold float64  `toml:"volatility_threshold"` // stddev/mean over the window
	VolumeThreshold     float64  `toml:"volume_threshold"`     // 24h volume
	ShortenFactor       float64  `toml:"shorten_factor"`       // TTL multiplier when thresholds trip
	FetchConcurrency    int      `toml:"fetch_concurrency"`
	FetchTimeout        Duration `toml:"fetch_timeout"`
	WarmupSymbols       []string `toml:"warmup_symbols"`
	WarmupInterval      Duration `toml:"warmup_interval"`
	VolatilityWindow    Duration `toml:"volatility_window"`
}

// LatencyConfig tunes the latency measurement service.
type LatencyConfig struct {
	ProbeInterval Duration `toml:"probe_interval"`
	WindowSize    int      `toml:"window_size"` // samples kept per venue
	PeakHoursFrom int      `toml:"peak_hours_from"`
	PeakHoursTo   int      `toml:"peak_hours_to"`
}

// ScoringConfig tunes the venue scorer.
type ScoringConfig struct {
	LatencyWeight     float64  `toml:"latency_weight"`
	CostWeight        float64  `toml:"cost_weight"`
	LiquidityWeight   float64  `toml:"liquidity_weight"`
	ReliabilityWeight float64  `toml:"reliability_weight"`
	RefreshInterval   Duration `toml:"refresh_interval"`
	MinSuccessRate    float64  `toml:"min_success_rate"`
	MinFillRate       float64  `toml:"min_fill_rate"`
	MaxLatency        Duration `toml:"max_latency"`
	TopN              int      `toml:"top_n"`
}

// CostConfig tunes the cost model.
type CostConfig struct {
	LinearImpactCoeff    float64 `toml:"linear_impact_coeff"` // bps per unit participation
	SqrtImpactCoeff      float64 `toml:"sqrt_impact_coeff"`
	OpportunityBpsPerMin float64 `toml:"opportunity_bps_per_min"`
}

// TWAPConfig tunes the TWAP algorithm.
type TWAPConfig struct {
	Tick            Duration `toml:"tick"`
	MaxRetries      int      `toml:"max_retries"`
	RetryDelay      Duration `toml:"retry_delay"`
	CompletionRatio float64  `toml:"completion_ratio"`
}

// VWAPConfig tunes the VWAP algorithm.
type VWAPConfig struct {
	Tick             Duration `toml:"tick"`
	AdaptInterval    Duration `toml:"adapt_interval"`
	ParticipationCap float64  `toml:"participation_cap"`
	MaxVolumeScale   float64  `toml:"max_volume_scale"`
	ImpactShrinkBps  float64  `toml:"impact_shrink_bps"`
	RedistributeUp   float64  `toml:"redistribute_up"`
	RedistributeDown float64  `toml:"redistribute_down"`
	CompletionRatio  float64  `toml:"completion_ratio"`
}

// POVConfig tunes the POV algorithm.
type POVConfig struct {
	Tick                Duration `toml:"tick"`
	AdaptInterval       Duration `toml:"adapt_interval"`
	ParticipationWindow Duration `toml:"participation_window"`
	VolatilityThreshold float64  `toml:"volatility_threshold"`
	VolatilityDamp      float64  `toml:"volatility_damp"`
	ImpactThresholdBps  float64  `toml:"impact_threshold_bps"`
	ImpactDamp          float64  `toml:"impact_damp"`
	ScheduleBand        float64  `toml:"schedule_band"` // fraction applied when behind/ahead
	ExcessFactor        float64  `toml:"excess_factor"` // persistent over-participation trigger
}

// IcebergConfig tunes the iceberg algorithm and its detection scoring.
type IcebergConfig struct {
	Tick                Duration `toml:"tick"`
	RetryDelay          Duration `toml:"retry_delay"`  // pause after a failed clip
	DecayFactor         float64  `toml:"decay_factor"` // EWMA decay for detection risk
	MitigationThreshold float64  `toml:"mitigation_threshold"`
	VarianceBoost       float64  `toml:"variance_boost"`
	VarianceCap         float64  `toml:"variance_cap"`
	SizePercentile      float64  `toml:"size_percentile"`        // clip clamp percentile
	MarketSizePctile    float64  `toml:"market_size_percentile"` // conspicuous-print threshold
}

// OrchestratorConfig tunes order-level behaviour.
type OrchestratorConfig struct {
	DefaultTimeout   Duration `toml:"default_timeout"`
	ResultRetention  Duration `toml:"result_retention"`
	SnapshotInterval Duration `toml:"snapshot_interval"`
	DispatchTimeout  Duration `toml:"dispatch_timeout"`
}

// ServerConfig holds the HTTP API settings for serve mode.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// FeedConfig holds the market data feed endpoint.
type FeedConfig struct {
	WsURL   string   `toml:"ws_url"`
	Symbols []string `toml:"symbols"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	EventChannel string `toml:"event_channel"`
}

// PostgresConfig holds PostgreSQL connection parameters for the optional
// execution archive store.
type PostgresConfig struct {
	Enabled      bool   `toml:"enabled"`
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// S3Config holds S3-compatible object storage parameters for the optional
// result archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds operator notification settings.
type NotifyConfig struct {
	Enabled           bool     `toml:"enabled"`
	Events            []string `toml:"events"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
}

// Validate checks the configuration for consistency and returns a descriptive
// error for the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "paper", "serve":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("config: at least one venue must be configured")
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("config: venue with empty name")
		}
		if seen[v.Name] {
			return fmt.Errorf("config: duplicate venue %q", v.Name)
		}
		seen[v.Name] = true
		switch v.Class {
		case "cex", "dex", "ecn":
		default:
			return fmt.Errorf("config: venue %q: unknown class %q", v.Name, v.Class)
		}
		if v.FailureRate < 0 || v.FailureRate >= 1 {
			return fmt.Errorf("config: venue %q: failure_rate must be in [0,1)", v.Name)
		}
	}
	w := c.Scoring
	total := w.LatencyWeight + w.CostWeight + w.LiquidityWeight + w.ReliabilityWeight
	if total <= 0 {
		return fmt.Errorf("config: scoring weights must sum to a positive value")
	}
	if c.Iceberg.MitigationThreshold <= 0 || c.Iceberg.MitigationThreshold > 1 {
		return fmt.Errorf("config: iceberg mitigation_threshold must be in (0,1]")
	}
	if c.Iceberg.DecayFactor <= 0 || c.Iceberg.DecayFactor >= 1 {
		return fmt.Errorf("config: iceberg decay_factor must be in (0,1)")
	}
	if c.POV.ScheduleBand < 0 || c.POV.ScheduleBand > 1 {
		return fmt.Errorf("config: pov schedule_band must be in [0,1]")
	}
	if c.Orchestrator.DispatchTimeout.D() <= 0 {
		return fmt.Errorf("config: orchestrator dispatch_timeout must be positive")
	}
	return nil
}

// Duration is a time.Duration that unmarshals from TOML strings like "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// D returns the underlying time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }
