package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies EXECD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// Defaults returns the built-in configuration. The algorithm constants carry
// the engine's stock tuning; they are deliberate defaults, not invariants,
// and any of them can be overridden per deployment.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Liquidity: LiquidityConfig{
			TTLCEX:              Duration(5 * time.Second),
			TTLDEX:              Duration(2 * time.Second),
			TTLECN:              Duration(3 * time.Second),
			VolatilityThreshold: 0.02,
			VolumeThreshold:     10_000_000,
			ShortenFactor:       0.5,
			FetchConcurrency:    4,
			FetchTimeout:        Duration(2 * time.Second),
			WarmupInterval:      Duration(1 * time.Second),
			VolatilityWindow:    Duration(5 * time.Minute),
		},
		Latency: LatencyConfig{
			ProbeInterval: Duration(5 * time.Second),
			WindowSize:    256,
			PeakHoursFrom: 13,
			PeakHoursTo:   21,
		},
		Scoring: ScoringConfig{
			LatencyWeight:     0.25,
			CostWeight:        0.25,
			LiquidityWeight:   0.30,
			ReliabilityWeight: 0.20,
			RefreshInterval:   Duration(10 * time.Second),
			MinSuccessRate:    0.80,
			MinFillRate:       0.70,
			MaxLatency:        Duration(500 * time.Millisecond),
			TopN:              3,
		},
		Cost: CostConfig{
			LinearImpactCoeff:    8,
			SqrtImpactCoeff:      25,
			OpportunityBpsPerMin: 0.4,
		},
		TWAP: TWAPConfig{
			Tick:            Duration(1 * time.Second),
			MaxRetries:      3,
			RetryDelay:      Duration(500 * time.Millisecond),
			CompletionRatio: 0.99,
		},
		VWAP: VWAPConfig{
			Tick:             Duration(1 * time.Second),
			AdaptInterval:    Duration(10 * time.Second),
			ParticipationCap: 0.25,
			MaxVolumeScale:   1.5,
			ImpactShrinkBps:  10,
			RedistributeUp:   1.1,
			RedistributeDown: 0.9,
			CompletionRatio:  0.99,
		},
		POV: POVConfig{
			Tick:                Duration(100 * time.Millisecond),
			AdaptInterval:       Duration(5 * time.Second),
			ParticipationWindow: Duration(5 * time.Second),
			VolatilityThreshold: 0.3,
			VolatilityDamp:      0.9,
			ImpactThresholdBps:  10,
			ImpactDamp:          0.8,
			ScheduleBand:        0.2,
			ExcessFactor:        1.2,
		},
		Iceberg: IcebergConfig{
			Tick:                Duration(500 * time.Millisecond),
			RetryDelay:          Duration(500 * time.Millisecond),
			DecayFactor:         0.9,
			MitigationThreshold: 0.7,
			VarianceBoost:       1.5,
			VarianceCap:         0.5,
			SizePercentile:      0.95,
			MarketSizePctile:    0.90,
		},
		Orchestrator: OrchestratorConfig{
			DefaultTimeout:   Duration(30 * time.Minute),
			ResultRetention:  Duration(10 * time.Minute),
			SnapshotInterval: Duration(15 * time.Second),
			DispatchTimeout:  Duration(3 * time.Second),
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			EventChannel: "executions",
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 2,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
	}
}

// applyEnvOverrides reads well-known EXECD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "EXECD_MODE")
	setStr(&cfg.LogLevel, "EXECD_LOG_LEVEL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "EXECD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "EXECD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EXECD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EXECD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EXECD_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "EXECD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.EventChannel, "EXECD_REDIS_EVENT_CHANNEL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "EXECD_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "EXECD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "EXECD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EXECD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EXECD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EXECD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EXECD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EXECD_POSTGRES_SSLMODE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "EXECD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "EXECD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EXECD_S3_REGION")
	setStr(&cfg.S3.Bucket, "EXECD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EXECD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EXECD_S3_SECRET_KEY")

	// ── Server ──
	setInt(&cfg.Server.Port, "EXECD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "EXECD_SERVER_API_KEY")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "EXECD_FEED_WS_URL")

	// ── Notify ──
	setBool(&cfg.Notify.Enabled, "EXECD_NOTIFY_ENABLED")
	setStr(&cfg.Notify.TelegramToken, "EXECD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "EXECD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "EXECD_NOTIFY_DISCORD_WEBHOOK_URL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
