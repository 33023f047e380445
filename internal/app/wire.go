package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/execengine/internal/algo"
	s3blob "github.com/alanyoungcy/execengine/internal/blob/s3"
	"github.com/alanyoungcy/execengine/internal/cache/redis"
	"github.com/alanyoungcy/execengine/internal/config"
	"github.com/alanyoungcy/execengine/internal/cost"
	"github.com/alanyoungcy/execengine/internal/domain"
	"github.com/alanyoungcy/execengine/internal/latency"
	"github.com/alanyoungcy/execengine/internal/liquidity"
	"github.com/alanyoungcy/execengine/internal/notify"
	"github.com/alanyoungcy/execengine/internal/orchestrator"
	"github.com/alanyoungcy/execengine/internal/scoring"
	"github.com/alanyoungcy/execengine/internal/store/postgres"
	"github.com/alanyoungcy/execengine/internal/venue"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Venues     *venue.Registry
	Simulators map[string]*venue.Simulator

	Latency *latency.Service
	Prober  *latency.Prober
	Scorer  *scoring.Scorer
	Costs   *cost.Model

	Tracker   *liquidity.VolatilityTracker
	Liquidity *liquidity.Cache
	Volume    *algo.VolumeBook

	Engine *orchestrator.Orchestrator

	Events    domain.EventSink
	Store     domain.ResultStore
	Archiver  domain.ResultArchiver
	Snapshots domain.OrderSnapshotter
	Notifier  *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Events: domain.NopSink{}}

	// --- Latency service ---
	deps.Latency = latency.NewService(latency.Config{
		WindowSize:    cfg.Latency.WindowSize,
		PeakHoursFrom: cfg.Latency.PeakHoursFrom,
		PeakHoursTo:   cfg.Latency.PeakHoursTo,
	})

	// --- Venues ---
	deps.Venues = venue.NewRegistry()
	deps.Simulators = make(map[string]*venue.Simulator, len(cfg.Venues))
	infos := make([]scoring.VenueInfo, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		sim := venue.NewSimulator(venue.SimulatorConfig{
			Name:         vc.Name,
			Class:        domain.VenueClass(vc.Class),
			TickSize:     vc.TickSize,
			MakerFeeRate: vc.MakerFeeRate,
			TakerFeeRate: vc.TakerFeeRate,
			BaseLatency:  time.Duration(vc.BaseLatencyMs) * time.Millisecond,
			FailureRate:  vc.FailureRate,
		})
		if err := deps.Venues.Register(sim); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: venue %q: %w", vc.Name, err)
		}
		deps.Simulators[vc.Name] = sim

		if vc.RateLimit > 0 {
			deps.Latency.SetRateLimit(vc.Name, float64(vc.RateLimit), vc.RateBurst)
		}
		deps.Latency.RegisterPath(latency.NetworkPath{
			Name:        "direct",
			Venue:       vc.Name,
			BaseLatency: time.Duration(vc.BaseLatencyMs) * time.Millisecond,
			Reliability: 1 - vc.FailureRate,
		})

		infos = append(infos, scoring.VenueInfo{
			Name:         vc.Name,
			Class:        domain.VenueClass(vc.Class),
			MakerFeeRate: vc.MakerFeeRate,
			TakerFeeRate: vc.TakerFeeRate,
		})
	}
	adapters := deps.Venues.All()

	deps.Prober = latency.NewProber(deps.Latency, adapters, cfg.Latency.ProbeInterval.D(), logger)

	// --- Venue scoring ---
	deps.Scorer = scoring.NewScorer(scoring.Config{
		LatencyWeight:     cfg.Scoring.LatencyWeight,
		CostWeight:        cfg.Scoring.CostWeight,
		LiquidityWeight:   cfg.Scoring.LiquidityWeight,
		ReliabilityWeight: cfg.Scoring.ReliabilityWeight,
		RefreshInterval:   cfg.Scoring.RefreshInterval.D(),
		MinSuccessRate:    cfg.Scoring.MinSuccessRate,
		MinFillRate:       cfg.Scoring.MinFillRate,
		MaxLatency:        cfg.Scoring.MaxLatency.D(),
		TopN:              cfg.Scoring.TopN,
	}, infos, deps.Latency, logger)

	// --- Cost model ---
	deps.Costs = cost.NewModel(cost.Config{
		LinearImpactCoeff:    cfg.Cost.LinearImpactCoeff,
		SqrtImpactCoeff:      cfg.Cost.SqrtImpactCoeff,
		OpportunityBpsPerMin: cfg.Cost.OpportunityBpsPerMin,
	})
	for _, vc := range cfg.Venues {
		deps.Costs.UpdateProfile(cost.VenueProfile{
			Venue:        vc.Name,
			MakerFeeRate: vc.MakerFeeRate,
			TakerFeeRate: vc.TakerFeeRate,
			ImpactScale:  impactScale(domain.VenueClass(vc.Class)),
		})
	}

	// --- Liquidity cache ---
	deps.Tracker = liquidity.NewVolatilityTracker(cfg.Liquidity.VolatilityWindow.D())
	deps.Liquidity = liquidity.NewCache(liquidity.Config{
		TTLByClass: map[domain.VenueClass]time.Duration{
			domain.VenueClassCEX: cfg.Liquidity.TTLCEX.D(),
			domain.VenueClassDEX: cfg.Liquidity.TTLDEX.D(),
			domain.VenueClassECN: cfg.Liquidity.TTLECN.D(),
		},
		VolatilityThreshold: cfg.Liquidity.VolatilityThreshold,
		VolumeThreshold:     cfg.Liquidity.VolumeThreshold,
		ShortenFactor:       cfg.Liquidity.ShortenFactor,
		FetchConcurrency:    cfg.Liquidity.FetchConcurrency,
		FetchTimeout:        cfg.Liquidity.FetchTimeout.D(),
		WarmupSymbols:       cfg.Liquidity.WarmupSymbols,
		WarmupInterval:      cfg.Liquidity.WarmupInterval.D(),
	}, adapters, deps.Tracker, deps.Scorer, logger)

	deps.Volume = algo.NewVolumeBook()

	// --- Redis (event bus + active-order snapshots) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Events = redis.NewEventBus(redisClient, cfg.Redis.EventChannel)
		deps.Snapshots = redis.NewOrderSnapshotter(redisClient)
	}

	// --- PostgreSQL (result archive) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}

		deps.Store = postgres.NewResultStore(pgClient.Pool())
	}

	// --- S3 blob storage (result JSON dumps) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewResultArchiver(s3Client, "results")
	}

	// --- Notifications ---
	if cfg.Notify.Enabled {
		var senders []notify.Sender
		if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
			senders = append(senders, notify.NewTelegramSender(
				cfg.Notify.TelegramToken,
				cfg.Notify.TelegramChatID,
			))
		}
		if cfg.Notify.DiscordWebhookURL != "" {
			senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
		}
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
		deps.Events = notify.NewEventBridge(deps.Notifier, deps.Events)
	}

	// --- Orchestrator + algorithms ---
	deps.Engine = orchestrator.New(orchestrator.Config{
		DispatchTimeout:  cfg.Orchestrator.DispatchTimeout.D(),
		DefaultTimeout:   cfg.Orchestrator.DefaultTimeout.D(),
		ResultRetention:  cfg.Orchestrator.ResultRetention.D(),
		SnapshotInterval: cfg.Orchestrator.SnapshotInterval.D(),
	}, orchestrator.Deps{
		Venues:    deps.Venues,
		Scorer:    deps.Scorer,
		Costs:     deps.Costs,
		Latency:   deps.Latency,
		Liquidity: deps.Liquidity,
		Events:    deps.Events,
		Store:     deps.Store,
		Archiver:  deps.Archiver,
		Snapshots: deps.Snapshots,
		Logger:    logger,
	})

	algoDeps := algo.Deps{
		Liquidity:  deps.Liquidity,
		Dispatcher: deps.Engine,
		Volume:     deps.Volume,
		Ticks:      deps.Venues,
		Events:     deps.Events,
		Logger:     logger,
	}
	retention := cfg.Orchestrator.ResultRetention.D()

	deps.Engine.RegisterAlgorithm(algo.NewTWAP(algo.TWAPConfig{
		Tick:            cfg.TWAP.Tick.D(),
		MaxRetries:      cfg.TWAP.MaxRetries,
		RetryDelay:      cfg.TWAP.RetryDelay.D(),
		CompletionRatio: cfg.TWAP.CompletionRatio,
		Retention:       retention,
	}, algoDeps))
	deps.Engine.RegisterAlgorithm(algo.NewVWAP(algo.VWAPConfig{
		Tick:             cfg.VWAP.Tick.D(),
		AdaptiveInterval: cfg.VWAP.AdaptInterval.D(),
		ParticipationCap: cfg.VWAP.ParticipationCap,
		MaxVolumeScale:   cfg.VWAP.MaxVolumeScale,
		ImpactShrinkBps:  cfg.VWAP.ImpactShrinkBps,
		RedistributeUp:   cfg.VWAP.RedistributeUp,
		RedistributeDown: cfg.VWAP.RedistributeDown,
		CompletionRatio:  cfg.VWAP.CompletionRatio,
		Retention:        retention,
	}, algoDeps))
	deps.Engine.RegisterAlgorithm(algo.NewPOV(algo.POVConfig{
		Tick:                cfg.POV.Tick.D(),
		AdaptiveInterval:    cfg.POV.AdaptInterval.D(),
		ParticipationWindow: cfg.POV.ParticipationWindow.D(),
		VolatilityThreshold: cfg.POV.VolatilityThreshold,
		VolatilityDamp:      cfg.POV.VolatilityDamp,
		ImpactDampBps:       cfg.POV.ImpactThresholdBps,
		ImpactDamp:          cfg.POV.ImpactDamp,
		ScheduleBand:        cfg.POV.ScheduleBand,
		ExcessFactor:        cfg.POV.ExcessFactor,
		Retention:           retention,
	}, algoDeps))
	deps.Engine.RegisterAlgorithm(algo.NewIceberg(algo.IcebergConfig{
		ReplenishDelay:      cfg.Iceberg.Tick.D(),
		RetryDelay:          cfg.Iceberg.RetryDelay.D(),
		RiskDecay:           cfg.Iceberg.DecayFactor,
		MitigationThreshold: cfg.Iceberg.MitigationThreshold,
		VarianceBoost:       cfg.Iceberg.VarianceBoost,
		VarianceCap:         cfg.Iceberg.VarianceCap,
		SizePercentile:      cfg.Iceberg.SizePercentile,
		MarketSizePctile:    cfg.Iceberg.MarketSizePctile,
		Retention:           retention,
	}, algoDeps))

	return deps, cleanup, nil
}

// impactScale maps a venue class to a default impact multiplier. Thin on-chain
// books move more per unit of flow than centralized ones.
func impactScale(class domain.VenueClass) float64 {
	switch class {
	case domain.VenueClassDEX:
		return 1.5
	case domain.VenueClassECN:
		return 1.2
	default:
		return 1.0
	}
}
