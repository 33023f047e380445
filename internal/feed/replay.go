package feed

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// ReplayConfig tunes the synthetic market data generator.
type ReplayConfig struct {
	// Step is the interval between generated quotes per symbol.
	Step time.Duration
	// StartPrice seeds every symbol's random walk.
	StartPrice float64
	// Volatility is the per-step relative standard deviation of the walk.
	Volatility float64
	// TradeProb is the probability that a step also emits a trade print.
	TradeProb float64
	// MeanTradeSize scales generated print sizes.
	MeanTradeSize float64
	// Seed fixes the random source; 0 seeds from the clock.
	Seed uint64
}

// Replay generates a synthetic quote and trade stream for a set of symbols.
// Paper mode uses it in place of a live feed so the whole engine, simulators
// included, runs against moving prices without network access.
type Replay struct {
	cfg     ReplayConfig
	symbols []string
	logger  *slog.Logger

	handlerMu sync.RWMutex
	onPrice   []PriceHandler
	onVolume  []VolumeHandler
}

// NewReplay creates a generator for the given symbols.
func NewReplay(cfg ReplayConfig, symbols []string, logger *slog.Logger) *Replay {
	if cfg.Step <= 0 {
		cfg.Step = 250 * time.Millisecond
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.0005
	}
	if cfg.TradeProb <= 0 || cfg.TradeProb > 1 {
		cfg.TradeProb = 0.6
	}
	if cfg.MeanTradeSize <= 0 {
		cfg.MeanTradeSize = 50
	}
	return &Replay{
		cfg:     cfg,
		symbols: symbols,
		logger:  logger.With(slog.String("component", "replay_feed")),
	}
}

// OnPrice registers a handler invoked for every generated quote.
func (r *Replay) OnPrice(h PriceHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onPrice = append(r.onPrice, h)
}

// OnVolume registers a handler invoked for every generated trade print.
func (r *Replay) OnVolume(h VolumeHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onVolume = append(r.onVolume, h)
}

// Run generates quotes and prints until ctx is cancelled.
func (r *Replay) Run(ctx context.Context) error {
	if len(r.symbols) == 0 {
		r.logger.Info("no symbols configured, replay feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	seed := r.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed))

	prices := make(map[string]float64, len(r.symbols))
	for _, s := range r.symbols {
		prices[s] = r.cfg.StartPrice
	}

	r.logger.InfoContext(ctx, "replay feed started",
		slog.Int("symbols", len(r.symbols)),
		slog.Duration("step", r.cfg.Step),
	)

	ticker := time.NewTicker(r.cfg.Step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, sym := range r.symbols {
				p := prices[sym] * (1 + rng.NormFloat64()*r.cfg.Volatility)
				if p <= 0 {
					p = prices[sym]
				}
				prices[sym] = p

				r.emitPrice(ctx, domain.PriceUpdate{
					Symbol:    sym,
					Price:     p,
					Timestamp: now,
				})

				if rng.Float64() < r.cfg.TradeProb {
					size := rng.ExpFloat64() * r.cfg.MeanTradeSize
					r.emitVolume(ctx, domain.VolumeUpdate{
						Symbol:    sym,
						Price:     p,
						Size:      size,
						Timestamp: now,
					})
				}
			}
		}
	}
}

func (r *Replay) emitPrice(ctx context.Context, u domain.PriceUpdate) {
	r.handlerMu.RLock()
	handlers := r.onPrice
	r.handlerMu.RUnlock()
	for _, h := range handlers {
		h(ctx, u)
	}
}

func (r *Replay) emitVolume(ctx context.Context, u domain.VolumeUpdate) {
	r.handlerMu.RLock()
	handlers := r.onVolume
	r.handlerMu.RUnlock()
	for _, h := range handlers {
		h(ctx, u)
	}
}
