// Package liquidity aggregates per-venue order books into consolidated
// snapshots and caches them with venue-class TTLs that tighten when a
// symbol's recent volatility or 24h volume crosses configured thresholds.
package liquidity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// Config tunes the cache.
type Config struct {
	TTLByClass          map[domain.VenueClass]time.Duration
	VolatilityThreshold float64
	VolumeThreshold     float64
	ShortenFactor       float64
	FetchConcurrency    int
	FetchTimeout        time.Duration
	WarmupSymbols       []string
	WarmupInterval      time.Duration
}

// BookObserver receives spread/depth observations from every venue fetch.
// The venue scorer implements it.
type BookObserver interface {
	ObserveBook(venue string, spreadBps, depth float64)
}

// entry is one cached snapshot. Entries are replaced wholesale; a stored
// snapshot is never mutated.
type entry struct {
	snap      domain.LiquiditySnapshot
	expiresAt time.Time
}

// Cache holds aggregated liquidity snapshots per symbol.
type Cache struct {
	cfg      Config
	adapters []domain.VenueAdapter
	tracker  *VolatilityTracker
	observer BookObserver
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	fetchMu sync.Mutex
	inFetch map[string]*sync.Mutex
}

// NewCache creates a Cache over the given adapters. observer may be nil.
func NewCache(cfg Config, adapters []domain.VenueAdapter, tracker *VolatilityTracker, observer BookObserver, logger *slog.Logger) *Cache {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Second
	}
	if cfg.ShortenFactor <= 0 || cfg.ShortenFactor > 1 {
		cfg.ShortenFactor = 0.5
	}
	return &Cache{
		cfg:      cfg,
		adapters: adapters,
		tracker:  tracker,
		observer: observer,
		logger:   logger.With(slog.String("component", "liquidity_cache")),
		entries:  make(map[string]*entry),
		inFetch:  make(map[string]*sync.Mutex),
	}
}

// GetAggregatedLiquidity returns the cached snapshot for symbol when it is
// within TTL, otherwise fetches all venue books concurrently, aggregates,
// stores, and returns the fresh snapshot. When a refresh fails and an expired
// snapshot exists, that snapshot is returned with Stale set alongside
// ErrStaleSnapshot so the caller can decide whether to act on it.
func (c *Cache) GetAggregatedLiquidity(ctx context.Context, symbol string) (domain.LiquiditySnapshot, error) {
	if snap, ok := c.fresh(symbol); ok {
		return snap, nil
	}

	// One fetch per symbol at a time; latecomers reuse the result.
	lock := c.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	if snap, ok := c.fresh(symbol); ok {
		return snap, nil
	}

	snap, err := c.fetchAndStore(ctx, symbol)
	if err != nil {
		c.mu.RLock()
		e := c.entries[symbol]
		c.mu.RUnlock()
		if e != nil {
			stale := e.snap
			stale.Stale = true
			return stale, fmt.Errorf("liquidity: refresh %s: %w: %w", symbol, domain.ErrStaleSnapshot, err)
		}
		return domain.LiquiditySnapshot{}, fmt.Errorf("liquidity: fetch %s: %w", symbol, err)
	}
	return snap, nil
}

// fresh returns the cached snapshot if it has not passed its effective TTL.
func (c *Cache) fresh(symbol string) (domain.LiquiditySnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.entries[symbol]
	if e == nil || time.Now().After(e.expiresAt) {
		return domain.LiquiditySnapshot{}, false
	}
	return e.snap, true
}

func (c *Cache) symbolLock(symbol string) *sync.Mutex {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	m, ok := c.inFetch[symbol]
	if !ok {
		m = &sync.Mutex{}
		c.inFetch[symbol] = m
	}
	return m
}

// fetchAndStore pulls every venue's book concurrently with a bounded limit,
// aggregates them, and stores the result under the symbol's effective TTL.
func (c *Cache) fetchAndStore(ctx context.Context, symbol string) (domain.LiquiditySnapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	books := make([]domain.VenueBook, len(c.adapters))
	errs := make([]error, len(c.adapters))

	g, gctx := errgroup.WithContext(fetchCtx)
	g.SetLimit(c.cfg.FetchConcurrency)
	for i, a := range c.adapters {
		g.Go(func() error {
			book, err := a.FetchBook(gctx, symbol)
			if err != nil {
				errs[i] = err
				return nil // partial venue coverage is acceptable
			}
			books[i] = book
			return nil
		})
	}
	_ = g.Wait()

	var got []domain.VenueBook
	for i, b := range books {
		if errs[i] != nil {
			c.logger.Debug("venue book fetch failed",
				slog.String("venue", c.adapters[i].Name()),
				slog.String("symbol", symbol),
				slog.String("error", errs[i].Error()),
			)
			continue
		}
		if b.Venue != "" {
			got = append(got, b)
		}
	}
	if len(got) == 0 {
		return domain.LiquiditySnapshot{}, fmt.Errorf("all venue fetches failed")
	}

	snap := aggregate(symbol, got)

	if c.observer != nil {
		for _, b := range got {
			mid := (b.BestBid + b.BestAsk) / 2
			spreadBps := 0.0
			if mid > 0 {
				spreadBps = (b.BestAsk - b.BestBid) / mid * 10000
			}
			c.observer.ObserveBook(b.Venue, spreadBps, b.BidDepth()+b.AskDepth())
		}
	}

	ttl := c.effectiveTTL(symbol, got)
	c.mu.Lock()
	c.entries[symbol] = &entry{snap: snap, expiresAt: snap.CapturedAt.Add(ttl)}
	c.mu.Unlock()
	return snap, nil
}

// effectiveTTL takes the tightest class TTL among contributing venues and
// halves it (ShortenFactor) when the symbol is running hot.
func (c *Cache) effectiveTTL(symbol string, books []domain.VenueBook) time.Duration {
	ttl := time.Duration(0)
	for _, b := range books {
		class := c.cfg.TTLByClass[b.Class]
		if class == 0 {
			class = 3 * time.Second
		}
		if ttl == 0 || class < ttl {
			ttl = class
		}
	}
	if ttl == 0 {
		ttl = 3 * time.Second
	}

	if c.tracker != nil {
		vol := c.tracker.RelativeVolatility(symbol)
		vol24 := c.tracker.Volume24h(symbol)
		if (c.cfg.VolatilityThreshold > 0 && vol > c.cfg.VolatilityThreshold) ||
			(c.cfg.VolumeThreshold > 0 && vol24 > c.cfg.VolumeThreshold) {
			ttl = time.Duration(float64(ttl) * c.cfg.ShortenFactor)
		}
	}
	return ttl
}

// aggregate consolidates venue books into one snapshot: best price across
// venues, summed depth, and the order imbalance.
func aggregate(symbol string, books []domain.VenueBook) domain.LiquiditySnapshot {
	snap := domain.LiquiditySnapshot{
		Symbol:     symbol,
		Venues:     books,
		CapturedAt: time.Now(),
	}
	var bidDepth, askDepth float64
	for _, b := range books {
		if b.BestBid > snap.BestBid {
			snap.BestBid = b.BestBid
		}
		if b.BestAsk > 0 && (snap.BestAsk == 0 || b.BestAsk < snap.BestAsk) {
			snap.BestAsk = b.BestAsk
		}
		bidDepth += b.BidDepth()
		askDepth += b.AskDepth()
	}
	snap.BidDepth = bidDepth
	snap.AskDepth = askDepth
	if bidDepth+askDepth > 0 {
		snap.Imbalance = (bidDepth - askDepth) / (bidDepth + askDepth)
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}
	return snap
}

// RunWarmup proactively refreshes the configured popular symbols before their
// entries go stale, until ctx is cancelled.
func (c *Cache) RunWarmup(ctx context.Context) error {
	if len(c.cfg.WarmupSymbols) == 0 {
		return nil
	}
	interval := c.cfg.WarmupInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, symbol := range c.cfg.WarmupSymbols {
				if c.expiringSoon(symbol, 2*interval) {
					lock := c.symbolLock(symbol)
					lock.Lock()
					if _, err := c.fetchAndStore(ctx, symbol); err != nil && ctx.Err() == nil {
						c.logger.Debug("warmup refresh failed",
							slog.String("symbol", symbol),
							slog.String("error", err.Error()),
						)
					}
					lock.Unlock()
				}
			}
		}
	}
}

func (c *Cache) expiringSoon(symbol string, lead time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.entries[symbol]
	return e == nil || time.Now().Add(lead).After(e.expiresAt)
}
