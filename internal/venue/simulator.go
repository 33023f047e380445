package venue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// SimulatorConfig parameterises one simulated venue.
type SimulatorConfig struct {
	Name         string
	Class        domain.VenueClass
	TickSize     float64
	MakerFeeRate float64
	TakerFeeRate float64
	BaseLatency  time.Duration
	// FailureRate is the probability that PlaceOrder fails with a dispatch
	// error. Zero gives fully deterministic fills.
	FailureRate float64
	// Seed fixes the random source; 0 seeds from the clock.
	Seed uint64
}

// Simulator is a venue adapter that fills orders against a synthetic book
// around a settable mid price. It stands in for real connectivity in paper
// mode and in tests; engine logic never depends on its internals.
type Simulator struct {
	cfg SimulatorConfig

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	placed map[string]domain.Fill // idempotency by client id
}

// NewSimulator creates a Simulator from cfg.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = 0.01
	}
	return &Simulator{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(seed, seed)),
		prices: make(map[string]float64),
		placed: make(map[string]domain.Fill),
	}
}

// Name implements domain.VenueAdapter.
func (s *Simulator) Name() string { return s.cfg.Name }

// Class implements domain.VenueAdapter.
func (s *Simulator) Class() domain.VenueClass { return s.cfg.Class }

// TickSize implements domain.VenueAdapter.
func (s *Simulator) TickSize(string) float64 { return s.cfg.TickSize }

// SetPrice sets the simulated mid price for a symbol. The feed layer calls
// this on every price update in paper mode.
func (s *Simulator) SetPrice(symbol string, mid float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = mid
}

// PlaceOrder fills the clip after the configured latency. Repeated calls with
// the same client id return the original fill without filling again.
func (s *Simulator) PlaceOrder(ctx context.Context, clip domain.ClipOrder) (domain.Fill, error) {
	if clip.Quantity <= 0 {
		return domain.Fill{}, fmt.Errorf("simulator %s: %w: quantity %.4f", s.cfg.Name, domain.ErrInvalidOrder, clip.Quantity)
	}

	if s.cfg.BaseLatency > 0 {
		select {
		case <-ctx.Done():
			return domain.Fill{}, ctx.Err()
		case <-time.After(s.latency()):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if fill, ok := s.placed[clip.ClientID]; ok {
		return fill, nil
	}

	if s.cfg.FailureRate > 0 && s.rng.Float64() < s.cfg.FailureRate {
		return domain.Fill{}, fmt.Errorf("simulator %s: %w: rejected", s.cfg.Name, domain.ErrSliceDispatchFailed)
	}

	mid, ok := s.prices[clip.Symbol]
	if !ok || mid <= 0 {
		if clip.LimitPrice > 0 {
			mid = clip.LimitPrice
		} else {
			return domain.Fill{}, fmt.Errorf("simulator %s: no price for %s", s.cfg.Name, clip.Symbol)
		}
	}

	price := s.fillPrice(clip, mid)
	maker := clip.LimitPrice > 0 && !crosses(clip, mid)
	feeRate := s.cfg.TakerFeeRate
	if maker {
		feeRate = s.cfg.MakerFeeRate
	}

	fill := domain.Fill{
		OrderID:   clip.ParentID,
		ClientID:  clip.ClientID,
		Venue:     s.cfg.Name,
		Price:     price,
		Quantity:  clip.Quantity,
		Fee:       price * clip.Quantity * feeRate,
		Maker:     maker,
		Timestamp: time.Now(),
	}
	s.placed[clip.ClientID] = fill
	return fill, nil
}

// FetchBook synthesizes a shallow book around the current mid price.
func (s *Simulator) FetchBook(_ context.Context, symbol string) (domain.VenueBook, error) {
	s.mu.Lock()
	mid, ok := s.prices[symbol]
	s.mu.Unlock()
	if !ok || mid <= 0 {
		return domain.VenueBook{}, fmt.Errorf("simulator %s: %s: %w", s.cfg.Name, symbol, domain.ErrNotFound)
	}

	tick := s.cfg.TickSize
	book := domain.VenueBook{
		Venue:     s.cfg.Name,
		Class:     s.cfg.Class,
		BestBid:   mid - tick,
		BestAsk:   mid + tick,
		FetchedAt: time.Now(),
	}
	for i := 1; i <= 5; i++ {
		depth := mid * 10 / float64(i)
		book.Bids = append(book.Bids, domain.PriceLevel{Price: mid - tick*float64(i), Size: depth})
		book.Asks = append(book.Asks, domain.PriceLevel{Price: mid + tick*float64(i), Size: depth})
	}
	return book, nil
}

// Probe implements the health probe with the venue's base latency.
func (s *Simulator) Probe(ctx context.Context) (time.Duration, error) {
	lat := s.latencySampled()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(lat):
	}
	return lat, nil
}

// latency returns the dispatch latency with jitter.
func (s *Simulator) latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jitteredLocked()
}

func (s *Simulator) latencySampled() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.BaseLatency == 0 {
		return 0
	}
	return s.jitteredLocked()
}

func (s *Simulator) jitteredLocked() time.Duration {
	base := s.cfg.BaseLatency
	if base == 0 {
		return 0
	}
	// ±25% jitter around the configured base.
	jitter := 0.75 + s.rng.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}

// fillPrice applies half-spread slippage for marketable clips and honors
// resting limit prices otherwise.
func (s *Simulator) fillPrice(clip domain.ClipOrder, mid float64) float64 {
	tick := s.cfg.TickSize
	if clip.LimitPrice > 0 {
		if crosses(clip, mid) {
			return mid // marketable limit fills at mid
		}
		return clip.LimitPrice
	}
	if clip.Side == domain.OrderSideBuy {
		return mid + tick
	}
	return mid - tick
}

// crosses reports whether a limit clip is marketable against the mid.
func crosses(clip domain.ClipOrder, mid float64) bool {
	if clip.Side == domain.OrderSideBuy {
		return clip.LimitPrice >= mid
	}
	return clip.LimitPrice <= mid
}
