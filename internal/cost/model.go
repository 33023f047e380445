// Package cost estimates execution cost (fees, slippage, market impact,
// opportunity cost) for a candidate route set and proposes cheaper
// alternatives.
package cost

import (
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// Config holds the impact model coefficients.
type Config struct {
	// LinearImpactCoeff is the bps of impact per unit of participation.
	LinearImpactCoeff float64
	// SqrtImpactCoeff scales the square-root term of the impact model.
	SqrtImpactCoeff float64
	// OpportunityBpsPerMin prices the drift risk of stretching execution.
	OpportunityBpsPerMin float64
}

// VenueProfile carries the per-venue figures the model uses: fee schedule,
// impact coefficients and the observed order-size distribution.
type VenueProfile struct {
	Venue         string
	MakerFeeRate  float64
	TakerFeeRate  float64
	// ImpactScale adjusts the global impact coefficients for this venue; thin
	// venues carry a scale above 1.
	ImpactScale   float64
	// SizeP50 and SizeP95 summarize the venue's recent order-size
	// distribution.
	SizeP50       float64
	SizeP95       float64
	AvgSpreadBps  float64
	// DepthPerMin is the typical traded quantity per minute, used as the
	// participation denominator.
	DepthPerMin   float64
}

// Model estimates execution costs. Venue profiles are replaced atomically per
// venue by background refreshers and read by concurrent planners.
type Model struct {
	cfg Config

	mu       sync.RWMutex
	profiles map[string]VenueProfile
}

// NewModel creates a Model with the given coefficients.
func NewModel(cfg Config) *Model {
	return &Model{
		cfg:      cfg,
		profiles: make(map[string]VenueProfile),
	}
}

// UpdateProfile stores the latest profile for a venue.
func (m *Model) UpdateProfile(p VenueProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ImpactScale <= 0 {
		p.ImpactScale = 1
	}
	m.profiles[p.Venue] = p
}

// Profile returns the current profile for a venue.
func (m *Model) Profile(venue string) (VenueProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[venue]
	return p, ok
}

// EstimateCost prices executing order over the given routes at the reference
// price. Fees use the venue fee schedule assuming taker flow unless the order
// carries a limit price; slippage derives from order size relative to the
// venue's observed order-size distribution; impact uses a linear plus
// square-root participation model.
func (m *Model) EstimateCost(routes []domain.Route, order domain.Order, refPrice float64, horizon time.Duration) domain.CostEstimate {
	if refPrice <= 0 || order.Quantity <= 0 || len(routes) == 0 {
		return domain.CostEstimate{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var est domain.CostEstimate
	notional := order.Quantity * refPrice
	var weightedImpactBps, weightedSlipBps float64
	known := 0

	for _, r := range routes {
		p, ok := m.profiles[r.Venue]
		if !ok {
			continue
		}
		known++
		qty := r.Quantity
		if qty == 0 {
			qty = order.Quantity * r.Allocation
		}

		feeRate := p.TakerFeeRate
		if order.Kind == domain.OrderKindLimit {
			feeRate = p.MakerFeeRate
		}
		est.Fees += qty * refPrice * feeRate

		slipBps := m.slippageBps(p, qty)
		weightedSlipBps += slipBps * r.Allocation
		est.Slippage += qty * refPrice * slipBps / 10000

		impBps := m.impactBps(p, qty, horizon)
		weightedImpactBps += impBps * r.Allocation
		est.MarketImpact += qty * refPrice * impBps / 10000
	}

	minutes := horizon.Minutes()
	oppBps := m.cfg.OpportunityBpsPerMin * minutes
	est.OpportunityCost = notional * oppBps / 10000

	est.SlippageBps = weightedSlipBps
	est.ImpactBps = weightedImpactBps
	est.Total = est.Fees + est.Slippage + est.MarketImpact + est.OpportunityCost
	if len(routes) > 0 {
		est.Confidence = float64(known) / float64(len(routes))
	}
	return est
}

// slippageBps derives expected slippage from where the clip size sits in the
// venue's order-size distribution: orders beyond p95 pay progressively more
// of the spread.
func (m *Model) slippageBps(p VenueProfile, qty float64) float64 {
	half := p.AvgSpreadBps / 2
	if half == 0 {
		half = 1
	}
	if p.SizeP95 <= 0 {
		return half
	}
	ratio := qty / p.SizeP95
	return half * (1 + ratio)
}

// impactBps applies the venue-scaled linear + square-root impact model over
// the participation implied by executing qty within the horizon.
func (m *Model) impactBps(p VenueProfile, qty float64, horizon time.Duration) float64 {
	minutes := horizon.Minutes()
	if minutes <= 0 {
		minutes = 1
	}
	denom := p.DepthPerMin * minutes
	if denom <= 0 {
		denom = qty // fully our own flow: maximal participation
	}
	participation := qty / denom
	if participation > 1 {
		participation = 1
	}
	return p.ImpactScale * (m.cfg.LinearImpactCoeff*participation +
		m.cfg.SqrtImpactCoeff*math.Sqrt(participation))
}
