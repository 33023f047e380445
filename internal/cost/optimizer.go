package cost

import (
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// Proposal is an alternative route set with its estimated savings relative to
// the baseline.
type Proposal struct {
	Routes     []domain.Route
	Estimate   domain.CostEstimate
	Savings    float64
	Confidence float64
	Reason     string
}

// OptimizeForCost searches simple variations of the baseline route set
// (shifting allocation toward cheaper fee tiers, splitting clips below the
// slippage knee, stretching the horizon) and returns the cheapest proposal
// found. When nothing beats the baseline, the baseline itself is returned
// with zero savings.
func (m *Model) OptimizeForCost(routes []domain.Route, order domain.Order, refPrice float64, horizon time.Duration) Proposal {
	base := m.EstimateCost(routes, order, refPrice, horizon)
	best := Proposal{
		Routes:     routes,
		Estimate:   base,
		Confidence: base.Confidence,
		Reason:     "baseline",
	}

	for _, cand := range []Proposal{
		m.feeTilted(routes, order, refPrice, horizon),
		m.sizeSplit(routes, order, refPrice, horizon),
		m.stretched(routes, order, refPrice, horizon),
	} {
		if len(cand.Routes) == 0 {
			continue
		}
		if cand.Estimate.Total < best.Estimate.Total {
			cand.Savings = base.Total - cand.Estimate.Total
			best = cand
		}
	}
	return best
}

// feeTilted shifts 20% of allocation from the most expensive venue to the
// cheapest.
func (m *Model) feeTilted(routes []domain.Route, order domain.Order, refPrice float64, horizon time.Duration) Proposal {
	if len(routes) < 2 {
		return Proposal{}
	}

	m.mu.RLock()
	fee := func(venue string) float64 {
		if p, ok := m.profiles[venue]; ok {
			return p.TakerFeeRate
		}
		return 0
	}
	tilted := append([]domain.Route(nil), routes...)
	m.mu.RUnlock()

	sort.Slice(tilted, func(i, j int) bool { return fee(tilted[i].Venue) < fee(tilted[j].Venue) })
	cheap, dear := &tilted[0], &tilted[len(tilted)-1]
	shift := dear.Allocation * 0.2
	dear.Allocation -= shift
	cheap.Allocation += shift
	for i := range tilted {
		tilted[i].Quantity = order.Quantity * tilted[i].Allocation
	}

	return Proposal{
		Routes:     tilted,
		Estimate:   m.EstimateCost(tilted, order, refPrice, horizon),
		Confidence: 0.8,
		Reason:     fmt.Sprintf("shifted 20%% of %s flow to %s for lower fees", dear.Venue, cheap.Venue),
	}
}

// sizeSplit halves any route whose quantity exceeds the venue's p95 order
// size, duplicating the route so the flow arrives in two smaller clips.
func (m *Model) sizeSplit(routes []domain.Route, order domain.Order, refPrice float64, horizon time.Duration) Proposal {
	m.mu.RLock()
	var split []domain.Route
	changed := false
	for _, r := range routes {
		qty := r.Quantity
		if qty == 0 {
			qty = order.Quantity * r.Allocation
		}
		p, ok := m.profiles[r.Venue]
		if ok && p.SizeP95 > 0 && qty > p.SizeP95 {
			half := r
			half.Allocation = r.Allocation / 2
			half.Quantity = qty / 2
			split = append(split, half, half)
			changed = true
			continue
		}
		split = append(split, r)
	}
	m.mu.RUnlock()

	if !changed {
		return Proposal{}
	}
	return Proposal{
		Routes:     split,
		Estimate:   m.EstimateCost(split, order, refPrice, horizon),
		Confidence: 0.7,
		Reason:     "split oversized clips below venue p95 order size",
	}
}

// stretched doubles the horizon, trading opportunity cost for impact.
func (m *Model) stretched(routes []domain.Route, order domain.Order, refPrice float64, horizon time.Duration) Proposal {
	if horizon <= 0 {
		return Proposal{}
	}
	return Proposal{
		Routes:     append([]domain.Route(nil), routes...),
		Estimate:   m.EstimateCost(routes, order, refPrice, horizon*2),
		Confidence: 0.6,
		Reason:     fmt.Sprintf("stretched horizon from %s to %s to reduce impact", horizon, horizon*2),
	}
}
