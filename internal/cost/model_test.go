package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execengine/internal/domain"
)

func testModel() *Model {
	m := NewModel(Config{
		LinearImpactCoeff:    10,
		SqrtImpactCoeff:      5,
		OpportunityBpsPerMin: 0.1,
	})
	m.UpdateProfile(VenueProfile{
		Venue:        "alpha",
		MakerFeeRate: 0.0002,
		TakerFeeRate: 0.001,
		AvgSpreadBps: 4,
		SizeP50:      10,
		SizeP95:      100,
		DepthPerMin:  1000,
	})
	return m
}

func singleRoute(qty float64) []domain.Route {
	return []domain.Route{{Venue: "alpha", Allocation: 1, Quantity: qty}}
}

func TestEstimateCostBreakdown(t *testing.T) {
	m := testModel()
	order := domain.Order{Symbol: "ETH-USD", Side: domain.OrderSideBuy, Quantity: 100, Kind: domain.OrderKindMarket}

	est := m.EstimateCost(singleRoute(100), order, 50, 10*time.Minute)

	// Taker flow: 100 * 50 * 0.001.
	assert.InDelta(t, 5.0, est.Fees, 1e-9)
	// Half-spread 2 bps scaled by qty/p95 = 2: slippage 4 bps of 5000.
	assert.InDelta(t, 4.0, est.SlippageBps, 1e-9)
	assert.InDelta(t, 2.0, est.Slippage, 1e-9)
	// Participation 100/(1000*10) = 0.01.
	wantImpact := 10*0.01 + 5*0.1
	assert.InDelta(t, wantImpact, est.ImpactBps, 1e-9)
	// 0.1 bps/min over 10 minutes on 5000 notional.
	assert.InDelta(t, 0.5, est.OpportunityCost, 1e-9)
	assert.InDelta(t, est.Fees+est.Slippage+est.MarketImpact+est.OpportunityCost, est.Total, 1e-9)
	assert.Equal(t, 1.0, est.Confidence)
}

func TestEstimateCostMakerFeesForLimitOrders(t *testing.T) {
	m := testModel()
	order := domain.Order{Quantity: 100, Kind: domain.OrderKindLimit, LimitPrice: 50}

	est := m.EstimateCost(singleRoute(100), order, 50, time.Minute)
	assert.InDelta(t, 1.0, est.Fees, 1e-9, "limit flow pays maker fees")
}

func TestEstimateCostImpactMonotonicInSize(t *testing.T) {
	m := testModel()
	order := func(qty float64) domain.Order {
		return domain.Order{Quantity: qty, Kind: domain.OrderKindMarket}
	}

	small := m.EstimateCost(singleRoute(10), order(10), 50, time.Minute)
	large := m.EstimateCost(singleRoute(1000), order(1000), 50, time.Minute)
	assert.Less(t, small.ImpactBps, large.ImpactBps)
	assert.Less(t, small.SlippageBps, large.SlippageBps)
}

func TestEstimateCostImpactShrinksWithHorizon(t *testing.T) {
	m := testModel()
	order := domain.Order{Quantity: 500, Kind: domain.OrderKindMarket}

	fast := m.EstimateCost(singleRoute(500), order, 50, time.Minute)
	slow := m.EstimateCost(singleRoute(500), order, 50, 30*time.Minute)
	assert.Greater(t, fast.ImpactBps, slow.ImpactBps)
	assert.Less(t, fast.OpportunityCost, slow.OpportunityCost)
}

func TestEstimateCostDegenerateInputs(t *testing.T) {
	m := testModel()

	assert.Zero(t, m.EstimateCost(nil, domain.Order{Quantity: 10}, 50, time.Minute).Total)
	assert.Zero(t, m.EstimateCost(singleRoute(10), domain.Order{Quantity: 10}, 0, time.Minute).Total)
	assert.Zero(t, m.EstimateCost(singleRoute(10), domain.Order{}, 50, time.Minute).Total)

	// Unknown venue contributes nothing but drags confidence down.
	est := m.EstimateCost([]domain.Route{
		{Venue: "alpha", Allocation: 0.5, Quantity: 5},
		{Venue: "ghost", Allocation: 0.5, Quantity: 5},
	}, domain.Order{Quantity: 10, Kind: domain.OrderKindMarket}, 50, time.Minute)
	assert.InDelta(t, 0.5, est.Confidence, 1e-9)
}

func TestEstimateCostZeroDepthAssumesOwnFlow(t *testing.T) {
	m := NewModel(Config{LinearImpactCoeff: 10, SqrtImpactCoeff: 5})
	m.UpdateProfile(VenueProfile{Venue: "thin"})

	est := m.EstimateCost([]domain.Route{{Venue: "thin", Allocation: 1, Quantity: 100}},
		domain.Order{Quantity: 100, Kind: domain.OrderKindMarket}, 50, time.Minute)
	// Participation saturates at 1: impact 10*1 + 5*1.
	assert.InDelta(t, 15.0, est.ImpactBps, 1e-9)
	// No spread data: half-spread floors at 1 bps, no size distribution.
	assert.InDelta(t, 1.0, est.SlippageBps, 1e-9)
}

func TestUpdateProfileCoercesImpactScale(t *testing.T) {
	m := NewModel(Config{})
	m.UpdateProfile(VenueProfile{Venue: "alpha", ImpactScale: -2})

	p, ok := m.Profile("alpha")
	require.True(t, ok)
	assert.Equal(t, 1.0, p.ImpactScale)

	_, ok = m.Profile("ghost")
	assert.False(t, ok)
}

func TestOptimizeForCostFeeTilt(t *testing.T) {
	m := NewModel(Config{})
	m.UpdateProfile(VenueProfile{Venue: "cheap", TakerFeeRate: 0.0001, DepthPerMin: 1e6, SizeP95: 1e6, AvgSpreadBps: 2})
	m.UpdateProfile(VenueProfile{Venue: "dear", TakerFeeRate: 0.005, DepthPerMin: 1e6, SizeP95: 1e6, AvgSpreadBps: 2})

	routes := []domain.Route{
		{Venue: "cheap", Allocation: 0.5, Quantity: 50},
		{Venue: "dear", Allocation: 0.5, Quantity: 50},
	}
	order := domain.Order{Quantity: 100, Kind: domain.OrderKindMarket}

	prop := m.OptimizeForCost(routes, order, 50, 10*time.Minute)
	require.NotEqual(t, "baseline", prop.Reason)
	assert.Greater(t, prop.Savings, 0.0)

	byVenue := map[string]float64{}
	for _, r := range prop.Routes {
		byVenue[r.Venue] += r.Allocation
	}
	assert.Greater(t, byVenue["cheap"], byVenue["dear"], "allocation shifts toward the cheaper fee tier")
}

func TestOptimizeForCostKeepsBaselineWhenNothingBeats(t *testing.T) {
	m := NewModel(Config{})
	m.UpdateProfile(VenueProfile{Venue: "alpha", DepthPerMin: 1e6, SizeP95: 1e6, AvgSpreadBps: 2})

	routes := singleRoute(10)
	order := domain.Order{Quantity: 10, Kind: domain.OrderKindMarket}

	prop := m.OptimizeForCost(routes, order, 50, time.Minute)
	assert.Equal(t, "baseline", prop.Reason)
	assert.Zero(t, prop.Savings)
}

func TestOptimizeForCostSplitsOversizedClips(t *testing.T) {
	m := NewModel(Config{})
	m.UpdateProfile(VenueProfile{Venue: "alpha", SizeP95: 10, DepthPerMin: 1e6, AvgSpreadBps: 2})

	routes := singleRoute(100)
	order := domain.Order{Quantity: 100, Kind: domain.OrderKindMarket}

	prop := m.OptimizeForCost(routes, order, 50, time.Minute)
	assert.Contains(t, prop.Reason, "split")
	assert.Greater(t, prop.Savings, 0.0)
	require.Len(t, prop.Routes, 2)
	assert.InDelta(t, 50.0, prop.Routes[0].Quantity, 1e-9)
}
