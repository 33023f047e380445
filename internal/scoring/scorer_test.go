package scoring

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execengine/internal/domain"
	"github.com/alanyoungcy/execengine/internal/latency"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func equalWeights() Config {
	return Config{
		LatencyWeight:     1,
		CostWeight:        1,
		LiquidityWeight:   1,
		ReliabilityWeight: 1,
	}
}

func TestRefreshScoresFromObservations(t *testing.T) {
	lat := latency.NewService(latency.Config{WindowSize: 64})
	s := NewScorer(equalWeights(), []VenueInfo{
		{Name: "alpha", Class: domain.VenueClassCEX, TakerFeeRate: 0.001},
	}, lat, testLogger())

	for i := 0; i < 20; i++ {
		lat.Record("alpha", 50*time.Millisecond, true)
	}
	s.RecordDispatch("alpha", 10, 10, true)
	s.RecordDispatch("alpha", 10, 5, true)
	s.ObserveBook("alpha", 4, 10_000)

	s.Refresh()

	m, ok := s.Metrics("alpha")
	require.True(t, ok)
	assert.Equal(t, 20, m.SampleCount)
	assert.Equal(t, 1.0, m.SuccessRate)
	assert.InDelta(t, 0.75, m.FillRate, 1e-9)
	assert.InDelta(t, 4.0, m.AvgSpreadBps, 1e-9)
	assert.InDelta(t, 10_000.0, m.AvgDepth, 1e-9)

	sc, ok := s.Score("alpha")
	require.True(t, ok)
	// p95 = 50ms of a 500ms ceiling.
	assert.InDelta(t, 90.0, sc.Latency, 1e-9)
	// 10 bps taker fee on a 100 bps scale.
	assert.InDelta(t, 90.0, sc.Cost, 1e-9)
	// depth 10k reaches the half-way mark, spread shaves 0.4%.
	assert.InDelta(t, 49.8, sc.Liquidity, 1e-9)
	// 0.6*1.0 + 0.4*0.75.
	assert.InDelta(t, 90.0, sc.Reliability, 1e-9)
	assert.InDelta(t, (90+90+49.8+90)/4, sc.Overall, 1e-9)
}

func TestScoreUnprobedVenueZeroLatency(t *testing.T) {
	lat := latency.NewService(latency.Config{})
	s := NewScorer(equalWeights(), []VenueInfo{{Name: "alpha"}}, lat, testLogger())
	s.Refresh()

	sc, ok := s.Score("alpha")
	require.True(t, ok)
	assert.Zero(t, sc.Latency, "no samples means no latency credit")
	assert.Equal(t, 100.0, sc.Cost, "fee-free venue scores full cost marks")
}

func TestDispatchOutcomesOverrideProbeSuccess(t *testing.T) {
	lat := latency.NewService(latency.Config{})
	s := NewScorer(equalWeights(), []VenueInfo{{Name: "alpha"}}, lat, testLogger())

	for i := 0; i < 10; i++ {
		lat.Record("alpha", 10*time.Millisecond, true)
	}
	s.RecordDispatch("alpha", 10, 0, false)
	s.RecordDispatch("alpha", 10, 10, true)
	s.Refresh()

	m, ok := s.Metrics("alpha")
	require.True(t, ok)
	assert.InDelta(t, 0.5, m.SuccessRate, 1e-9, "dispatch outcomes dominate probe success")
}

func TestGetRecommendationsAllocationsSumToOne(t *testing.T) {
	lat := latency.NewService(latency.Config{WindowSize: 64})
	cfg := equalWeights()
	cfg.MaxLatency = 500 * time.Millisecond
	s := NewScorer(cfg, []VenueInfo{
		{Name: "alpha", TakerFeeRate: 0.0005},
		{Name: "beta", TakerFeeRate: 0.002},
		{Name: "gamma", TakerFeeRate: 0.004},
	}, lat, testLogger())

	for _, v := range []string{"alpha", "beta", "gamma"} {
		for i := 0; i < 10; i++ {
			lat.Record(v, 30*time.Millisecond, true)
		}
		s.RecordDispatch(v, 10, 10, true)
	}
	s.Refresh()

	rec, err := s.GetRecommendations(Criteria{Order: domain.Order{Symbol: "ETH-USD", Quantity: 90}})
	require.NoError(t, err)
	require.Len(t, rec.Allocations, 3)

	var fracSum, qtySum float64
	for _, al := range rec.Allocations {
		fracSum += al.Fraction
		qtySum += al.Quantity
	}
	assert.InDelta(t, 1.0, fracSum, 1e-9)
	assert.InDelta(t, 90.0, qtySum, 1e-9)
	assert.Equal(t, "alpha", rec.Allocations[0].Venue, "cheapest venue ranks first")
	assert.NotEmpty(t, rec.Rationale)
	assert.Greater(t, rec.Confidence, 0.0)
}

func TestGetRecommendationsThresholds(t *testing.T) {
	lat := latency.NewService(latency.Config{})
	s := NewScorer(equalWeights(), []VenueInfo{{Name: "alpha"}}, lat, testLogger())

	t.Run("no scores yet", func(t *testing.T) {
		_, err := s.GetRecommendations(Criteria{Order: domain.Order{Quantity: 10}})
		require.ErrorIs(t, err, domain.ErrNoEligibleVenue)
	})

	s.RecordDispatch("alpha", 10, 4, true)
	s.RecordDispatch("alpha", 10, 0, false)
	s.Refresh()

	t.Run("below min success rate", func(t *testing.T) {
		_, err := s.GetRecommendations(Criteria{Order: domain.Order{Quantity: 10}, MinSuccessRate: 0.9})
		require.ErrorIs(t, err, domain.ErrNoEligibleVenue)
	})

	t.Run("below min fill rate", func(t *testing.T) {
		_, err := s.GetRecommendations(Criteria{Order: domain.Order{Quantity: 10}, MinFillRate: 0.5})
		require.ErrorIs(t, err, domain.ErrNoEligibleVenue)
	})

	t.Run("passes with lax thresholds", func(t *testing.T) {
		rec, err := s.GetRecommendations(Criteria{Order: domain.Order{Quantity: 10}, MinSuccessRate: 0.4, MinFillRate: 0.1})
		require.NoError(t, err)
		require.Len(t, rec.Allocations, 1)
		assert.InDelta(t, 1.0, rec.Allocations[0].Fraction, 1e-9)
	})
}

func TestGetRecommendationsTopN(t *testing.T) {
	lat := latency.NewService(latency.Config{})
	venues := []VenueInfo{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}
	s := NewScorer(equalWeights(), venues, lat, testLogger())
	for _, v := range venues {
		s.RecordDispatch(v.Name, 10, 10, true)
	}
	s.Refresh()

	rec, err := s.GetRecommendations(Criteria{Order: domain.Order{Quantity: 100}, TopN: 2})
	require.NoError(t, err)
	assert.Len(t, rec.Allocations, 2)
}

func TestAdjustScoreUrgencyBias(t *testing.T) {
	sc := domain.VenueScore{Overall: 60, Latency: 100, Liquidity: 20}
	m := domain.VenueMetrics{}

	assert.InDelta(t, 60.0, adjustScore(sc, m, domain.Order{}), 1e-9)
	assert.InDelta(t, 68.0, adjustScore(sc, m, domain.Order{Urgency: domain.UrgencyHigh}), 1e-9)
	assert.InDelta(t, 76.0, adjustScore(sc, m, domain.Order{Urgency: domain.UrgencyCritical}), 1e-9)

	// Orders larger than observed depth lean on the liquidity score.
	m.AvgDepth = 50
	got := adjustScore(sc, m, domain.Order{Quantity: 100})
	assert.InDelta(t, 0.7*60+0.3*20, got, 1e-9)
}

func TestScoresSortedDescending(t *testing.T) {
	lat := latency.NewService(latency.Config{})
	s := NewScorer(equalWeights(), []VenueInfo{
		{Name: "cheap", TakerFeeRate: 0},
		{Name: "dear", TakerFeeRate: 0.009},
	}, lat, testLogger())
	s.Refresh()

	scores := s.Scores()
	require.Len(t, scores, 2)
	assert.Equal(t, "cheap", scores[0].Venue)
	assert.GreaterOrEqual(t, scores[0].Overall, scores[1].Overall)
}
