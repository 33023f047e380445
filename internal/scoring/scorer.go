// Package scoring ranks venues. It folds latency statistics, fee levels,
// observed liquidity and dispatch reliability into 0-100 component scores per
// venue, refreshes them on a fixed cadence, and produces allocation
// recommendations for individual orders.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/execengine/internal/domain"
	"github.com/alanyoungcy/execengine/internal/latency"
)

// Config tunes the scorer.
type Config struct {
	LatencyWeight     float64
	CostWeight        float64
	LiquidityWeight   float64
	ReliabilityWeight float64
	RefreshInterval   time.Duration
	// Default eligibility thresholds, used when a Criteria leaves them zero.
	MinSuccessRate float64
	MinFillRate    float64
	MaxLatency     time.Duration
	TopN           int
}

// VenueInfo is the static venue description the scorer needs.
type VenueInfo struct {
	Name         string
	Class        domain.VenueClass
	MakerFeeRate float64
	TakerFeeRate float64
}

// venueTrack accumulates per-venue observations between refreshes.
type venueTrack struct {
	info VenueInfo

	dispatches   int
	dispatchOK   int
	requestedQty float64
	filledQty    float64

	spreadSum float64
	depthSum  float64
	bookObs   int
}

// Scorer maintains venue metrics and composite scores.
type Scorer struct {
	cfg     Config
	lat     *latency.Service
	logger  *slog.Logger

	mu      sync.RWMutex
	tracks  map[string]*venueTrack
	metrics map[string]domain.VenueMetrics
	scores  map[string]domain.VenueScore
}

// NewScorer creates a Scorer over the given venues.
func NewScorer(cfg Config, venues []VenueInfo, lat *latency.Service, logger *slog.Logger) *Scorer {
	s := &Scorer{
		cfg:     cfg,
		lat:     lat,
		logger:  logger.With(slog.String("component", "venue_scorer")),
		tracks:  make(map[string]*venueTrack, len(venues)),
		metrics: make(map[string]domain.VenueMetrics, len(venues)),
		scores:  make(map[string]domain.VenueScore, len(venues)),
	}
	for _, v := range venues {
		s.tracks[v.Name] = &venueTrack{info: v}
	}
	return s
}

// RecordDispatch feeds a dispatch outcome into the venue's reliability
// tracking. requested and filled are quantities; ok is false for rejected or
// timed-out dispatches.
func (s *Scorer) RecordDispatch(venue string, requested, filled float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tracks[venue]
	if t == nil {
		return
	}
	t.dispatches++
	if ok {
		t.dispatchOK++
	}
	t.requestedQty += requested
	t.filledQty += filled
}

// ObserveBook feeds a fetched order book's spread and depth into the venue's
// liquidity tracking. The liquidity aggregator calls this on every fetch.
func (s *Scorer) ObserveBook(venue string, spreadBps, depth float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tracks[venue]
	if t == nil {
		return
	}
	t.spreadSum += spreadBps
	t.depthSum += depth
	t.bookObs++
}

// Run refreshes all venue scores on the configured cadence until ctx is
// cancelled.
func (s *Scorer) Run(ctx context.Context) error {
	interval := s.cfg.RefreshInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Refresh()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Refresh()
		}
	}
}

// Refresh recomputes metrics and scores for every venue. Each venue's entries
// are replaced atomically under the lock; readers see either the old or the
// new value, never a mix.
func (s *Scorer) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for name, t := range s.tracks {
		stats, _ := s.lat.Stats(name)
		m := s.buildMetricsLocked(t, stats, now)
		s.metrics[name] = m
		s.scores[name] = s.scoreLocked(m, now)
	}
}

func (s *Scorer) buildMetricsLocked(t *venueTrack, stats latency.Stats, now time.Time) domain.VenueMetrics {
	m := domain.VenueMetrics{
		Venue:        t.info.Name,
		Class:        t.info.Class,
		LatencyMean:  stats.Mean,
		LatencyMin:   stats.Min,
		LatencyMax:   stats.Max,
		LatencyP50:   stats.P50,
		LatencyP95:   stats.P95,
		LatencyP99:   stats.P99,
		SuccessRate:  stats.SuccessRate,
		MakerFeeRate: t.info.MakerFeeRate,
		TakerFeeRate: t.info.TakerFeeRate,
		SampleCount:  stats.Samples,
		UpdatedAt:    now,
	}
	if t.dispatches > 0 {
		// Dispatch outcomes dominate probe success once real flow exists.
		m.SuccessRate = float64(t.dispatchOK) / float64(t.dispatches)
	}
	if t.requestedQty > 0 {
		m.FillRate = t.filledQty / t.requestedQty
	}
	if t.bookObs > 0 {
		m.AvgSpreadBps = t.spreadSum / float64(t.bookObs)
		m.AvgDepth = t.depthSum / float64(t.bookObs)
	}
	return m
}

func (s *Scorer) scoreLocked(m domain.VenueMetrics, now time.Time) domain.VenueScore {
	maxLat := s.cfg.MaxLatency
	if maxLat <= 0 {
		maxLat = 500 * time.Millisecond
	}

	latScore := clamp100(100 * (1 - float64(m.LatencyP95)/float64(maxLat)))
	if m.SampleCount == 0 {
		latScore = 0
	}
	// 100 bps taker fee scores zero; fee-free venues score 100.
	costScore := clamp100(100 * (1 - m.TakerFeeRate/0.01))
	liqScore := 0.0
	if m.AvgDepth > 0 {
		liqScore = clamp100(100 * m.AvgDepth / (m.AvgDepth + depthReference))
		if m.AvgSpreadBps > 0 {
			liqScore = clamp100(liqScore * (1 - m.AvgSpreadBps/1000))
		}
	}
	relScore := clamp100(100 * (0.6*m.SuccessRate + 0.4*m.FillRate))

	w := s.cfg
	totalW := w.LatencyWeight + w.CostWeight + w.LiquidityWeight + w.ReliabilityWeight
	overall := (latScore*w.LatencyWeight + costScore*w.CostWeight +
		liqScore*w.LiquidityWeight + relScore*w.ReliabilityWeight) / totalW

	return domain.VenueScore{
		Venue:       m.Venue,
		Latency:     latScore,
		Cost:        costScore,
		Liquidity:   liqScore,
		Reliability: relScore,
		Overall:     overall,
		UpdatedAt:   now,
	}
}

// depthReference is the depth at which the liquidity sub-score reaches 50.
const depthReference = 10_000.0

// Metrics returns the last refreshed metrics for venue.
func (s *Scorer) Metrics(venue string) (domain.VenueMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[venue]
	return m, ok
}

// Score returns the last refreshed composite score for venue.
func (s *Scorer) Score(venue string) (domain.VenueScore, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[venue]
	return sc, ok
}

// Scores returns all venue scores sorted by overall score descending.
func (s *Scorer) Scores() []domain.VenueScore {
	s.mu.RLock()
	out := make([]domain.VenueScore, 0, len(s.scores))
	for _, sc := range s.scores {
		out = append(out, sc)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Overall > out[j].Overall })
	return out
}

// Criteria narrows venue eligibility for one order. Zero thresholds fall back
// to the scorer's configured defaults.
type Criteria struct {
	Order          domain.Order
	MinSuccessRate float64
	MinFillRate    float64
	MaxLatency     time.Duration
	TopN           int
}

// Allocation is one venue's share of a recommended split.
type Allocation struct {
	Venue    string
	Fraction float64
	Quantity float64
	Score    float64
}

// Recommendation is the scorer's allocation proposal for an order.
type Recommendation struct {
	Allocations []Allocation
	Rationale   string
	Confidence  float64 // 0-1
}

// GetRecommendations filters ineligible venues, adjusts scores for the
// order's urgency and size, and allocates the order across the top-N eligible
// venues proportionally to adjusted score. It returns ErrNoEligibleVenue when
// every venue fails the thresholds.
func (s *Scorer) GetRecommendations(criteria Criteria) (Recommendation, error) {
	minSuccess := criteria.MinSuccessRate
	if minSuccess == 0 {
		minSuccess = s.cfg.MinSuccessRate
	}
	minFill := criteria.MinFillRate
	if minFill == 0 {
		minFill = s.cfg.MinFillRate
	}
	maxLat := criteria.MaxLatency
	if maxLat == 0 {
		maxLat = s.cfg.MaxLatency
	}
	topN := criteria.TopN
	if topN <= 0 {
		topN = s.cfg.TopN
	}
	if topN <= 0 {
		topN = 3
	}

	s.mu.RLock()
	type cand struct {
		score    domain.VenueScore
		metrics  domain.VenueMetrics
		adjusted float64
	}
	cands := make([]cand, 0, len(s.scores))
	for name, sc := range s.scores {
		m := s.metrics[name]
		if m.SuccessRate < minSuccess || m.FillRate < minFill {
			continue
		}
		if m.LatencyP95 > maxLat {
			continue
		}
		cands = append(cands, cand{score: sc, metrics: m, adjusted: adjustScore(sc, m, criteria.Order)})
	}
	s.mu.RUnlock()

	if len(cands) == 0 {
		return Recommendation{}, fmt.Errorf("scoring: %w", domain.ErrNoEligibleVenue)
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].adjusted > cands[j].adjusted })
	if len(cands) > topN {
		cands = cands[:topN]
	}

	var totalScore float64
	for _, c := range cands {
		totalScore += c.adjusted
	}

	rec := Recommendation{Allocations: make([]Allocation, 0, len(cands))}
	var parts []string
	var sampleSum int
	for _, c := range cands {
		frac := c.adjusted / totalScore
		rec.Allocations = append(rec.Allocations, Allocation{
			Venue:    c.score.Venue,
			Fraction: frac,
			Quantity: criteria.Order.Quantity * frac,
			Score:    c.score.Overall,
		})
		parts = append(parts, fmt.Sprintf("%s %.0f%% (score %.1f, p95 %s)",
			c.score.Venue, frac*100, c.score.Overall, c.metrics.LatencyP95))
		sampleSum += c.metrics.SampleCount
	}
	rec.Rationale = fmt.Sprintf("allocated across %d venue(s): %s", len(cands), strings.Join(parts, "; "))
	rec.Confidence = confidence(cands[0].adjusted, sampleSum, len(cands))
	return rec, nil
}

// adjustScore biases the composite score toward what the order cares about:
// latency for urgent orders, liquidity for large ones.
func adjustScore(sc domain.VenueScore, m domain.VenueMetrics, order domain.Order) float64 {
	adjusted := sc.Overall
	switch order.Urgency {
	case domain.UrgencyHigh:
		adjusted = 0.8*adjusted + 0.2*sc.Latency
	case domain.UrgencyCritical:
		adjusted = 0.6*adjusted + 0.4*sc.Latency
	}
	if m.AvgDepth > 0 && order.Quantity > m.AvgDepth {
		adjusted = 0.7*adjusted + 0.3*sc.Liquidity
	}
	return adjusted
}

// confidence blends data volume with the strength of the top score.
func confidence(topScore float64, samples, venues int) float64 {
	dataConf := float64(samples) / float64(samples+50)
	scoreConf := topScore / 100
	c := 0.5*dataConf + 0.5*scoreConf
	if venues == 1 {
		c *= 0.9 // single-venue split leaves no fallback
	}
	if c > 1 {
		c = 1
	}
	return c
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
