// Package latency measures and predicts per-venue round-trip latency. It
// keeps a rolling window of probe samples per venue, exposes percentile
// statistics, ranks network paths under an urgency policy, and enforces
// per-venue token-bucket dispatch limits.
package latency

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// Config tunes the latency service.
type Config struct {
	WindowSize    int
	PeakHoursFrom int // inclusive, UTC hour
	PeakHoursTo   int // exclusive, UTC hour
}

// Stats is the rolling latency summary for one venue.
type Stats struct {
	Mean        time.Duration
	Min         time.Duration
	Max         time.Duration
	P50         time.Duration
	P95         time.Duration
	P99         time.Duration
	SuccessRate float64
	Samples     int
	UpdatedAt   time.Time
}

// NetworkPath is one route to a venue. Reliability is the observed fraction
// of probes over this path that succeeded.
type NetworkPath struct {
	Name        string
	Venue       string
	BaseLatency time.Duration
	Reliability float64
}

// venueWindow holds the mutable per-venue sample window. It is guarded by the
// service mutex; snapshots handed to callers are computed under the lock.
type venueWindow struct {
	samples   []time.Duration // ring buffer
	next      int
	filled    bool
	successes int
	attempts  int
	updatedAt time.Time
}

// Service tracks latency per venue.
type Service struct {
	cfg Config

	mu      sync.RWMutex
	windows map[string]*venueWindow
	paths   map[string][]NetworkPath
	buckets map[string]*tokenBucket
}

// NewService creates a Service with the given config.
func NewService(cfg Config) *Service {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 256
	}
	return &Service{
		cfg:     cfg,
		windows: make(map[string]*venueWindow),
		paths:   make(map[string][]NetworkPath),
		buckets: make(map[string]*tokenBucket),
	}
}

// Record adds a measurement for venue. Failed probes count toward the success
// rate but contribute no latency sample.
func (s *Service) Record(venue string, rtt time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[venue]
	if w == nil {
		w = &venueWindow{samples: make([]time.Duration, s.cfg.WindowSize)}
		s.windows[venue] = w
	}
	w.attempts++
	if ok {
		w.successes++
		w.samples[w.next] = rtt
		w.next++
		if w.next == len(w.samples) {
			w.next = 0
			w.filled = true
		}
	}
	// Keep the success window bounded alongside the sample window.
	if w.attempts > 4*s.cfg.WindowSize {
		w.attempts = (w.attempts + 1) / 2
		w.successes = (w.successes + 1) / 2
	}
	w.updatedAt = time.Now()
}

// Stats returns the rolling summary for venue, or false when no samples have
// been recorded yet.
func (s *Service) Stats(venue string) (Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := s.windows[venue]
	if w == nil {
		return Stats{}, false
	}
	sorted := w.sorted()
	if len(sorted) == 0 {
		return Stats{SuccessRate: w.successRate(), UpdatedAt: w.updatedAt}, w.attempts > 0
	}

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return Stats{
		Mean:        sum / time.Duration(len(sorted)),
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		P50:         percentile(sorted, 0.50),
		P95:         percentile(sorted, 0.95),
		P99:         percentile(sorted, 0.99),
		SuccessRate: w.successRate(),
		Samples:     len(sorted),
		UpdatedAt:   w.updatedAt,
	}, true
}

// PredictLatency returns the expected round-trip for a dispatch at t: the p95
// figure during configured peak hours, the running mean otherwise. Unknown
// venues predict zero.
func (s *Service) PredictLatency(venue string, t time.Time) time.Duration {
	st, ok := s.Stats(venue)
	if !ok {
		return 0
	}
	hour := t.UTC().Hour()
	if hour >= s.cfg.PeakHoursFrom && hour < s.cfg.PeakHoursTo {
		return st.P95
	}
	return st.Mean
}

// RegisterPath adds a known network path for a venue.
func (s *Service) RegisterPath(p NetworkPath) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[p.Venue] = append(s.paths[p.Venue], p)
}

// SelectOptimalPath ranks known paths to venue. Under critical urgency paths
// are ranked by latency alone; otherwise latency is blended with reliability
// so a slightly slower but steadier path wins.
func (s *Service) SelectOptimalPath(venue string, urgency domain.Urgency) (NetworkPath, error) {
	s.mu.RLock()
	paths := append([]NetworkPath(nil), s.paths[venue]...)
	s.mu.RUnlock()

	if len(paths) == 0 {
		return NetworkPath{}, fmt.Errorf("latency: paths for %q: %w", venue, domain.ErrNotFound)
	}

	best := paths[0]
	bestScore := pathScore(paths[0], urgency)
	for _, p := range paths[1:] {
		if sc := pathScore(p, urgency); sc < bestScore {
			best, bestScore = p, sc
		}
	}
	return best, nil
}

// pathScore is lower-is-better. Reliability below 1 inflates the effective
// latency for non-critical urgency.
func pathScore(p NetworkPath, urgency domain.Urgency) float64 {
	ms := float64(p.BaseLatency) / float64(time.Millisecond)
	if urgency == domain.UrgencyCritical {
		return ms
	}
	rel := p.Reliability
	if rel < 0.01 {
		rel = 0.01
	}
	return ms / rel
}

// SetRateLimit configures the token bucket for venue dispatches.
func (s *Service) SetRateLimit(venue string, perSecond float64, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[venue] = newTokenBucket(perSecond, burst)
}

// Allow reports whether a dispatch to venue is within its rate limit,
// consuming one token when it is. Venues without a configured limit always
// allow.
func (s *Service) Allow(venue string) bool {
	s.mu.RLock()
	b := s.buckets[venue]
	s.mu.RUnlock()
	if b == nil {
		return true
	}
	return b.take()
}

func (w *venueWindow) successRate() float64 {
	if w.attempts == 0 {
		return 0
	}
	return float64(w.successes) / float64(w.attempts)
}

// sorted returns the occupied portion of the ring, ascending.
func (w *venueWindow) sorted() []time.Duration {
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	out := append([]time.Duration(nil), w.samples[:n]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// percentile reads the q-quantile from an ascending-sorted slice using the
// nearest-rank method.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
