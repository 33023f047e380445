package liquidity

import (
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// pricePoint records a single price observation at a point in time.
type pricePoint struct {
	price float64
	time  time.Time
}

// VolatilityTracker maintains a sliding window of recent prices per symbol
// plus a rolling 24h traded-volume figure. The cache uses both to decide when
// a symbol's snapshots should expire faster than their class TTL.
type VolatilityTracker struct {
	windowSize time.Duration

	mu      sync.RWMutex
	history map[string][]pricePoint
	volume  map[string]*volumeWindow
}

// volumeWindow keeps 24 hourly buckets of traded notional.
type volumeWindow struct {
	buckets [24]float64
	lastHour time.Time
}

// NewVolatilityTracker creates a tracker with the given price window.
func NewVolatilityTracker(windowSize time.Duration) *VolatilityTracker {
	if windowSize <= 0 {
		windowSize = 5 * time.Minute
	}
	return &VolatilityTracker{
		windowSize: windowSize,
		history:    make(map[string][]pricePoint),
		volume:     make(map[string]*volumeWindow),
	}
}

// OnPriceUpdate records a new price observation for the symbol and trims
// points that have fallen outside the sliding window.
func (vt *VolatilityTracker) OnPriceUpdate(u domain.PriceUpdate) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	vt.history[u.Symbol] = append(vt.history[u.Symbol], pricePoint{price: u.Price, time: u.Timestamp})
	vt.trim(u.Symbol, u.Timestamp)
}

// OnVolumeUpdate adds a trade print's notional to the symbol's 24h volume.
func (vt *VolatilityTracker) OnVolumeUpdate(u domain.VolumeUpdate) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	w := vt.volume[u.Symbol]
	if w == nil {
		w = &volumeWindow{}
		vt.volume[u.Symbol] = w
	}
	hour := u.Timestamp.Truncate(time.Hour)
	if w.lastHour.IsZero() {
		w.lastHour = hour
	}
	if hour.After(w.lastHour) {
		// Zero every bucket skipped since the last write; a gap of a day or
		// more wipes the whole window.
		steps := int(hour.Sub(w.lastHour) / time.Hour)
		if steps > 24 {
			steps = 24
		}
		for i := 1; i <= steps; i++ {
			w.buckets[w.lastHour.Add(time.Duration(i)*time.Hour).Hour()] = 0
		}
		w.lastHour = hour
	}
	w.buckets[hour.Hour()] += u.Price * u.Size
}

// RelativeVolatility returns the population standard deviation of windowed
// prices divided by their mean, or 0 with fewer than two points.
func (vt *VolatilityTracker) RelativeVolatility(symbol string) float64 {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	pts := vt.history[symbol]
	if len(pts) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pts {
		sum += p.price
	}
	mean := sum / float64(len(pts))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, p := range pts {
		d := p.price - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance) / mean
}

// Volume24h returns the rolling 24h traded notional for the symbol.
func (vt *VolatilityTracker) Volume24h(symbol string) float64 {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	w := vt.volume[symbol]
	if w == nil {
		return 0
	}
	var total float64
	for _, b := range w.buckets {
		total += b
	}
	return total
}

// LastPrice returns the most recent tracked price for the symbol.
func (vt *VolatilityTracker) LastPrice(symbol string) (float64, bool) {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	pts := vt.history[symbol]
	if len(pts) == 0 {
		return 0, false
	}
	return pts[len(pts)-1].price, true
}

// trim drops points older than the window. Caller holds the write lock.
func (vt *VolatilityTracker) trim(symbol string, now time.Time) {
	pts := vt.history[symbol]
	cutoff := now.Add(-vt.windowSize)
	i := 0
	for ; i < len(pts); i++ {
		if pts[i].time.After(cutoff) {
			break
		}
	}
	if i > 0 {
		vt.history[symbol] = append(pts[:0], pts[i:]...)
	}
}
