package algo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// maxPrintAge bounds how far back the per-symbol print history extends.
const maxPrintAge = 5 * time.Minute

// maxSizeSamples caps the order-size distribution kept per symbol.
const maxSizeSamples = 512

// VolumeBook routes streamed market volume into per-symbol trackers. It is
// the push side of the market data contract for the volume-driven algorithms.
type VolumeBook struct {
	mu       sync.RWMutex
	trackers map[string]*VolumeTracker
}

// NewVolumeBook creates an empty VolumeBook.
func NewVolumeBook() *VolumeBook {
	return &VolumeBook{trackers: make(map[string]*VolumeTracker)}
}

// Tracker returns the tracker for symbol, creating it on first use.
func (vb *VolumeBook) Tracker(symbol string) *VolumeTracker {
	vb.mu.RLock()
	t, ok := vb.trackers[symbol]
	vb.mu.RUnlock()
	if ok {
		return t
	}
	vb.mu.Lock()
	defer vb.mu.Unlock()
	if t, ok = vb.trackers[symbol]; ok {
		return t
	}
	t = newVolumeTracker()
	vb.trackers[symbol] = t
	return t
}

// OnVolumeUpdate routes a market print to the symbol's tracker.
func (vb *VolumeBook) OnVolumeUpdate(u domain.VolumeUpdate) {
	vb.Tracker(u.Symbol).Observe(u)
}

// print is one traded quantity observation.
type print struct {
	size float64
	time time.Time
}

// VolumeTracker maintains recent market volume for one symbol: a print
// history for windowed sums, own-execution volume for participation math, a
// moving-average volume rate with a volatility estimate, and the order-size
// distribution the iceberg clamp and slippage model read.
type VolumeTracker struct {
	mu        sync.Mutex
	market    []print
	own       []print
	sizes     []float64
	rateEMA   float64 // volume per second
	rateVar   float64 // EMA of squared rate deviations
	lastPrint time.Time
}

func newVolumeTracker() *VolumeTracker {
	return &VolumeTracker{}
}

// Observe records a market print and refreshes the moving-average rate.
func (t *VolumeTracker) Observe(u domain.VolumeUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := u.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	t.market = append(t.market, print{size: u.Size, time: ts})
	t.sizes = append(t.sizes, u.Size)
	if len(t.sizes) > maxSizeSamples {
		t.sizes = append(t.sizes[:0], t.sizes[len(t.sizes)-maxSizeSamples:]...)
	}
	t.trimLocked(ts)

	// Exponential moving average of the instantaneous volume rate, with a
	// matching variance estimate for the volatility signal.
	if !t.lastPrint.IsZero() {
		dt := ts.Sub(t.lastPrint).Seconds()
		if dt > 0 {
			rate := u.Size / dt
			const alpha = 0.2
			if t.rateEMA == 0 {
				t.rateEMA = rate
			} else {
				dev := rate - t.rateEMA
				t.rateEMA += alpha * dev
				t.rateVar = (1-alpha)*t.rateVar + alpha*dev*dev
			}
		}
	}
	t.lastPrint = ts
}

// RecordOwn adds our own executed quantity so participation can be computed.
func (t *VolumeTracker) RecordOwn(qty float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts.IsZero() {
		ts = time.Now()
	}
	t.own = append(t.own, print{size: qty, time: ts})
	t.trimLocked(ts)
}

// MarketVolume sums market prints within the trailing window.
func (t *VolumeTracker) MarketVolume(window time.Duration) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sumWindow(t.market, window)
}

// OwnVolume sums our own executions within the trailing window.
func (t *VolumeTracker) OwnVolume(window time.Duration) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sumWindow(t.own, window)
}

// Participation returns own volume divided by market volume over the trailing
// window, or 0 when the market printed nothing.
func (t *VolumeTracker) Participation(window time.Duration) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	market := sumWindow(t.market, window)
	if market <= 0 {
		return 0
	}
	return sumWindow(t.own, window) / market
}

// Rate returns the moving-average market volume per second.
func (t *VolumeTracker) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rateEMA
}

// RateVolatility returns the relative volatility of the volume rate
// (stddev over mean), the thin/jumpy-market signal POV dampens on.
func (t *VolumeTracker) RateVolatility() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rateEMA <= 0 {
		return 0
	}
	return math.Sqrt(t.rateVar) / t.rateEMA
}

// SizePercentile returns the q-quantile of observed market order sizes, or 0
// when nothing has printed.
func (t *VolumeTracker) SizePercentile(q float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sizes) == 0 {
		return 0
	}
	sorted := append([]float64(nil), t.sizes...)
	sort.Float64s(sorted)
	idx := int(q*float64(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func sumWindow(prints []print, window time.Duration) float64 {
	cutoff := time.Now().Add(-window)
	var sum float64
	for i := len(prints) - 1; i >= 0; i-- {
		if prints[i].time.Before(cutoff) {
			break
		}
		sum += prints[i].size
	}
	return sum
}

// trimLocked drops prints older than maxPrintAge. Caller holds the lock.
func (t *VolumeTracker) trimLocked(now time.Time) {
	cutoff := now.Add(-maxPrintAge)
	t.market = trimPrints(t.market, cutoff)
	t.own = trimPrints(t.own, cutoff)
}

func trimPrints(prints []print, cutoff time.Time) []print {
	i := 0
	for ; i < len(prints); i++ {
		if prints[i].time.After(cutoff) {
			break
		}
	}
	if i == 0 {
		return prints
	}
	return append(prints[:0], prints[i:]...)
}
