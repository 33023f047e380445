package algo

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"log/slog"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// IcebergConfig tunes the iceberg algorithm.
type IcebergConfig struct {
	ReplenishDelay      time.Duration
	RetryDelay          time.Duration
	RiskDecay           float64
	MitigationThreshold float64
	VarianceBoost       float64
	VarianceCap         float64
	SizePercentile      float64
	MarketSizePctile    float64
	TickSize            float64
	Retention           time.Duration
}

// icebergState is the per-run detection-tracking state behind run.mu.
type icebergState struct {
	variance   float64
	visible    float64
	tick       float64 // venue price increment for this symbol
	risk       float64 // EWMA of per-clip detection scores
	nudge      float64 // current price-level offset from mitigation
	alerted    bool
	nextIndex  int
	sizeSum    float64
	sizeCount  int
	clipTimes  []time.Time
	lastLevel  float64
	levelCount int
}

// Iceberg exposes only a small visible clip of a larger order, replenishing
// the moment a clip fills. Each completed clip is scored for detection risk;
// when the running risk crosses the mitigation threshold the clip-size
// variance is widened and the posted price level is nudged off the venue
// tick.
type Iceberg struct {
	cfg IcebergConfig
	*book
}

// NewIceberg creates the iceberg algorithm instance.
func NewIceberg(cfg IcebergConfig, deps Deps) *Iceberg {
	if cfg.ReplenishDelay <= 0 {
		cfg.ReplenishDelay = 100 * time.Millisecond
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.RiskDecay <= 0 || cfg.RiskDecay >= 1 {
		cfg.RiskDecay = 0.9
	}
	if cfg.MitigationThreshold <= 0 || cfg.MitigationThreshold > 1 {
		cfg.MitigationThreshold = 0.7
	}
	if cfg.VarianceBoost <= 1 {
		cfg.VarianceBoost = 1.5
	}
	if cfg.VarianceCap <= 0 || cfg.VarianceCap > 1 {
		cfg.VarianceCap = 0.5
	}
	if cfg.SizePercentile <= 0 || cfg.SizePercentile > 1 {
		cfg.SizePercentile = 0.95
	}
	if cfg.MarketSizePctile <= 0 || cfg.MarketSizePctile > 1 {
		cfg.MarketSizePctile = 0.90
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = 0.01
	}
	return &Iceberg{cfg: cfg, book: newBook(domain.AlgoIceberg, deps, cfg.Retention)}
}

// Kind implements Algorithm.
func (ic *Iceberg) Kind() domain.AlgoKind { return domain.AlgoIceberg }

// Start validates visible quantity and variance and launches the replenish
// loop. Clips are created lazily, one at a time.
func (ic *Iceberg) Start(ctx context.Context, order domain.Order) error {
	if order.Quantity <= 0 {
		return fmt.Errorf("iceberg: quantity %.4f: %w", order.Quantity, domain.ErrInvalidOrder)
	}
	visible := order.Params.VisibleQuantity
	if visible <= 0 || visible >= order.Quantity {
		return fmt.Errorf("iceberg: visible quantity %.4f of %.4f: %w", visible, order.Quantity, domain.ErrInvalidOrder)
	}
	if order.Params.Variance < 0 || order.Params.Variance > 1 {
		return fmt.Errorf("iceberg: variance %.4f: %w", order.Params.Variance, domain.ErrInvalidOrder)
	}

	now := time.Now()
	end := now.Add(24 * time.Hour)
	if order.Params.Duration > 0 {
		end = now.Add(order.Params.Duration)
	}
	tick := ic.cfg.TickSize
	if ic.deps.Ticks != nil {
		if t := ic.deps.Ticks.TickSize(order.Symbol); t > 0 {
			tick = t
		}
	}
	r := &run{
		order: order,
		state: &domain.ExecutionState{
			OrderID:   order.ID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Algo:      domain.AlgoIceberg,
			Status:    domain.StatusActive,
			TotalQty:  order.Quantity,
			StartTime: now,
			EndTime:   end,
		},
		done: make(chan struct{}),
		ext: &icebergState{
			variance: order.Params.Variance,
			visible:  visible,
			tick:     tick,
		},
	}
	if err := ic.insert(r); err != nil {
		return err
	}

	go ic.runLoop(ctx, r)
	return nil
}

// runLoop posts one clip at a time: only a single visible clip is ever
// exposed, and the next is posted as soon as the previous one resolves.
func (ic *Iceberg) runLoop(ctx context.Context, r *run) {
	defer ic.retire(r)

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.finishLocked(domain.StatusFailed)
			r.mu.Unlock()
			return
		case <-r.done:
			return
		default:
		}

		delay, finished := ic.step(ctx, r)
		if finished {
			return
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
			case <-r.done:
				return
			case <-time.After(delay):
			}
		}
	}
}

// step posts and resolves one clip. It returns the pause before the next
// clip and whether the run reached a terminal state.
func (ic *Iceberg) step(ctx context.Context, r *run) (time.Duration, bool) {
	now := time.Now()
	tracker := ic.deps.Volume.Tracker(r.order.Symbol)

	r.mu.Lock()
	if r.state.Status.Terminal() {
		r.mu.Unlock()
		return 0, true
	}
	if now.After(r.state.EndTime) {
		r.finishLocked(domain.StatusExpired)
		r.mu.Unlock()
		return 0, true
	}
	if r.paused {
		r.mu.Unlock()
		return ic.cfg.ReplenishDelay, false
	}
	vs := r.ext.(*icebergState)

	qty := vs.visible * (1 + (rand.Float64()*2-1)*vs.variance)
	if clampQ := tracker.SizePercentile(ic.cfg.SizePercentile); clampQ > 0 && qty > clampQ {
		qty = clampQ
	}
	if remaining := r.state.RemainingQty(); qty > remaining {
		qty = remaining
	}
	if qty <= 0 {
		r.finishLocked(domain.StatusCompleted)
		r.mu.Unlock()
		return 0, true
	}

	sl := getSlice()
	sl.Index = vs.nextIndex
	vs.nextIndex++
	sl.ClientID = clientID(r.order.ID, domain.AlgoIceberg, sl.Index)
	sl.TargetTime = now
	sl.TargetQty = qty
	sl.Status = domain.SliceExecuting
	sl.Attempts = 1
	nudge := vs.nudge
	r.state.Slices = append(r.state.Slices, sl)
	r.mu.Unlock()

	ok := ic.dispatchClip(ctx, r, sl, nudge)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status.Terminal() {
		return 0, true
	}
	if r.state.RemainingQty() <= 0 {
		r.finishLocked(domain.StatusCompleted)
		return 0, true
	}
	if !ok {
		return ic.cfg.RetryDelay, false
	}
	// Replenish promptly, with jitter widened by the current variance.
	jitter := 1 + rand.Float64()*r.ext.(*icebergState).variance
	return time.Duration(float64(ic.cfg.ReplenishDelay) * jitter), false
}

// dispatchClip routes one clip and, on fill, rescores detection risk.
func (ic *Iceberg) dispatchClip(ctx context.Context, r *run, sl *domain.Slice, nudge float64) bool {
	price, perr := referencePrice(ctx, ic.deps.Liquidity, r.order)

	var fill domain.Fill
	err := perr
	if err == nil {
		level := cappedPrice(r.order, price)
		if r.order.Side == domain.OrderSideBuy {
			level -= nudge
		} else {
			level += nudge
		}
		fill, err = ic.deps.Dispatcher.Dispatch(ctx, domain.ClipOrder{
			ClientID:    sl.ClientID,
			ParentID:    r.order.ID,
			Symbol:      r.order.Symbol,
			Side:        r.order.Side,
			Quantity:    sl.TargetQty,
			LimitPrice:  level,
			TimeInForce: r.order.TimeInForce,
		})
	}

	tracker := ic.deps.Volume.Tracker(r.order.Symbol)
	p90 := tracker.SizePercentile(ic.cfg.MarketSizePctile)

	r.mu.Lock()
	if err != nil {
		if r.state.Status.Terminal() {
			sl.Status = domain.SliceCancelled
		} else {
			sl.Status = domain.SliceFailed
		}
		r.maybeCloseLocked()
		r.mu.Unlock()
		ic.logger.Debug("clip dispatch failed",
			slog.String("order_id", r.order.ID),
			slog.Int("clip", sl.Index),
			slog.String("error", err.Error()),
		)
		return false
	}

	r.state.RecordFill(sl, fill)
	sl.Status = domain.SliceCompleted
	vs := r.ext.(*icebergState)
	score := ic.scoreClipLocked(vs, fill, p90)
	vs.risk = ic.cfg.RiskDecay*vs.risk + (1-ic.cfg.RiskDecay)*score
	risk := vs.risk
	mitigated := false
	if risk > ic.cfg.MitigationThreshold && !vs.alerted {
		ic.mitigateLocked(vs)
		vs.alerted = true
		mitigated = true
	} else if risk <= ic.cfg.MitigationThreshold {
		vs.alerted = false
	}
	executed := r.state.ExecutedQty
	remainingQty := r.state.RemainingQty()
	r.maybeCloseLocked()
	r.mu.Unlock()

	ic.deps.Volume.Tracker(r.order.Symbol).RecordOwn(fill.Quantity, fill.Timestamp)
	ic.emit(ctx, domain.Event{
		Type:          domain.EventSliceExecuted,
		OrderID:       r.order.ID,
		Symbol:        r.order.Symbol,
		Algo:          domain.AlgoIceberg,
		SliceIndex:    sl.Index,
		Fill:          &fill,
		ExecutedQty:   executed,
		RemainingQty:  remainingQty,
		DetectionRisk: risk,
	})
	if mitigated {
		ic.logger.Warn("detection risk mitigation triggered",
			slog.String("order_id", r.order.ID),
			slog.Float64("risk", risk),
		)
		ic.emit(ctx, domain.Event{
			Type:          domain.EventDetectionRiskAlert,
			OrderID:       r.order.ID,
			Symbol:        r.order.Symbol,
			Algo:          domain.AlgoIceberg,
			DetectionRisk: risk,
			ExecutedQty:   executed,
			RemainingQty:  remainingQty,
		})
	}
	return true
}

// scoreClipLocked combines four independent detection signals additively,
// capped at one. Caller holds r.mu.
func (ic *Iceberg) scoreClipLocked(vs *icebergState, fill domain.Fill, marketP90 float64) float64 {
	var score float64

	// Size consistency: clips hugging the running average stand out.
	if vs.sizeCount > 0 {
		avg := vs.sizeSum / float64(vs.sizeCount)
		if avg > 0 && math.Abs(fill.Quantity-avg)/avg < 0.10 {
			score += 0.25
		}
	}
	vs.sizeSum += fill.Quantity
	vs.sizeCount++

	// Timing regularity: low coefficient of variation of inter-clip gaps.
	vs.clipTimes = append(vs.clipTimes, fill.Timestamp)
	if len(vs.clipTimes) > 16 {
		vs.clipTimes = vs.clipTimes[len(vs.clipTimes)-16:]
	}
	if cv, ok := intervalCV(vs.clipTimes); ok && cv < 0.3 {
		score += 0.25
	}

	// Price-level persistence: repeated posting at one level.
	if vs.lastLevel != 0 && math.Abs(fill.Price-vs.lastLevel) < vs.tick/2 {
		vs.levelCount++
	} else {
		vs.levelCount = 1
		vs.lastLevel = fill.Price
	}
	if vs.levelCount > 3 {
		score += 0.25
	}

	// Size percentile: conspicuously large prints.
	if marketP90 > 0 && fill.Quantity > marketP90 {
		score += 0.25
	}
	return math.Min(score, 1)
}

// intervalCV is the coefficient of variation of gaps between consecutive
// timestamps. It needs at least three samples.
func intervalCV(times []time.Time) (float64, bool) {
	if len(times) < 3 {
		return 0, false
	}
	gaps := make([]float64, 0, len(times)-1)
	var sum float64
	for i := 1; i < len(times); i++ {
		g := times[i].Sub(times[i-1]).Seconds()
		gaps = append(gaps, g)
		sum += g
	}
	mean := sum / float64(len(gaps))
	if mean <= 0 {
		return 0, false
	}
	var variance float64
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	return math.Sqrt(variance/float64(len(gaps))) / mean, true
}

// mitigateLocked widens the clip-size variance and nudges the posted level a
// small random multiple of the venue tick. Caller holds r.mu.
func (ic *Iceberg) mitigateLocked(vs *icebergState) {
	vs.variance = math.Min(vs.variance*ic.cfg.VarianceBoost, ic.cfg.VarianceCap)
	if vs.variance == 0 {
		vs.variance = math.Min(0.1*ic.cfg.VarianceBoost, ic.cfg.VarianceCap)
	}
	vs.nudge = float64(1+rand.IntN(3)) * vs.tick
}

// Metrics implements Algorithm.
func (ic *Iceberg) Metrics(orderID string) (Metrics, bool) {
	r, ok := ic.get(orderID)
	if !ok {
		return Metrics{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m := ic.baseMetricsLocked(r)
	if vs, ok := r.ext.(*icebergState); ok {
		m.DetectionRisk = vs.risk
	}
	return m, true
}

// Pause suspends clip posting; the current clip resolves on its own.
func (ic *Iceberg) Pause(orderID string) bool {
	return ic.togglePause(orderID, true)
}

// Resume reverses Pause.
func (ic *Iceberg) Resume(orderID string) bool {
	return ic.togglePause(orderID, false)
}

func (ic *Iceberg) togglePause(orderID string, paused bool) bool {
	r, ok := ic.get(orderID)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status.Terminal() || r.paused == paused {
		return false
	}
	r.paused = paused
	if paused {
		r.state.Status = domain.StatusPaused
	} else {
		r.state.Status = domain.StatusActive
	}
	return true
}
