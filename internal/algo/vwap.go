package algo

import (
	"context"
	"fmt"
	"math"
	"time"

	"log/slog"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// VWAPConfig tunes the VWAP algorithm.
type VWAPConfig struct {
	Tick             time.Duration
	AdaptiveInterval time.Duration
	SliceInterval    time.Duration
	ParticipationCap float64
	MaxVolumeScale   float64
	ImpactShrinkBps  float64
	RedistributeUp   float64
	RedistributeDown float64
	CompletionRatio  float64
	Retention        time.Duration
	Profile          *VolumeProfile
}

// VolumeProfile is the per-hour share of a day's expected volume. Shares are
// normalized at profile build time; Confidence reflects how stable the curve
// is expected to be.
type VolumeProfile struct {
	Hourly     [24]float64
	Confidence float64
}

// defaultProfile is a U-shaped intraday curve: heavy at the open and close,
// thin mid-session.
func defaultProfile() *VolumeProfile {
	p := &VolumeProfile{Confidence: 0.6}
	raw := [24]float64{
		3.0, 2.4, 2.0, 1.8, 1.8, 2.0,
		2.6, 3.4, 5.2, 6.6, 5.8, 4.8,
		4.0, 3.6, 3.8, 4.4, 5.2, 6.2,
		7.0, 6.4, 5.4, 4.6, 3.8, 3.2,
	}
	var sum float64
	for _, v := range raw {
		sum += v
	}
	for i, v := range raw {
		p.Hourly[i] = v / sum
	}
	return p
}

// normalize rescales the hourly shares to sum to one and derives a stability
// confidence from how far the curve departs from flat: an extremely spiky
// profile is treated as less reliable.
func (p *VolumeProfile) normalize() {
	var sum float64
	for _, v := range p.Hourly {
		sum += v
	}
	if sum <= 0 {
		*p = *defaultProfile()
		return
	}
	for i := range p.Hourly {
		p.Hourly[i] /= sum
	}
	if p.Confidence <= 0 || p.Confidence > 1 {
		mean := 1.0 / 24
		var variance float64
		for _, v := range p.Hourly {
			variance += (v - mean) * (v - mean)
		}
		cv := math.Sqrt(variance/24) / mean
		p.Confidence = clamp(1-cv/4, 0.3, 0.95)
	}
}

// vwapState is the per-run adaptive state behind run.mu.
type vwapState struct {
	profile       *VolumeProfile
	rate          float64 // current participation ceiling
	baselineRate  float64 // expected market volume per second at start
	arrivalPrice  float64
	marketNotion  float64 // running market notional for realized market VWAP
	marketVolume  float64
	lastMarketVol float64
	trackingBps   float64
}

// VWAP distributes quantity across one-minute slices weighted by an intraday
// volume profile, adjusts each dispatch for realized versus expected volume,
// and runs a slower adaptive loop that redistributes remaining targets from
// the realized-VWAP tracking error.
type VWAP struct {
	cfg VWAPConfig
	*book
}

// NewVWAP creates the VWAP algorithm instance.
func NewVWAP(cfg VWAPConfig, deps Deps) *VWAP {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.AdaptiveInterval <= 0 {
		cfg.AdaptiveInterval = 5 * time.Second
	}
	if cfg.SliceInterval <= 0 {
		cfg.SliceInterval = time.Minute
	}
	if cfg.ParticipationCap <= 0 || cfg.ParticipationCap > 1 {
		cfg.ParticipationCap = 0.25
	}
	if cfg.MaxVolumeScale <= 1 {
		cfg.MaxVolumeScale = 1.5
	}
	if cfg.ImpactShrinkBps <= 0 {
		cfg.ImpactShrinkBps = 10
	}
	if cfg.RedistributeUp <= 1 {
		cfg.RedistributeUp = 1.1
	}
	if cfg.RedistributeDown <= 0 || cfg.RedistributeDown >= 1 {
		cfg.RedistributeDown = 0.9
	}
	if cfg.CompletionRatio <= 0 || cfg.CompletionRatio > 1 {
		cfg.CompletionRatio = 0.99
	}
	if cfg.Profile == nil {
		cfg.Profile = defaultProfile()
	}
	cfg.Profile.normalize()
	return &VWAP{cfg: cfg, book: newBook(domain.AlgoVWAP, deps, cfg.Retention)}
}

// Kind implements Algorithm.
func (v *VWAP) Kind() domain.AlgoKind { return domain.AlgoVWAP }

// Start validates the order, builds the volume-weighted slice schedule, and
// launches the dispatch and adaptive loops.
func (v *VWAP) Start(ctx context.Context, order domain.Order) error {
	if order.Quantity <= 0 {
		return fmt.Errorf("vwap: quantity %.4f: %w", order.Quantity, domain.ErrInvalidOrder)
	}
	if order.Params.Duration <= 0 {
		return fmt.Errorf("vwap: duration %s: %w", order.Params.Duration, domain.ErrInvalidOrder)
	}

	now := time.Now()
	weights := sliceWeights(v.cfg.Profile, now, order.Params.Duration, v.cfg.SliceInterval)

	state := &domain.ExecutionState{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Algo:      domain.AlgoVWAP,
		Status:    domain.StatusActive,
		TotalQty:  order.Quantity,
		StartTime: now,
		EndTime:   now.Add(order.Params.Duration),
	}
	var assigned float64
	for i, w := range weights {
		sl := getSlice()
		sl.Index = i
		sl.ClientID = clientID(order.ID, domain.AlgoVWAP, i)
		sl.TargetTime = now.Add(time.Duration(i) * v.cfg.SliceInterval)
		sl.Status = domain.SlicePending
		if i == len(weights)-1 {
			sl.TargetQty = order.Quantity - assigned
		} else {
			sl.TargetQty = order.Quantity * w
			assigned += sl.TargetQty
		}
		state.Slices = append(state.Slices, sl)
	}

	tracker := v.deps.Volume.Tracker(order.Symbol)
	arrival, _ := referencePrice(ctx, v.deps.Liquidity, order)
	r := &run{
		order: order,
		state: state,
		done:  make(chan struct{}),
		ext: &vwapState{
			profile:      v.cfg.Profile,
			rate:         v.cfg.ParticipationCap,
			baselineRate: tracker.Rate(),
			arrivalPrice: arrival,
		},
	}
	if err := v.insert(r); err != nil {
		return err
	}

	go v.runLoop(ctx, r)
	return nil
}

// sliceWeights splits the execution window into SliceInterval buckets and
// weights each by the hour-profile share of its midpoint. The returned
// weights sum to one.
func sliceWeights(p *VolumeProfile, start time.Time, duration, interval time.Duration) []float64 {
	n := int(duration / interval)
	if n < 1 {
		n = 1
	}
	weights := make([]float64, n)
	var sum float64
	for i := range weights {
		mid := start.Add(time.Duration(i)*interval + interval/2)
		w := p.Hourly[mid.Hour()]
		if w <= 0 {
			w = 1.0 / 24
		}
		weights[i] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

func (v *VWAP) runLoop(ctx context.Context, r *run) {
	ticker := time.NewTicker(v.cfg.Tick)
	adaptive := time.NewTicker(v.cfg.AdaptiveInterval)
	defer ticker.Stop()
	defer adaptive.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.finishLocked(domain.StatusFailed)
			r.mu.Unlock()
			v.retire(r)
			return
		case <-r.done:
			v.retire(r)
			return
		case <-adaptive.C:
			v.adapt(ctx, r)
		case <-ticker.C:
			if v.tick(ctx, r) {
				v.retire(r)
				return
			}
		}
	}
}

// tick dispatches the next due slice, sized from realized versus expected
// volume. Dispatch failures are absorbed: the slice returns to pending and is
// recomputed on a later tick.
func (v *VWAP) tick(ctx context.Context, r *run) bool {
	now := time.Now()
	tracker := v.deps.Volume.Tracker(r.order.Symbol)

	r.mu.Lock()
	if r.state.Status.Terminal() {
		r.mu.Unlock()
		return true
	}
	if now.After(r.state.EndTime) {
		if r.state.ExecutedQty >= r.state.TotalQty*v.cfg.CompletionRatio {
			r.finishLocked(domain.StatusCompleted)
		} else {
			r.finishLocked(domain.StatusExpired)
		}
		r.mu.Unlock()
		return true
	}
	if r.paused {
		r.mu.Unlock()
		return false
	}

	vs := r.ext.(*vwapState)
	var sl *domain.Slice
	for _, s := range r.state.Slices {
		if s.Status == domain.SlicePending && !s.TargetTime.After(now) {
			sl = s
			break
		}
	}
	if sl == nil {
		done := r.state.ExecutedQty >= r.state.TotalQty*v.cfg.CompletionRatio && allResolved(r.state.Slices)
		if done {
			r.finishLocked(domain.StatusCompleted)
		}
		r.mu.Unlock()
		return done
	}

	qty := sl.TargetQty - sl.ExecutedQty
	realized := tracker.MarketVolume(v.cfg.SliceInterval)
	expected := vs.baselineRate * v.cfg.SliceInterval.Seconds()
	if expected > 0 && realized > 0 {
		qty *= clamp(realized/expected, 0.1, v.cfg.MaxVolumeScale)
	}
	if realized > 0 {
		if ceiling := vs.rate * realized; qty > ceiling {
			qty = ceiling
		}
	}
	if remaining := r.state.RemainingQty(); qty > remaining {
		qty = remaining
	}
	if qty <= 0 {
		r.mu.Unlock()
		return false
	}
	sl.Status = domain.SliceExecuting
	sl.Attempts++
	r.mu.Unlock()

	v.dispatchSlice(ctx, r, sl, qty)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status.Terminal() {
		return true
	}
	if r.state.ExecutedQty >= r.state.TotalQty*v.cfg.CompletionRatio {
		r.finishLocked(domain.StatusCompleted)
		return true
	}
	return false
}

func allResolved(slices []*domain.Slice) bool {
	for _, s := range slices {
		if s.Status == domain.SlicePending || s.Status == domain.SliceExecuting {
			return false
		}
	}
	return true
}

func (v *VWAP) dispatchSlice(ctx context.Context, r *run, sl *domain.Slice, qty float64) {
	price, perr := referencePrice(ctx, v.deps.Liquidity, r.order)

	var fill domain.Fill
	err := perr
	if err == nil {
		fill, err = v.deps.Dispatcher.Dispatch(ctx, domain.ClipOrder{
			ClientID:    fmt.Sprintf("%s-%d", sl.ClientID, sl.Attempts),
			ParentID:    r.order.ID,
			Symbol:      r.order.Symbol,
			Side:        r.order.Side,
			Quantity:    qty,
			LimitPrice:  cappedPrice(r.order, price),
			TimeInForce: r.order.TimeInForce,
		})
	}

	r.mu.Lock()
	if err != nil {
		if r.state.Status.Terminal() {
			sl.Status = domain.SliceCancelled
			r.maybeCloseLocked()
			r.mu.Unlock()
			return
		}
		sl.Status = domain.SlicePending
		r.mu.Unlock()
		v.logger.Debug("dispatch absorbed",
			slog.String("order_id", r.order.ID),
			slog.Int("slice", sl.Index),
			slog.String("error", err.Error()),
		)
		return
	}

	r.state.RecordFill(sl, fill)
	if sl.ExecutedQty >= sl.TargetQty {
		sl.Status = domain.SliceCompleted
	} else {
		sl.Status = domain.SlicePending
	}
	executed := r.state.ExecutedQty
	remainingQty := r.state.RemainingQty()
	r.maybeCloseLocked()
	r.mu.Unlock()

	v.deps.Volume.Tracker(r.order.Symbol).RecordOwn(fill.Quantity, fill.Timestamp)
	v.emit(ctx, domain.Event{
		Type:         domain.EventSliceExecuted,
		OrderID:      r.order.ID,
		Symbol:       r.order.Symbol,
		Algo:         domain.AlgoVWAP,
		SliceIndex:   sl.Index,
		Fill:         &fill,
		ExecutedQty:  executed,
		RemainingQty: remainingQty,
	})
}

// adapt is the slower loop: it accumulates a realized market VWAP, derives
// the tracking error against it, redistributes remaining slice targets, and
// shrinks the participation ceiling when estimated impact is high.
func (v *VWAP) adapt(ctx context.Context, r *run) {
	price, err := referencePrice(ctx, v.deps.Liquidity, r.order)
	tracker := v.deps.Volume.Tracker(r.order.Symbol)
	total := tracker.MarketVolume(24 * time.Hour)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status.Terminal() || r.paused {
		return
	}
	vs := r.ext.(*vwapState)

	if err == nil && price > 0 {
		if delta := total - vs.lastMarketVol; delta > 0 {
			vs.marketNotion += price * delta
			vs.marketVolume += delta
		}
		vs.lastMarketVol = total
		if vs.arrivalPrice == 0 {
			vs.arrivalPrice = price
		}
	}

	avg := r.state.AvgFillPrice()
	if avg <= 0 {
		return
	}
	bench := vs.arrivalPrice
	if vs.marketVolume > 0 {
		bench = vs.marketNotion / vs.marketVolume
	}
	if bench <= 0 {
		return
	}
	vs.trackingBps = (avg - bench) / bench * 1e4
	if r.order.Side == domain.OrderSideSell {
		vs.trackingBps = -vs.trackingBps
	}

	// Positive tracking error means paying up against the benchmark: slow
	// the remaining schedule down. Negative means running favorably: lean in.
	factor := v.cfg.RedistributeUp
	if vs.trackingBps > 0 {
		factor = v.cfg.RedistributeDown
	}
	v.redistributeLocked(r, factor)

	if vs.trackingBps > v.cfg.ImpactShrinkBps {
		vs.rate = math.Max(vs.rate*0.9, 0.01)
		v.logger.Debug("participation ceiling shrunk",
			slog.String("order_id", r.order.ID),
			slog.Float64("tracking_bps", vs.trackingBps),
			slog.Float64("rate", vs.rate),
		)
	}
}

// redistributeLocked rescales pending slice targets by factor, conserving the
// order's remaining quantity on the final pending slice. Caller holds r.mu.
func (v *VWAP) redistributeLocked(r *run, factor float64) {
	var pending []*domain.Slice
	var resolved float64
	for _, s := range r.state.Slices {
		switch s.Status {
		case domain.SlicePending:
			pending = append(pending, s)
		default:
			resolved += s.TargetQty
		}
	}
	if len(pending) < 2 {
		return
	}
	budget := r.state.TotalQty - resolved
	var assigned float64
	for _, s := range pending[:len(pending)-1] {
		s.TargetQty *= factor
		if s.TargetQty > budget-assigned {
			s.TargetQty = budget - assigned
		}
		assigned += s.TargetQty
	}
	last := pending[len(pending)-1]
	last.TargetQty = budget - assigned
	if last.TargetQty < 0 {
		last.TargetQty = 0
	}
}

// Metrics implements Algorithm.
func (v *VWAP) Metrics(orderID string) (Metrics, bool) {
	r, ok := v.get(orderID)
	if !ok {
		return Metrics{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m := v.baseMetricsLocked(r)
	if vs, ok := r.ext.(*vwapState); ok {
		m.TrackingErrorBps = vs.trackingBps
	}
	return m, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
