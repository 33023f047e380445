package algo

import (
	"context"
	"fmt"
	"math"
	"time"

	"log/slog"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// POVConfig tunes the percentage-of-volume algorithm.
type POVConfig struct {
	Tick                time.Duration
	AdaptiveInterval    time.Duration
	ParticipationWindow time.Duration
	VolatilityThreshold float64
	VolatilityDamp      float64
	ImpactDampBps       float64
	ImpactDamp          float64
	ScheduleBand        float64
	ExcessFactor        float64
	CompletionRatio     float64
	MinClipQty          float64
	Retention           time.Duration
}

// povState is the per-run closed-loop state behind run.mu.
type povState struct {
	targetRate  float64 // adaptive, starts at the order's target participation
	maxRate     float64
	impactBps   float64 // EMA of per-fill slippage against the dispatch reference
	excessCount int     // consecutive adaptive ticks with participation > 1.2x target
	nextIndex   int
}

// POV works an order as a closed loop against streamed market volume: no
// slice schedule exists up front; each fast tick compares realized
// participation in the trailing window to the target rate and dispatches a
// lazily created slice only when running behind it.
type POV struct {
	cfg POVConfig
	*book
}

// NewPOV creates the POV algorithm instance.
func NewPOV(cfg POVConfig, deps Deps) *POV {
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	if cfg.AdaptiveInterval <= 0 {
		cfg.AdaptiveInterval = 10 * time.Second
	}
	if cfg.ParticipationWindow <= 0 {
		cfg.ParticipationWindow = 5 * time.Second
	}
	if cfg.VolatilityThreshold <= 0 {
		cfg.VolatilityThreshold = 0.3
	}
	if cfg.VolatilityDamp <= 0 || cfg.VolatilityDamp >= 1 {
		cfg.VolatilityDamp = 0.9
	}
	if cfg.ImpactDampBps <= 0 {
		cfg.ImpactDampBps = 10
	}
	if cfg.ImpactDamp <= 0 || cfg.ImpactDamp >= 1 {
		cfg.ImpactDamp = 0.8
	}
	if cfg.ScheduleBand <= 0 || cfg.ScheduleBand >= 1 {
		cfg.ScheduleBand = 0.2
	}
	if cfg.ExcessFactor <= 1 {
		cfg.ExcessFactor = 1.2
	}
	if cfg.CompletionRatio <= 0 || cfg.CompletionRatio > 1 {
		cfg.CompletionRatio = 0.99
	}
	return &POV{cfg: cfg, book: newBook(domain.AlgoPOV, deps, cfg.Retention)}
}

// Kind implements Algorithm.
func (p *POV) Kind() domain.AlgoKind { return domain.AlgoPOV }

// Start validates participation parameters and launches the scheduling and
// adaptive loops. Slices are created lazily as dispatches happen.
func (p *POV) Start(ctx context.Context, order domain.Order) error {
	if order.Quantity <= 0 {
		return fmt.Errorf("pov: quantity %.4f: %w", order.Quantity, domain.ErrInvalidOrder)
	}
	target, max := order.Params.TargetParticipation, order.Params.MaxParticipation
	if target <= 0 || target > 1 {
		return fmt.Errorf("pov: target participation %.4f: %w", target, domain.ErrInvalidOrder)
	}
	if max <= 0 || max > 1 || max < target {
		return fmt.Errorf("pov: max participation %.4f (target %.4f): %w", max, target, domain.ErrInvalidOrder)
	}
	if order.Params.Duration <= 0 {
		return fmt.Errorf("pov: duration %s: %w", order.Params.Duration, domain.ErrInvalidOrder)
	}

	now := time.Now()
	r := &run{
		order: order,
		state: &domain.ExecutionState{
			OrderID:   order.ID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Algo:      domain.AlgoPOV,
			Status:    domain.StatusActive,
			TotalQty:  order.Quantity,
			StartTime: now,
			EndTime:   now.Add(order.Params.Duration),
		},
		done: make(chan struct{}),
		ext:  &povState{targetRate: target, maxRate: max},
	}
	if err := p.insert(r); err != nil {
		return err
	}

	go p.runLoop(ctx, r)
	return nil
}

func (p *POV) runLoop(ctx context.Context, r *run) {
	ticker := time.NewTicker(p.cfg.Tick)
	adaptive := time.NewTicker(p.cfg.AdaptiveInterval)
	defer ticker.Stop()
	defer adaptive.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.finishLocked(domain.StatusFailed)
			r.mu.Unlock()
			p.retire(r)
			return
		case <-r.done:
			p.retire(r)
			return
		case <-adaptive.C:
			p.adapt(r)
		case <-ticker.C:
			if p.tick(ctx, r) {
				p.retire(r)
				return
			}
		}
	}
}

// tick is the fast scheduling loop: dispatch only while realized
// participation in the trailing window is below the target rate, with the
// clip sized from the current market volume rate and schedule pressure.
func (p *POV) tick(ctx context.Context, r *run) bool {
	now := time.Now()
	tracker := p.deps.Volume.Tracker(r.order.Symbol)

	r.mu.Lock()
	if r.state.Status.Terminal() {
		r.mu.Unlock()
		return true
	}
	if now.After(r.state.EndTime) {
		if r.state.ExecutedQty >= r.state.TotalQty*p.cfg.CompletionRatio {
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
	vs := r.ext.(*povState)

	participation := tracker.Participation(p.cfg.ParticipationWindow)
	if participation >= vs.targetRate {
		r.mu.Unlock()
		return false
	}

	qty := tracker.Rate() * p.cfg.Tick.Seconds() * vs.targetRate
	if qty <= 0 {
		r.mu.Unlock()
		return false
	}

	// Schedule pressure: compare filled progress to the elapsed-time-implied
	// target, with a tolerance band on either side.
	elapsed := now.Sub(r.state.StartTime).Seconds()
	horizon := r.state.EndTime.Sub(r.state.StartTime).Seconds()
	if horizon > 0 {
		implied := r.state.TotalQty * (elapsed / horizon)
		switch {
		case r.state.ExecutedQty < implied*(1-p.cfg.ScheduleBand):
			qty *= p.cfg.ExcessFactor
		case r.state.ExecutedQty > implied*(1+p.cfg.ScheduleBand):
			qty *= 1 / p.cfg.ExcessFactor
		}
	}

	if tracker.RateVolatility() > p.cfg.VolatilityThreshold {
		qty *= p.cfg.VolatilityDamp
	}
	if vs.impactBps > p.cfg.ImpactDampBps {
		qty *= p.cfg.ImpactDamp
	}

	// Hard bound: projected participation over the window never exceeds max.
	market := tracker.MarketVolume(p.cfg.ParticipationWindow)
	own := tracker.OwnVolume(p.cfg.ParticipationWindow)
	if market > 0 {
		if headroom := vs.maxRate*market - own; qty > headroom {
			qty = headroom
		}
	}
	if remaining := r.state.RemainingQty(); qty > remaining {
		qty = remaining
	}
	if qty <= 0 || qty < p.cfg.MinClipQty {
		r.mu.Unlock()
		return false
	}

	sl := getSlice()
	sl.Index = vs.nextIndex
	vs.nextIndex++
	sl.ClientID = clientID(r.order.ID, domain.AlgoPOV, sl.Index)
	sl.TargetTime = now
	sl.TargetQty = qty
	sl.Status = domain.SliceExecuting
	sl.Attempts = 1
	r.state.Slices = append(r.state.Slices, sl)
	r.mu.Unlock()

	p.dispatchSlice(ctx, r, sl)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status.Terminal() {
		return true
	}
	if r.state.ExecutedQty >= r.state.TotalQty*p.cfg.CompletionRatio {
		r.finishLocked(domain.StatusCompleted)
		return true
	}
	return false
}

// dispatchSlice routes one lazily created slice. A failed dispatch is
// absorbed: the slice is marked failed and the next tick recomputes from
// scratch.
func (p *POV) dispatchSlice(ctx context.Context, r *run, sl *domain.Slice) {
	price, perr := referencePrice(ctx, p.deps.Liquidity, r.order)

	var fill domain.Fill
	err := perr
	if err == nil {
		fill, err = p.deps.Dispatcher.Dispatch(ctx, domain.ClipOrder{
			ClientID:    sl.ClientID,
			ParentID:    r.order.ID,
			Symbol:      r.order.Symbol,
			Side:        r.order.Side,
			Quantity:    sl.TargetQty,
			LimitPrice:  cappedPrice(r.order, price),
			TimeInForce: r.order.TimeInForce,
		})
	}

	r.mu.Lock()
	if err != nil {
		if r.state.Status.Terminal() {
			sl.Status = domain.SliceCancelled
		} else {
			sl.Status = domain.SliceFailed
		}
		r.maybeCloseLocked()
		r.mu.Unlock()
		p.logger.Debug("dispatch absorbed",
			slog.String("order_id", r.order.ID),
			slog.Int("slice", sl.Index),
			slog.String("error", err.Error()),
		)
		return
	}

	r.state.RecordFill(sl, fill)
	sl.Status = domain.SliceCompleted
	vs := r.ext.(*povState)
	if price > 0 {
		slip := (fill.Price - price) / price * 1e4
		if r.order.Side == domain.OrderSideSell {
			slip = -slip
		}
		vs.impactBps = 0.8*vs.impactBps + 0.2*slip
	}
	executed := r.state.ExecutedQty
	remainingQty := r.state.RemainingQty()
	r.maybeCloseLocked()
	r.mu.Unlock()

	p.deps.Volume.Tracker(r.order.Symbol).RecordOwn(fill.Quantity, fill.Timestamp)
	p.emit(ctx, domain.Event{
		Type:         domain.EventSliceExecuted,
		OrderID:      r.order.ID,
		Symbol:       r.order.Symbol,
		Algo:         domain.AlgoPOV,
		SliceIndex:   sl.Index,
		Fill:         &fill,
		ExecutedQty:  executed,
		RemainingQty: remainingQty,
	})
}

// adapt is the slow loop: relax the target rate upward under time pressure,
// contract it when realized participation persistently runs hot.
func (p *POV) adapt(r *run) {
	tracker := p.deps.Volume.Tracker(r.order.Symbol)
	participation := tracker.Participation(p.cfg.ParticipationWindow)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status.Terminal() || r.paused {
		return
	}
	vs := r.ext.(*povState)

	horizon := r.state.EndTime.Sub(r.state.StartTime).Seconds()
	elapsedFrac := 0.0
	if horizon > 0 {
		elapsedFrac = now.Sub(r.state.StartTime).Seconds() / horizon
	}
	remainingFrac := r.state.RemainingQty() / r.state.TotalQty

	if elapsedFrac > 0.7 && remainingFrac > 0.5 {
		vs.targetRate = math.Min(vs.targetRate*p.cfg.ExcessFactor, vs.maxRate)
		p.logger.Debug("target rate relaxed under time pressure",
			slog.String("order_id", r.order.ID),
			slog.Float64("target_rate", vs.targetRate),
		)
	}

	if participation > vs.targetRate*p.cfg.ExcessFactor {
		vs.excessCount++
	} else {
		vs.excessCount = 0
	}
	if vs.excessCount >= 3 {
		vs.targetRate = math.Max(vs.targetRate*0.9, 0.005)
		vs.excessCount = 0
		p.logger.Debug("target rate contracted in thin market",
			slog.String("order_id", r.order.ID),
			slog.Float64("target_rate", vs.targetRate),
		)
	}
}

// Metrics implements Algorithm.
func (p *POV) Metrics(orderID string) (Metrics, bool) {
	r, ok := p.get(orderID)
	if !ok {
		return Metrics{}, false
	}
	tracker := p.deps.Volume.Tracker(r.order.Symbol)
	participation := tracker.Participation(p.cfg.ParticipationWindow)

	r.mu.Lock()
	defer r.mu.Unlock()
	m := p.baseMetricsLocked(r)
	m.ParticipationRate = participation
	if vs, ok := r.ext.(*povState); ok {
		m.TargetRate = vs.targetRate
	}
	return m, true
}
