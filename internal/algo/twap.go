package algo

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// TWAPConfig tunes the TWAP algorithm.
type TWAPConfig struct {
	Tick            time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	CompletionRatio float64
	Retention       time.Duration
}

// TWAP works an order as N equal slices at evenly spaced target times. Slices
// whose target time has elapsed are dispatched at the current market
// reference; a failing slice retries a bounded number of times with a fixed
// delay and is then marked failed without aborting the order.
type TWAP struct {
	cfg TWAPConfig
	*book
}

// NewTWAP creates the TWAP algorithm instance.
func NewTWAP(cfg TWAPConfig, deps Deps) *TWAP {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.CompletionRatio <= 0 || cfg.CompletionRatio > 1 {
		cfg.CompletionRatio = 0.99
	}
	return &TWAP{cfg: cfg, book: newBook(domain.AlgoTWAP, deps, cfg.Retention)}
}

// Kind implements Algorithm.
func (t *TWAP) Kind() domain.AlgoKind { return domain.AlgoTWAP }

// Start validates the order, eagerly generates the slice schedule, and begins
// the dispatch loop.
func (t *TWAP) Start(ctx context.Context, order domain.Order) error {
	if err := validateTWAP(order); err != nil {
		return err
	}

	now := time.Now()
	n := order.Params.SliceCount
	interval := order.Params.Duration / time.Duration(n)
	per := order.Quantity / float64(n)

	state := &domain.ExecutionState{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Algo:      domain.AlgoTWAP,
		Status:    domain.StatusActive,
		TotalQty:  order.Quantity,
		StartTime: now,
		EndTime:   now.Add(order.Params.Duration),
	}
	var assigned float64
	for i := 0; i < n; i++ {
		sl := getSlice()
		sl.Index = i
		sl.ClientID = clientID(order.ID, domain.AlgoTWAP, i)
		sl.TargetTime = now.Add(time.Duration(i) * interval)
		sl.Status = domain.SlicePending
		if i == n-1 {
			// The last slice absorbs rounding so targets sum exactly.
			sl.TargetQty = order.Quantity - assigned
		} else {
			sl.TargetQty = per
			assigned += per
		}
		state.Slices = append(state.Slices, sl)
	}

	r := &run{order: order, state: state, done: make(chan struct{})}
	if err := t.insert(r); err != nil {
		return err
	}

	go t.runLoop(ctx, r)
	return nil
}

func validateTWAP(order domain.Order) error {
	if order.Quantity <= 0 {
		return fmt.Errorf("twap: quantity %.4f: %w", order.Quantity, domain.ErrInvalidOrder)
	}
	if order.Params.Duration <= 0 {
		return fmt.Errorf("twap: duration %s: %w", order.Params.Duration, domain.ErrInvalidOrder)
	}
	if order.Params.SliceCount <= 0 {
		return fmt.Errorf("twap: slice count %d: %w", order.Params.SliceCount, domain.ErrInvalidOrder)
	}
	return nil
}

// runLoop is the per-order dispatch loop.
func (t *TWAP) runLoop(ctx context.Context, r *run) {
	ticker := time.NewTicker(t.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.finishLocked(domain.StatusFailed)
			r.mu.Unlock()
			t.retire(r)
			return
		case <-r.done:
			t.retire(r)
			return
		case <-ticker.C:
			if t.tick(ctx, r) {
				t.retire(r)
				return
			}
		}
	}
}

// tick dispatches every due slice and checks terminal conditions. It returns
// true once the run is finished.
func (t *TWAP) tick(ctx context.Context, r *run) bool {
	now := time.Now()

	r.mu.Lock()
	if r.state.Status.Terminal() {
		r.mu.Unlock()
		return true
	}
	if r.paused {
		// Expiry still applies while paused.
		if now.After(r.state.EndTime) {
			t.finish(r)
			r.mu.Unlock()
			return true
		}
		r.mu.Unlock()
		return false
	}

	var due []*domain.Slice
	for _, sl := range r.state.Slices {
		if sl.Status == domain.SlicePending && !sl.TargetTime.After(now) {
			sl.Status = domain.SliceExecuting
			sl.Attempts++
			due = append(due, sl)
		}
	}
	r.mu.Unlock()

	for _, sl := range due {
		t.dispatchSlice(ctx, r, sl)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status.Terminal() {
		return true
	}
	if r.state.ExecutedQty >= r.state.TotalQty*t.cfg.CompletionRatio || now.After(r.state.EndTime) {
		t.finish(r)
		return true
	}
	return false
}

// finish resolves the terminal status from filled quantity. Caller holds r.mu.
func (t *TWAP) finish(r *run) {
	if r.state.ExecutedQty >= r.state.TotalQty*t.cfg.CompletionRatio {
		r.finishLocked(domain.StatusCompleted)
		return
	}
	r.finishLocked(domain.StatusExpired)
}

// dispatchSlice routes one slice and resolves its outcome. The slice is
// already marked EXECUTING.
func (t *TWAP) dispatchSlice(ctx context.Context, r *run, sl *domain.Slice) {
	remaining := sl.TargetQty - sl.ExecutedQty
	price, perr := referencePrice(ctx, t.deps.Liquidity, r.order)

	var fill domain.Fill
	err := perr
	if err == nil {
		fill, err = t.deps.Dispatcher.Dispatch(ctx, domain.ClipOrder{
			ClientID:    sl.ClientID,
			ParentID:    r.order.ID,
			Symbol:      r.order.Symbol,
			Side:        r.order.Side,
			Quantity:    remaining,
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
		if sl.Attempts >= t.cfg.MaxRetries {
			sl.Status = domain.SliceFailed
			r.mu.Unlock()
			t.logger.Warn("slice failed after retries",
				slog.String("order_id", r.order.ID),
				slog.Int("slice", sl.Index),
				slog.Int("attempts", sl.Attempts),
				slog.String("error", err.Error()),
			)
			return
		}
		// Fixed-delay retry: back to pending with a pushed-out target time.
		sl.Status = domain.SlicePending
		sl.TargetTime = time.Now().Add(t.cfg.RetryDelay)
		r.mu.Unlock()
		return
	}

	r.state.RecordFill(sl, fill)
	sl.Status = domain.SliceCompleted
	executed := r.state.ExecutedQty
	remainingQty := r.state.RemainingQty()
	r.maybeCloseLocked()
	r.mu.Unlock()

	t.deps.Volume.Tracker(r.order.Symbol).RecordOwn(fill.Quantity, fill.Timestamp)
	t.emit(ctx, domain.Event{
		Type:         domain.EventSliceExecuted,
		OrderID:      r.order.ID,
		Symbol:       r.order.Symbol,
		Algo:         domain.AlgoTWAP,
		SliceIndex:   sl.Index,
		Fill:         &fill,
		ExecutedQty:  executed,
		RemainingQty: remainingQty,
	})
}

// cappedPrice derives the dispatch limit from the market reference, honoring
// the parent order's limit when one is set.
func cappedPrice(order domain.Order, ref float64) float64 {
	if order.LimitPrice <= 0 {
		return ref
	}
	if order.Side == domain.OrderSideBuy {
		if ref < order.LimitPrice {
			return ref
		}
		return order.LimitPrice
	}
	if ref > order.LimitPrice {
		return ref
	}
	return order.LimitPrice
}

// Metrics implements Algorithm.
func (t *TWAP) Metrics(orderID string) (Metrics, bool) {
	r, ok := t.get(orderID)
	if !ok {
		return Metrics{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return t.baseMetricsLocked(r), true
}

// Pause suspends dispatching; already in-flight slices complete on their own.
func (t *TWAP) Pause(orderID string) bool {
	return t.setPaused(orderID, true)
}

// Resume reverses Pause.
func (t *TWAP) Resume(orderID string) bool {
	return t.setPaused(orderID, false)
}

func (t *TWAP) setPaused(orderID string, paused bool) bool {
	r, ok := t.get(orderID)
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
