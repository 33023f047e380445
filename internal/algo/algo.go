// Package algo implements the order slicing algorithms: TWAP, VWAP, POV and
// Iceberg. Each algorithm owns the execution state machine of the orders it
// works; the orchestrator only ever sees cloned state. All per-order mutation
// happens under that order's own lock, so orders never contend with each
// other.
package algo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// Dispatcher routes one clip to a venue and returns the resulting fill. The
// orchestrator implements it; the dispatch timeout and venue selection live
// there, not in the algorithms.
type Dispatcher interface {
	Dispatch(ctx context.Context, clip domain.ClipOrder) (domain.Fill, error)
}

// TickSource resolves the price increment venues quote for a symbol. The
// venue registry implements it; a nil source falls back to configured
// defaults.
type TickSource interface {
	TickSize(symbol string) float64
}

// Deps bundles the collaborators every algorithm needs.
type Deps struct {
	Liquidity  domain.LiquidityProvider
	Dispatcher Dispatcher
	Volume     *VolumeBook
	Ticks      TickSource
	Events     domain.EventSink
	Logger     *slog.Logger
}

// Metrics is the per-order progress view exposed alongside status.
type Metrics struct {
	OrderID           string
	Algo              domain.AlgoKind
	Status            domain.Status
	ExecutedQty       float64
	RemainingQty      float64
	AvgPrice          float64
	SlicesTotal       int
	SlicesCompleted   int
	SlicesFailed      int
	ParticipationRate float64 // POV
	TargetRate        float64 // POV
	TrackingErrorBps  float64 // VWAP
	DetectionRisk     float64 // Iceberg
	Elapsed           time.Duration
}

// Algorithm is the contract shared by all slicing algorithms.
type Algorithm interface {
	Kind() domain.AlgoKind
	// Start validates the order and, when accepted, begins working it in the
	// background. Validation failures return ErrInvalidOrder before any state
	// is created.
	Start(ctx context.Context, order domain.Order) error
	Status(orderID string) (domain.ExecutionState, bool)
	Metrics(orderID string) (Metrics, bool)
	// Cancel requests cancellation. It returns false when the order is
	// unknown or already terminal.
	Cancel(orderID string) bool
	// Done exposes a channel closed when the order reaches a terminal state.
	Done(orderID string) (<-chan struct{}, bool)
}

// PauseResumer is implemented by algorithms that support pausing (TWAP and
// Iceberg).
type PauseResumer interface {
	Pause(orderID string) bool
	Resume(orderID string) bool
}

// run is the mutable execution context of one working order. All fields
// behind mu follow the single-writer-per-order discipline: only this order's
// own loops mutate them, always under the lock.
type run struct {
	mu     sync.Mutex
	order  domain.Order
	state  *domain.ExecutionState
	paused bool
	done   chan struct{}
	closed bool
	ext    any // algorithm-specific state
}

// finishLocked moves the run to a terminal status exactly once. The done
// channel only closes once no slice is still in flight, so a result is never
// assembled while a dispatched slice's outcome is unresolved. Caller holds
// r.mu.
func (r *run) finishLocked(status domain.Status) bool {
	if r.state.Status.Terminal() {
		return false
	}
	r.state.Status = status
	r.state.FinishedAt = time.Now()
	r.maybeCloseLocked()
	return true
}

// maybeCloseLocked closes done when the run is terminal and nothing is in
// flight. The dispatch path calls this after resolving an in-flight slice.
// Caller holds r.mu.
func (r *run) maybeCloseLocked() {
	if r.closed || !r.state.Status.Terminal() {
		return
	}
	for _, sl := range r.state.Slices {
		if sl.Status == domain.SliceExecuting {
			return
		}
	}
	r.closed = true
	close(r.done)
}

// book tracks the live and recently finished runs of one algorithm instance.
type book struct {
	kind      domain.AlgoKind
	deps      Deps
	logger    *slog.Logger
	retention time.Duration

	mu   sync.RWMutex
	runs map[string]*run
}

func newBook(kind domain.AlgoKind, deps Deps, retention time.Duration) *book {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &book{
		kind:      kind,
		deps:      deps,
		logger:    deps.Logger.With(slog.String("component", string(kind)+"_algo")),
		retention: retention,
		runs:      make(map[string]*run),
	}
}

// insert registers a new run, rejecting duplicate order ids.
func (b *book) insert(r *run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.runs[r.order.ID]; ok {
		return fmt.Errorf("algo: order %s: %w", r.order.ID, domain.ErrAlreadyExists)
	}
	b.runs[r.order.ID] = r
	return nil
}

func (b *book) get(orderID string) (*run, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.runs[orderID]
	return r, ok
}

// retire schedules the run's removal after the retention window so status
// stays queryable for a while, then releases its slices back to the pool.
func (b *book) retire(r *run) {
	time.AfterFunc(b.retention, func() {
		b.mu.Lock()
		delete(b.runs, r.order.ID)
		b.mu.Unlock()

		r.mu.Lock()
		slices := r.state.Slices
		r.state.Slices = nil
		r.mu.Unlock()
		for _, sl := range slices {
			putSlice(sl)
		}
	})
}

// Status returns a deep copy of the order's execution state.
func (b *book) Status(orderID string) (domain.ExecutionState, bool) {
	r, ok := b.get(orderID)
	if !ok {
		return domain.ExecutionState{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone(), true
}

// Done returns the terminal-state channel for the order.
func (b *book) Done(orderID string) (<-chan struct{}, bool) {
	r, ok := b.get(orderID)
	if !ok {
		return nil, false
	}
	return r.done, true
}

// Cancel flips the order to CANCELLED. Pending slices are cancelled; a slice
// already dispatched completes or fails on its own and is accounted for by
// the dispatching loop. Calling Cancel on a terminal order returns false and
// changes nothing.
func (b *book) Cancel(orderID string) bool {
	r, ok := b.get(orderID)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status.Terminal() {
		return false
	}
	for _, sl := range r.state.Slices {
		if sl.Status == domain.SlicePending {
			sl.Status = domain.SliceCancelled
		}
	}
	return r.finishLocked(domain.StatusCancelled)
}

// baseMetrics fills the algorithm-independent metric fields. Caller holds
// r.mu.
func (b *book) baseMetricsLocked(r *run) Metrics {
	st := r.state
	m := Metrics{
		OrderID:      st.OrderID,
		Algo:         b.kind,
		Status:       st.Status,
		ExecutedQty:  st.ExecutedQty,
		RemainingQty: st.RemainingQty(),
		AvgPrice:     st.AvgFillPrice(),
		SlicesTotal:  len(st.Slices),
		Elapsed:      time.Since(st.StartTime),
	}
	for _, sl := range st.Slices {
		switch sl.Status {
		case domain.SliceCompleted:
			m.SlicesCompleted++
		case domain.SliceFailed:
			m.SlicesFailed++
		}
	}
	return m
}

// emit publishes an event, logging and continuing on sink failure so a slow
// or broken sink never stalls an execution loop.
func (b *book) emit(ctx context.Context, ev domain.Event) {
	ev.Timestamp = time.Now()
	if err := b.deps.Events.Publish(ctx, ev); err != nil {
		b.logger.Warn("event publish failed",
			slog.String("event", string(ev.Type)),
			slog.String("order_id", ev.OrderID),
			slog.String("error", err.Error()),
		)
	}
}

// clientID derives the idempotent venue-facing id for a slice.
func clientID(parentID string, kind domain.AlgoKind, index int) string {
	return fmt.Sprintf("%s-%s-%d", parentID, kind, index)
}

// referencePrice pulls the current mid from the liquidity provider, falling
// back to the order's limit price when market data is unavailable.
func referencePrice(ctx context.Context, liq domain.LiquidityProvider, order domain.Order) (float64, error) {
	snap, err := liq.GetAggregatedLiquidity(ctx, order.Symbol)
	if err != nil && snap.MidPrice == 0 {
		if order.LimitPrice > 0 {
			return order.LimitPrice, nil
		}
		return 0, err
	}
	if snap.MidPrice > 0 {
		return snap.MidPrice, nil
	}
	if order.LimitPrice > 0 {
		return order.LimitPrice, nil
	}
	return 0, fmt.Errorf("algo: no reference price for %s", order.Symbol)
}
