package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/execengine/internal/algo"
	"github.com/alanyoungcy/execengine/internal/cost"
	"github.com/alanyoungcy/execengine/internal/domain"
	"github.com/alanyoungcy/execengine/internal/latency"
	"github.com/alanyoungcy/execengine/internal/scoring"
	"github.com/alanyoungcy/execengine/internal/venue"
)

// Config tunes order-level orchestration.
type Config struct {
	DispatchTimeout  time.Duration
	DefaultTimeout   time.Duration // wait margin beyond the order's own horizon
	ResultRetention  time.Duration
	SnapshotInterval time.Duration
}

// Deps bundles the orchestrator's collaborators. Store, Archiver and
// Snapshots are optional; a nil value disables that concern.
type Deps struct {
	Venues    *venue.Registry
	Scorer    *scoring.Scorer
	Costs     *cost.Model
	Latency   *latency.Service
	Liquidity domain.LiquidityProvider
	Events    domain.EventSink
	Store     domain.ResultStore
	Archiver  domain.ResultArchiver
	Snapshots domain.OrderSnapshotter
	Logger    *slog.Logger
}

// working is the orchestrator-side context of one in-flight order.
type working struct {
	order domain.Order
	plan  *domain.ExecutionPlan
	algo  algo.Algorithm

	mu         sync.Mutex
	dispatched map[string]float64 // per-venue routed quantity
	arrival    float64
}

// Orchestrator accepts orders, builds execution plans, hands them to the
// selected slicing algorithm, serves as the algorithms' venue dispatcher, and
// assembles the final result once the order reaches a terminal state.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	algos map[domain.AlgoKind]algo.Algorithm

	mu      sync.RWMutex
	active  map[string]*working
	results map[string]domain.ExecutionResult
	baseCtx context.Context
}

// New creates the orchestrator. Algorithms register themselves afterwards via
// RegisterAlgorithm, which lets them take the orchestrator as their
// Dispatcher first.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 5 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.ResultRetention <= 0 {
		cfg.ResultRetention = 30 * time.Minute
	}
	if deps.Events == nil {
		deps.Events = domain.NopSink{}
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.With(slog.String("component", "orchestrator")),
		algos:   make(map[domain.AlgoKind]algo.Algorithm),
		active:  make(map[string]*working),
		results: make(map[string]domain.ExecutionResult),
		baseCtx: context.Background(),
	}
}

// RegisterAlgorithm wires one slicing algorithm into the orchestrator.
func (o *Orchestrator) RegisterAlgorithm(a algo.Algorithm) {
	o.algos[a.Kind()] = a
}

// Run owns the orchestrator's background work: the lifecycle context handed
// to algorithm loops and the periodic active-order snapshot.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()

	if o.deps.Snapshots == nil || o.cfg.SnapshotInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(o.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ids := o.ActiveOrderIDs()
			if err := o.deps.Snapshots.SnapshotActive(ctx, ids, 2*o.cfg.SnapshotInterval); err != nil {
				o.logger.Warn("active order snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (o *Orchestrator) lifecycle() context.Context {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.baseCtx
}

// ActiveOrderIDs lists the ids of orders currently being worked.
func (o *Orchestrator) ActiveOrderIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExecuteOrder plans, executes, and waits out one order, returning exactly
// one result whatever quantity actually filled. The wait is bounded by the
// order's own horizon plus a margin; past it the order is cancelled and the
// partial result returned.
func (o *Orchestrator) ExecuteOrder(ctx context.Context, order domain.Order) (domain.ExecutionResult, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.SubmittedAt = time.Now()

	a, ok := o.algos[order.Algo]
	if !ok {
		return domain.ExecutionResult{}, fmt.Errorf("orchestrator: algorithm %q: %w", order.Algo, domain.ErrInvalidOrder)
	}

	plan, arrival, err := o.buildPlan(ctx, order)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	w := &working{
		order:      order,
		plan:       plan,
		algo:       a,
		dispatched: make(map[string]float64, len(plan.Routes)),
		arrival:    arrival,
	}
	o.mu.Lock()
	base := o.baseCtx
	o.active[order.ID] = w
	o.mu.Unlock()

	if err := a.Start(base, order); err != nil {
		o.mu.Lock()
		delete(o.active, order.ID)
		o.mu.Unlock()
		return domain.ExecutionResult{}, err
	}

	o.publish(ctx, domain.Event{
		Type:         domain.EventExecutionStarted,
		OrderID:      order.ID,
		Symbol:       order.Symbol,
		Algo:         order.Algo,
		RemainingQty: order.Quantity,
	})
	o.logger.Info("execution started",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.String("algo", string(order.Algo)),
		slog.Float64("quantity", order.Quantity),
		slog.String("rationale", plan.Rationale),
	)

	done, _ := a.Done(order.ID)
	horizon := order.Params.Duration
	if horizon <= 0 {
		horizon = 24 * time.Hour
	}
	deadline := horizon + o.cfg.DefaultTimeout
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		a.Cancel(order.ID)
		<-done
	case <-ctx.Done():
		a.Cancel(order.ID)
		<-done
	}

	return o.finalize(order.ID)
}

// buildPlan selects venues through the scorer, estimates cost and latency,
// and freezes the plan. Routing failure is surfaced before any execution
// state exists.
func (o *Orchestrator) buildPlan(ctx context.Context, order domain.Order) (*domain.ExecutionPlan, float64, error) {
	var arrival float64
	if snap, err := o.deps.Liquidity.GetAggregatedLiquidity(ctx, order.Symbol); err == nil || snap.MidPrice > 0 {
		arrival = snap.MidPrice
	}
	if arrival == 0 {
		arrival = order.LimitPrice
	}

	rec, err := o.deps.Scorer.GetRecommendations(scoring.Criteria{Order: order})
	if err != nil {
		return nil, 0, fmt.Errorf("orchestrator: routing order %s: %w", order.ID, err)
	}

	routes := make([]domain.Route, 0, len(rec.Allocations))
	var expectedLatency time.Duration
	for _, al := range rec.Allocations {
		routes = append(routes, domain.Route{
			Venue:      al.Venue,
			Allocation: al.Fraction,
			Quantity:   al.Quantity,
			Score:      al.Score,
		})
		if p := o.deps.Latency.PredictLatency(al.Venue, time.Now()); p > expectedLatency {
			expectedLatency = p
		}
	}

	estimate := o.deps.Costs.EstimateCost(routes, order, arrival, order.Params.Duration)
	return &domain.ExecutionPlan{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		Algo:            order.Algo,
		Routes:          routes,
		ExpectedCost:    estimate,
		ExpectedLatency: expectedLatency,
		Rationale:       rec.Rationale,
		CreatedAt:       time.Now(),
	}, arrival, nil
}

// Dispatch implements algo.Dispatcher: it picks the planned venue with the
// largest unmet allocation, enforces its rate limit, and places the clip with
// a bounded timeout. Every outcome feeds the latency service and the scorer.
func (o *Orchestrator) Dispatch(ctx context.Context, clip domain.ClipOrder) (domain.Fill, error) {
	o.mu.RLock()
	w := o.active[clip.ParentID]
	o.mu.RUnlock()

	name, err := o.pickVenue(w, clip)
	if err != nil {
		return domain.Fill{}, err
	}
	adapter, err := o.deps.Venues.Get(name)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("orchestrator: venue %s: %w", name, domain.ErrNoEligibleVenue)
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
	defer cancel()

	start := time.Now()
	fill, err := adapter.PlaceOrder(cctx, clip)
	rtt := time.Since(start)

	o.deps.Latency.Record(name, rtt, err == nil)
	o.deps.Scorer.RecordDispatch(name, clip.Quantity, fill.Quantity, err == nil)

	if err != nil {
		return domain.Fill{}, fmt.Errorf("orchestrator: clip %s via %s: %v: %w", clip.ClientID, name, err, domain.ErrSliceDispatchFailed)
	}
	if w != nil {
		w.mu.Lock()
		w.dispatched[name] += fill.Quantity
		w.mu.Unlock()
	}
	return fill, nil
}

// pickVenue chooses the route furthest behind its planned allocation whose
// rate limit has headroom.
func (o *Orchestrator) pickVenue(w *working, clip domain.ClipOrder) (string, error) {
	if w == nil || len(w.plan.Routes) == 0 {
		// Unplanned dispatch: fall back to any registered venue with limit
		// headroom.
		for _, name := range o.deps.Venues.Names() {
			if o.deps.Latency.Allow(name) {
				return name, nil
			}
		}
		return "", fmt.Errorf("orchestrator: clip %s: %w", clip.ClientID, domain.ErrRateLimited)
	}

	w.mu.Lock()
	type gap struct {
		name string
		lag  float64
	}
	gaps := make([]gap, 0, len(w.plan.Routes))
	for _, rt := range w.plan.Routes {
		gaps = append(gaps, gap{rt.Venue, rt.Quantity - w.dispatched[rt.Venue]})
	}
	w.mu.Unlock()
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].lag > gaps[j].lag })

	for _, g := range gaps {
		if o.deps.Latency.Allow(g.name) {
			return g.name, nil
		}
	}
	return "", fmt.Errorf("orchestrator: clip %s: all planned venues throttled: %w", clip.ClientID, domain.ErrRateLimited)
}

// CancelOrder requests cooperative cancellation. It returns false when the
// order is unknown or already terminal, and is safe to call concurrently with
// an in-flight dispatch.
func (o *Orchestrator) CancelOrder(orderID string) bool {
	o.mu.RLock()
	w := o.active[orderID]
	o.mu.RUnlock()
	if w == nil {
		return false
	}
	return w.algo.Cancel(orderID)
}

// PauseOrder pauses dispatching for algorithms that support it.
func (o *Orchestrator) PauseOrder(orderID string) bool {
	if pr := o.pauseResumer(orderID); pr != nil {
		return pr.Pause(orderID)
	}
	return false
}

// ResumeOrder reverses PauseOrder.
func (o *Orchestrator) ResumeOrder(orderID string) bool {
	if pr := o.pauseResumer(orderID); pr != nil {
		return pr.Resume(orderID)
	}
	return false
}

func (o *Orchestrator) pauseResumer(orderID string) algo.PauseResumer {
	o.mu.RLock()
	w := o.active[orderID]
	o.mu.RUnlock()
	if w == nil {
		return nil
	}
	pr, ok := w.algo.(algo.PauseResumer)
	if !ok {
		return nil
	}
	return pr
}

// GetStatus returns a read-only view of a working order's state.
func (o *Orchestrator) GetStatus(orderID string) (domain.ExecutionState, bool) {
	o.mu.RLock()
	w := o.active[orderID]
	o.mu.RUnlock()
	if w == nil {
		return domain.ExecutionState{}, false
	}
	return w.algo.Status(orderID)
}

// GetMetrics returns the live metrics of a working order.
func (o *Orchestrator) GetMetrics(orderID string) (algo.Metrics, bool) {
	o.mu.RLock()
	w := o.active[orderID]
	o.mu.RUnlock()
	if w == nil {
		return algo.Metrics{}, false
	}
	return w.algo.Metrics(orderID)
}

// GetResult returns a finished order's retained result.
func (o *Orchestrator) GetResult(orderID string) (domain.ExecutionResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res, ok := o.results[orderID]
	return res, ok
}

// GetPlan returns the frozen plan of a working order.
func (o *Orchestrator) GetPlan(orderID string) (domain.ExecutionPlan, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	w := o.active[orderID]
	if w == nil {
		return domain.ExecutionPlan{}, false
	}
	return *w.plan, true
}

// finalize assembles the result from the terminal execution state, retains it
// for query, persists and archives it best-effort, and emits the terminal
// event.
func (o *Orchestrator) finalize(orderID string) (domain.ExecutionResult, error) {
	o.mu.Lock()
	w := o.active[orderID]
	delete(o.active, orderID)
	o.mu.Unlock()
	if w == nil {
		return domain.ExecutionResult{}, fmt.Errorf("orchestrator: order %s: %w", orderID, domain.ErrNotFound)
	}

	state, ok := w.algo.Status(orderID)
	if !ok {
		return domain.ExecutionResult{}, fmt.Errorf("orchestrator: order %s state: %w", orderID, domain.ErrNotFound)
	}
	result := o.assembleResult(w, state)

	o.mu.Lock()
	o.results[orderID] = result
	o.mu.Unlock()
	time.AfterFunc(o.cfg.ResultRetention, func() {
		o.mu.Lock()
		delete(o.results, orderID)
		o.mu.Unlock()
	})

	ctx := o.lifecycle()
	o.publish(ctx, domain.Event{
		Type:         terminalEvent(result.Status),
		OrderID:      orderID,
		Symbol:       result.Symbol,
		Algo:         result.Algo,
		ExecutedQty:  result.TotalQuantity,
		RemainingQty: result.RequestedQty - result.TotalQuantity,
		Result:       &result,
	})
	o.persist(ctx, result)

	o.logger.Info("execution finished",
		slog.String("order_id", orderID),
		slog.String("status", string(result.Status)),
		slog.Float64("filled", result.TotalQuantity),
		slog.Float64("avg_price", result.AvgPrice),
		slog.Float64("slippage_bps", result.SlippageBps),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// assembleResult computes the final figures from accumulated fills.
func (o *Orchestrator) assembleResult(w *working, state domain.ExecutionState) domain.ExecutionResult {
	result := domain.ExecutionResult{
		OrderID:      state.OrderID,
		PlanID:       w.plan.ID,
		Symbol:       state.Symbol,
		Side:         state.Side,
		Algo:         state.Algo,
		Status:       state.Status,
		RequestedQty: state.TotalQty,
		ArrivalPrice: w.arrival,
		Fills:        state.Fills,
		StartedAt:    state.StartTime,
		FinishedAt:   state.FinishedAt,
	}
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	byVenue := make(map[string]*domain.VenueBreakdown)
	var notional float64
	for _, f := range state.Fills {
		result.TotalQuantity += f.Quantity
		result.TotalFees += f.Fee
		notional += f.Price * f.Quantity
		vb := byVenue[f.Venue]
		if vb == nil {
			vb = &domain.VenueBreakdown{Venue: f.Venue}
			byVenue[f.Venue] = vb
		}
		vb.Quantity += f.Quantity
		vb.Fees += f.Fee
		vb.AvgPrice += f.Price * f.Quantity
		vb.Fills++
	}
	if result.TotalQuantity > 0 {
		result.AvgPrice = notional / result.TotalQuantity
	}
	names := make([]string, 0, len(byVenue))
	for name := range byVenue {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		vb := byVenue[name]
		if vb.Quantity > 0 {
			vb.AvgPrice /= vb.Quantity
		}
		result.Venues = append(result.Venues, *vb)
	}

	if w.arrival > 0 && result.AvgPrice > 0 {
		slip := (result.AvgPrice - w.arrival) / w.arrival * 1e4
		if result.Side == domain.OrderSideSell {
			slip = -slip
		}
		result.SlippageBps = slip
	}
	if snap, err := o.deps.Liquidity.GetAggregatedLiquidity(o.lifecycle(), state.Symbol); err == nil && snap.MidPrice > 0 && w.arrival > 0 {
		impact := (snap.MidPrice - w.arrival) / w.arrival * 1e4
		if result.Side == domain.OrderSideSell {
			impact = -impact
		}
		result.MarketImpactBps = impact
	}
	return result
}

// persist saves and archives the result best-effort; failures are logged,
// never surfaced to the caller.
func (o *Orchestrator) persist(ctx context.Context, result domain.ExecutionResult) {
	if o.deps.Store != nil {
		if err := o.deps.Store.SaveResult(ctx, result); err != nil {
			o.logger.Warn("result save failed",
				slog.String("order_id", result.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	if o.deps.Archiver != nil {
		if err := o.deps.Archiver.ArchiveResult(ctx, result); err != nil {
			o.logger.Warn("result archive failed",
				slog.String("order_id", result.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev domain.Event) {
	ev.Timestamp = time.Now()
	if err := o.deps.Events.Publish(ctx, ev); err != nil {
		o.logger.Warn("event publish failed",
			slog.String("event", string(ev.Type)),
			slog.String("order_id", ev.OrderID),
			slog.String("error", err.Error()),
		)
	}
}

// terminalEvent maps a terminal status to its lifecycle event type.
func terminalEvent(status domain.Status) domain.EventType {
	switch status {
	case domain.StatusCancelled:
		return domain.EventExecutionCancelled
	case domain.StatusExpired:
		return domain.EventExecutionTimeout
	default:
		return domain.EventExecutionCompleted
	}
}
