package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/execengine/internal/algo"
	"github.com/alanyoungcy/execengine/internal/domain"
)

// Engine is the narrow orchestrator surface the HTTP layer needs.
type Engine interface {
	ExecuteOrder(ctx context.Context, order domain.Order) (domain.ExecutionResult, error)
	CancelOrder(orderID string) bool
	PauseOrder(orderID string) bool
	ResumeOrder(orderID string) bool
	GetStatus(orderID string) (domain.ExecutionState, bool)
	GetMetrics(orderID string) (algo.Metrics, bool)
	GetResult(orderID string) (domain.ExecutionResult, bool)
	GetPlan(orderID string) (domain.ExecutionPlan, bool)
}

// ExecutionHandler exposes order execution over HTTP. Submissions are
// asynchronous: the order is accepted (or rejected synchronously on
// validation/routing failure) and worked in the background; callers poll
// status or subscribe to the event bus.
type ExecutionHandler struct {
	engine  Engine
	baseCtx context.Context
	logger  *slog.Logger
}

// NewExecutionHandler creates the handler. baseCtx bounds background
// executions to the application lifecycle.
func NewExecutionHandler(engine Engine, baseCtx context.Context, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		engine:  engine,
		baseCtx: baseCtx,
		logger:  logger.With(slog.String("component", "execution_handler")),
	}
}

// executeRequest is the POST /api/executions payload.
type executeRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Quantity    float64 `json:"quantity"`
	Kind        string  `json:"kind"`
	TimeInForce string  `json:"time_in_force"`
	Urgency     string  `json:"urgency"`
	LimitPrice  float64 `json:"limit_price"`
	Algo        string  `json:"algo"`
	Params      struct {
		Duration            string  `json:"duration"`
		SliceCount          int     `json:"slice_count"`
		TargetParticipation float64 `json:"target_participation"`
		MaxParticipation    float64 `json:"max_participation"`
		VisibleQuantity     float64 `json:"visible_quantity"`
		Variance            float64 `json:"variance"`
	} `json:"params"`
}

// Execute accepts an order and starts working it in the background.
// POST /api/executions
func (h *ExecutionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order, err := req.toOrder()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Surface validation and routing failures synchronously: give the
	// engine a moment to reject before reporting the order accepted.
	accepted := make(chan error, 1)
	go func() {
		_, err := h.engine.ExecuteOrder(h.baseCtx, order)
		select {
		case accepted <- err:
		default:
		}
	}()

	select {
	case err := <-accepted:
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, domain.ErrInvalidOrder):
				status = http.StatusBadRequest
			case errors.Is(err, domain.ErrNoEligibleVenue):
				status = http.StatusConflict
			}
			writeError(w, status, err.Error())
			return
		}
		// Fast order: already terminal.
	case <-time.After(250 * time.Millisecond):
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"order_id": order.ID})
}

func (req executeRequest) toOrder() (domain.Order, error) {
	order := domain.Order{
		ID:          uuid.NewString(),
		Symbol:      req.Symbol,
		Side:        domain.OrderSide(req.Side),
		Quantity:    req.Quantity,
		Kind:        domain.OrderKind(req.Kind),
		TimeInForce: domain.TimeInForce(req.TimeInForce),
		Urgency:     domain.Urgency(req.Urgency),
		LimitPrice:  req.LimitPrice,
		Algo:        domain.AlgoKind(req.Algo),
		Params: domain.AlgoParams{
			SliceCount:          req.Params.SliceCount,
			TargetParticipation: req.Params.TargetParticipation,
			MaxParticipation:    req.Params.MaxParticipation,
			VisibleQuantity:     req.Params.VisibleQuantity,
			Variance:            req.Params.Variance,
		},
	}
	if req.Params.Duration != "" {
		d, err := time.ParseDuration(req.Params.Duration)
		if err != nil {
			return domain.Order{}, errors.New("invalid params.duration")
		}
		order.Params.Duration = d
	}
	if order.Symbol == "" {
		return domain.Order{}, errors.New("symbol is required")
	}
	if order.Quantity <= 0 {
		return domain.Order{}, errors.New("quantity must be positive")
	}
	return order, nil
}

// Status returns the live execution state of a working order.
// GET /api/executions/{id}
func (h *ExecutionHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if state, ok := h.engine.GetStatus(id); ok {
		writeJSON(w, http.StatusOK, state)
		return
	}
	if result, ok := h.engine.GetResult(id); ok {
		writeJSON(w, http.StatusOK, result)
		return
	}
	writeError(w, http.StatusNotFound, "order not found")
}

// Metrics returns the live algorithm metrics of a working order.
// GET /api/executions/{id}/metrics
func (h *ExecutionHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := h.engine.GetMetrics(id)
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Plan returns the frozen execution plan of a working order.
// GET /api/executions/{id}/plan
func (h *ExecutionHandler) Plan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	plan, ok := h.engine.GetPlan(id)
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// Cancel requests cooperative cancellation.
// DELETE /api/executions/{id}
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.engine.CancelOrder(id) {
		writeError(w, http.StatusConflict, "order not found or already terminal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": "cancelling"})
}

// Pause suspends dispatching for algorithms that support it.
// POST /api/executions/{id}/pause
func (h *ExecutionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.engine.PauseOrder(id) {
		writeError(w, http.StatusConflict, "order cannot be paused")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": "paused"})
}

// Resume reverses Pause.
// POST /api/executions/{id}/resume
func (h *ExecutionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.engine.ResumeOrder(id) {
		writeError(w, http.StatusConflict, "order cannot be resumed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": "active"})
}
