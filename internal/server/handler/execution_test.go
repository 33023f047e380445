package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execengine/internal/algo"
	"github.com/alanyoungcy/execengine/internal/domain"
)

// fakeEngine records calls and serves canned state for one known order id.
type fakeEngine struct {
	knownID  string
	execErr  error
	executed []domain.Order
	canceled []string
}

func (f *fakeEngine) ExecuteOrder(_ context.Context, order domain.Order) (domain.ExecutionResult, error) {
	f.executed = append(f.executed, order)
	if f.execErr != nil {
		return domain.ExecutionResult{}, f.execErr
	}
	return domain.ExecutionResult{OrderID: order.ID, Status: domain.StatusCompleted}, nil
}

func (f *fakeEngine) CancelOrder(orderID string) bool {
	f.canceled = append(f.canceled, orderID)
	return orderID == f.knownID
}

func (f *fakeEngine) PauseOrder(orderID string) bool  { return orderID == f.knownID }
func (f *fakeEngine) ResumeOrder(orderID string) bool { return orderID == f.knownID }

func (f *fakeEngine) GetStatus(orderID string) (domain.ExecutionState, bool) {
	if orderID != f.knownID {
		return domain.ExecutionState{}, false
	}
	return domain.ExecutionState{OrderID: orderID, Symbol: "ETH-USD", Status: domain.StatusActive}, true
}

func (f *fakeEngine) GetMetrics(orderID string) (algo.Metrics, bool) {
	return algo.Metrics{ExecutedQty: 25}, orderID == f.knownID
}

func (f *fakeEngine) GetResult(orderID string) (domain.ExecutionResult, bool) {
	return domain.ExecutionResult{}, false
}

func (f *fakeEngine) GetPlan(orderID string) (domain.ExecutionPlan, bool) {
	if orderID != f.knownID {
		return domain.ExecutionPlan{}, false
	}
	return domain.ExecutionPlan{OrderID: orderID, Routes: []domain.Route{{Venue: "alpha", Allocation: 1}}}, true
}

func newTestMux(engine Engine) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewExecutionHandler(engine, context.Background(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/executions", h.Execute)
	mux.HandleFunc("GET /api/executions/{id}", h.Status)
	mux.HandleFunc("GET /api/executions/{id}/metrics", h.Metrics)
	mux.HandleFunc("GET /api/executions/{id}/plan", h.Plan)
	mux.HandleFunc("DELETE /api/executions/{id}", h.Cancel)
	mux.HandleFunc("POST /api/executions/{id}/pause", h.Pause)
	mux.HandleFunc("POST /api/executions/{id}/resume", h.Resume)
	return mux
}

func doRequest(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestExecuteAcceptsOrder(t *testing.T) {
	engine := &fakeEngine{}
	mux := newTestMux(engine)

	rec := doRequest(mux, http.MethodPost, "/api/executions", `{
		"symbol": "ETH-USD", "side": "buy", "quantity": 50,
		"algo": "twap", "params": {"duration": "5m", "slice_count": 10}
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["order_id"])

	require.Len(t, engine.executed, 1)
	order := engine.executed[0]
	assert.Equal(t, "ETH-USD", order.Symbol)
	assert.Equal(t, domain.OrderSideBuy, order.Side)
	assert.Equal(t, domain.AlgoTWAP, order.Algo)
	assert.Equal(t, 10, order.Params.SliceCount)
	assert.Equal(t, "5m0s", order.Params.Duration.String())
}

func TestExecuteRejectsBadPayloads(t *testing.T) {
	mux := newTestMux(&fakeEngine{})

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"symbol":`},
		{"missing symbol", `{"side": "buy", "quantity": 1, "algo": "twap"}`},
		{"zero quantity", `{"symbol": "ETH-USD", "side": "buy", "quantity": 0, "algo": "twap"}`},
		{"bad duration", `{"symbol": "ETH-USD", "side": "buy", "quantity": 1, "algo": "twap", "params": {"duration": "whenever"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(mux, http.MethodPost, "/api/executions", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestExecuteSurfacesSynchronousFailures(t *testing.T) {
	t.Run("invalid order", func(t *testing.T) {
		mux := newTestMux(&fakeEngine{execErr: domain.ErrInvalidOrder})
		rec := doRequest(mux, http.MethodPost, "/api/executions",
			`{"symbol": "ETH-USD", "side": "buy", "quantity": 1, "algo": "sniper"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("no eligible venue", func(t *testing.T) {
		mux := newTestMux(&fakeEngine{execErr: domain.ErrNoEligibleVenue})
		rec := doRequest(mux, http.MethodPost, "/api/executions",
			`{"symbol": "ETH-USD", "side": "buy", "quantity": 1, "algo": "twap"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestStatusKnownAndUnknown(t *testing.T) {
	mux := newTestMux(&fakeEngine{knownID: "ord-1"})

	rec := doRequest(mux, http.MethodGet, "/api/executions/ord-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state domain.ExecutionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, domain.StatusActive, state.Status)

	rec = doRequest(mux, http.MethodGet, "/api/executions/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndPlan(t *testing.T) {
	mux := newTestMux(&fakeEngine{knownID: "ord-1"})

	rec := doRequest(mux, http.MethodGet, "/api/executions/ord-1/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var m algo.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 25.0, m.ExecutedQty)

	rec = doRequest(mux, http.MethodGet, "/api/executions/ord-1/plan", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var plan domain.ExecutionPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Len(t, plan.Routes, 1)
	assert.Equal(t, "alpha", plan.Routes[0].Venue)

	rec = doRequest(mux, http.MethodGet, "/api/executions/ghost/plan", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	engine := &fakeEngine{knownID: "ord-1"}
	mux := newTestMux(engine)

	rec := doRequest(mux, http.MethodDelete, "/api/executions/ord-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ord-1"}, engine.canceled)

	rec = doRequest(mux, http.MethodDelete, "/api/executions/ghost", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(mux, http.MethodPost, "/api/executions/ord-1/pause", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(mux, http.MethodPost, "/api/executions/ord-1/resume", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(mux, http.MethodPost, "/api/executions/ghost/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
