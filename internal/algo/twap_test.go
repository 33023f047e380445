package algo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execengine/internal/domain"
)

func TestTWAPValidation(t *testing.T) {
	tw := NewTWAP(TWAPConfig{}, testDeps(stubLiquidity{mid: 100}, &fakeDispatcher{}))
	base := domain.Order{
		ID:       "v",
		Symbol:   "ETH-USD",
		Side:     domain.OrderSideBuy,
		Quantity: 10,
		Algo:     domain.AlgoTWAP,
		Params:   domain.AlgoParams{Duration: time.Minute, SliceCount: 4},
	}

	tests := []struct {
		name   string
		mutate func(*domain.Order)
	}{
		{"zero quantity", func(o *domain.Order) { o.Quantity = 0 }},
		{"negative quantity", func(o *domain.Order) { o.Quantity = -5 }},
		{"zero duration", func(o *domain.Order) { o.Params.Duration = 0 }},
		{"zero slice count", func(o *domain.Order) { o.Params.SliceCount = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := base
			tt.mutate(&order)
			err := tw.Start(context.Background(), order)
			require.ErrorIs(t, err, domain.ErrInvalidOrder)
		})
	}
}

func TestTWAPSliceTargetsSumExactly(t *testing.T) {
	tw := NewTWAP(TWAPConfig{Tick: time.Second}, testDeps(stubLiquidity{mid: 100}, &fakeDispatcher{}))
	order := domain.Order{
		ID:       "sum-1",
		Symbol:   "ETH-USD",
		Side:     domain.OrderSideBuy,
		Quantity: 10,
		Algo:     domain.AlgoTWAP,
		Params:   domain.AlgoParams{Duration: time.Hour, SliceCount: 3},
	}
	require.NoError(t, tw.Start(context.Background(), order))
	defer tw.Cancel(order.ID)

	st, ok := tw.Status(order.ID)
	require.True(t, ok)
	require.Len(t, st.Slices, 3)

	var sum float64
	for _, sl := range st.Slices {
		sum += sl.TargetQty
	}
	assert.Equal(t, 10.0, sum, "last slice must absorb rounding")
	assert.Equal(t, domain.StatusActive, st.Status)
	assert.Equal(t, 10.0, st.TotalQty)
}

func TestTWAPCompletesAllSlices(t *testing.T) {
	disp := &fakeDispatcher{}
	tw := NewTWAP(TWAPConfig{Tick: 20 * time.Millisecond}, testDeps(stubLiquidity{mid: 100}, disp))
	order := domain.Order{
		ID:       "run-1",
		Symbol:   "ETH-USD",
		Side:     domain.OrderSideBuy,
		Quantity: 100,
		Kind:     domain.OrderKindMarket,
		Algo:     domain.AlgoTWAP,
		Params:   domain.AlgoParams{Duration: 200 * time.Millisecond, SliceCount: 4},
	}
	require.NoError(t, tw.Start(context.Background(), order))
	waitDone(t, tw, order.ID, 3*time.Second)

	st, ok := tw.Status(order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, st.Status)
	assert.InDelta(t, 100.0, st.ExecutedQty, 1e-9)
	assert.False(t, st.FinishedAt.IsZero())

	clips := disp.dispatched()
	require.Len(t, clips, 4)
	for _, clip := range clips {
		assert.Equal(t, order.ID, clip.ParentID)
		assert.Equal(t, 25.0, clip.Quantity)
		assert.Equal(t, 100.0, clip.LimitPrice, "market order dispatches at reference")
	}

	m, ok := tw.Metrics(order.ID)
	require.True(t, ok)
	assert.Equal(t, 4, m.SlicesCompleted)
	assert.Equal(t, 0, m.SlicesFailed)
	assert.InDelta(t, 100.0, m.AvgPrice, 1e-9)
}

func TestTWAPExpiresWhenDispatchKeepsFailing(t *testing.T) {
	disp := &fakeDispatcher{failAll: true}
	tw := NewTWAP(TWAPConfig{
		Tick:       10 * time.Millisecond,
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	}, testDeps(stubLiquidity{mid: 100}, disp))
	order := domain.Order{
		ID:       "fail-1",
		Symbol:   "ETH-USD",
		Side:     domain.OrderSideSell,
		Quantity: 20,
		Algo:     domain.AlgoTWAP,
		Params:   domain.AlgoParams{Duration: 150 * time.Millisecond, SliceCount: 2},
	}
	require.NoError(t, tw.Start(context.Background(), order))
	waitDone(t, tw, order.ID, 3*time.Second)

	st, ok := tw.Status(order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusExpired, st.Status)
	assert.Zero(t, st.ExecutedQty)

	m, ok := tw.Metrics(order.ID)
	require.True(t, ok)
	assert.Equal(t, 2, m.SlicesFailed)
	assert.Equal(t, 0, m.SlicesCompleted)
}

func TestTWAPRetriesThenFills(t *testing.T) {
	disp := &fakeDispatcher{failN: 1}
	tw := NewTWAP(TWAPConfig{
		Tick:       10 * time.Millisecond,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	}, testDeps(stubLiquidity{mid: 100}, disp))
	order := domain.Order{
		ID:       "retry-1",
		Symbol:   "ETH-USD",
		Side:     domain.OrderSideBuy,
		Quantity: 10,
		Algo:     domain.AlgoTWAP,
		Params:   domain.AlgoParams{Duration: 300 * time.Millisecond, SliceCount: 1},
	}
	require.NoError(t, tw.Start(context.Background(), order))
	waitDone(t, tw, order.ID, 3*time.Second)

	st, ok := tw.Status(order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, st.Status)
	assert.InDelta(t, 10.0, st.ExecutedQty, 1e-9)
	require.Len(t, st.Slices, 1)
	assert.Equal(t, 2, st.Slices[0].Attempts)
}

func TestTWAPPauseHoldsDispatch(t *testing.T) {
	disp := &fakeDispatcher{}
	tw := NewTWAP(TWAPConfig{Tick: 100 * time.Millisecond}, testDeps(stubLiquidity{mid: 100}, disp))
	order := domain.Order{
		ID:       "pause-1",
		Symbol:   "ETH-USD",
		Side:     domain.OrderSideBuy,
		Quantity: 10,
		Algo:     domain.AlgoTWAP,
		Params:   domain.AlgoParams{Duration: time.Hour, SliceCount: 2},
	}
	require.NoError(t, tw.Start(context.Background(), order))
	defer tw.Cancel(order.ID)

	require.True(t, tw.Pause(order.ID))
	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, disp.dispatched(), "no dispatch while paused")

	st, ok := tw.Status(order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPaused, st.Status)

	require.True(t, tw.Resume(order.ID))
	require.Eventually(t, func() bool {
		return len(disp.dispatched()) > 0
	}, 2*time.Second, 10*time.Millisecond, "resume restarts dispatching")

	assert.False(t, tw.Pause("unknown"))
}
