package algo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execengine/internal/domain"
)

func TestPOVValidation(t *testing.T) {
	p := NewPOV(POVConfig{}, testDeps(stubLiquidity{mid: 100}, &fakeDispatcher{}))
	base := domain.Order{
		ID:       "pv",
		Symbol:   "ETH-USD",
		Side:     domain.OrderSideBuy,
		Quantity: 50,
		Algo:     domain.AlgoPOV,
		Params: domain.AlgoParams{
			Duration:            time.Minute,
			TargetParticipation: 0.1,
			MaxParticipation:    0.2,
		},
	}

	tests := []struct {
		name   string
		mutate func(*domain.Order)
	}{
		{"zero quantity", func(o *domain.Order) { o.Quantity = 0 }},
		{"zero target", func(o *domain.Order) { o.Params.TargetParticipation = 0 }},
		{"target above one", func(o *domain.Order) { o.Params.TargetParticipation = 1.5 }},
		{"zero max", func(o *domain.Order) { o.Params.MaxParticipation = 0 }},
		{"max below target", func(o *domain.Order) { o.Params.MaxParticipation = 0.05 }},
		{"zero duration", func(o *domain.Order) { o.Params.Duration = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := base
			tt.mutate(&order)
			err := p.Start(context.Background(), order)
			require.ErrorIs(t, err, domain.ErrInvalidOrder)
		})
	}
}

// seedTracker feeds evenly spaced constant-size prints so the tracker's rate
// EMA settles at size/gap with zero variance.
func seedTracker(vb *VolumeBook, symbol string, size float64, n int, gap time.Duration) {
	now := time.Now()
	for i := n - 1; i >= 0; i-- {
		vb.OnVolumeUpdate(domain.VolumeUpdate{
			Symbol:    symbol,
			Size:      size,
			Timestamp: now.Add(-time.Duration(i) * gap),
		})
	}
}

func povRun(order domain.Order, target, max float64) *run {
	now := time.Now()
	return &run{
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
}

func TestPOVTickSizesClipFromVolumeRate(t *testing.T) {
	disp := &fakeDispatcher{}
	deps := testDeps(stubLiquidity{mid: 100}, disp)
	p := NewPOV(POVConfig{Tick: time.Second, ParticipationWindow: 5 * time.Second}, deps)

	seedTracker(deps.Volume, "ETH-USD", 100, 4, time.Second)

	order := domain.Order{
		ID: "pov-size", Symbol: "ETH-USD", Side: domain.OrderSideBuy,
		Quantity: 50, Algo: domain.AlgoPOV,
		Params: domain.AlgoParams{Duration: time.Hour, TargetParticipation: 0.1, MaxParticipation: 0.2},
	}
	r := povRun(order, 0.1, 0.2)

	finished := p.tick(context.Background(), r)
	require.False(t, finished)

	clips := disp.dispatched()
	require.Len(t, clips, 1)
	// rate EMA 100/s, one-second tick, 10% target.
	assert.InDelta(t, 10.0, clips[0].Quantity, 1e-9)
	assert.InDelta(t, 10.0, r.state.ExecutedQty, 1e-9)
	require.Len(t, r.state.Slices, 1)
	assert.Equal(t, domain.SliceCompleted, r.state.Slices[0].Status)
}

func TestPOVTickHonorsParticipationCeiling(t *testing.T) {
	disp := &fakeDispatcher{}
	deps := testDeps(stubLiquidity{mid: 100}, disp)
	p := NewPOV(POVConfig{Tick: time.Second, ParticipationWindow: 5 * time.Second}, deps)

	seedTracker(deps.Volume, "ETH-USD", 100, 4, time.Second)
	deps.Volume.Tracker("ETH-USD").RecordOwn(35, time.Now())

	order := domain.Order{
		ID: "pov-cap", Symbol: "ETH-USD", Side: domain.OrderSideBuy,
		Quantity: 50, Algo: domain.AlgoPOV,
		Params: domain.AlgoParams{Duration: time.Hour, TargetParticipation: 0.1, MaxParticipation: 0.1},
	}
	r := povRun(order, 0.1, 0.1)

	p.tick(context.Background(), r)

	clips := disp.dispatched()
	require.Len(t, clips, 1)
	// Window market volume 400, own 35: headroom 0.1*400-35 = 5.
	assert.InDelta(t, 5.0, clips[0].Quantity, 1e-9)
}

func TestPOVTickHoldsAtTargetParticipation(t *testing.T) {
	disp := &fakeDispatcher{}
	deps := testDeps(stubLiquidity{mid: 100}, disp)
	p := NewPOV(POVConfig{Tick: time.Second, ParticipationWindow: 5 * time.Second}, deps)

	seedTracker(deps.Volume, "ETH-USD", 100, 4, time.Second)
	deps.Volume.Tracker("ETH-USD").RecordOwn(50, time.Now())

	order := domain.Order{
		ID: "pov-hold", Symbol: "ETH-USD", Side: domain.OrderSideBuy,
		Quantity: 50, Algo: domain.AlgoPOV,
		Params: domain.AlgoParams{Duration: time.Hour, TargetParticipation: 0.1, MaxParticipation: 0.2},
	}
	r := povRun(order, 0.1, 0.2)

	finished := p.tick(context.Background(), r)
	assert.False(t, finished)
	assert.Empty(t, disp.dispatched(), "no dispatch while at or above target participation")
}

func TestPOVAdaptRelaxesUnderTimePressure(t *testing.T) {
	deps := testDeps(stubLiquidity{mid: 100}, &fakeDispatcher{})
	p := NewPOV(POVConfig{ParticipationWindow: 5 * time.Second, ExcessFactor: 1.2}, deps)

	order := domain.Order{
		ID: "pov-relax", Symbol: "ETH-USD", Side: domain.OrderSideBuy,
		Quantity: 50, Algo: domain.AlgoPOV,
		Params: domain.AlgoParams{Duration: 100 * time.Second, TargetParticipation: 0.1, MaxParticipation: 0.2},
	}
	r := povRun(order, 0.1, 0.2)
	now := time.Now()
	r.state.StartTime = now.Add(-80 * time.Second)
	r.state.EndTime = now.Add(20 * time.Second)

	p.adapt(r)

	vs := r.ext.(*povState)
	assert.InDelta(t, 0.12, vs.targetRate, 1e-9)

	// A second pass keeps relaxing until the hard ceiling.
	for i := 0; i < 10; i++ {
		p.adapt(r)
	}
	assert.InDelta(t, 0.2, vs.targetRate, 1e-9)
}

func TestPOVAdaptContractsOnPersistentExcess(t *testing.T) {
	deps := testDeps(stubLiquidity{mid: 100}, &fakeDispatcher{})
	p := NewPOV(POVConfig{ParticipationWindow: 5 * time.Second, ExcessFactor: 1.2}, deps)

	seedTracker(deps.Volume, "ETH-USD", 100, 4, time.Second)
	deps.Volume.Tracker("ETH-USD").RecordOwn(100, time.Now())

	order := domain.Order{
		ID: "pov-contract", Symbol: "ETH-USD", Side: domain.OrderSideBuy,
		Quantity: 50, Algo: domain.AlgoPOV,
		Params: domain.AlgoParams{Duration: 100 * time.Second, TargetParticipation: 0.1, MaxParticipation: 0.2},
	}
	r := povRun(order, 0.1, 0.2)
	now := time.Now()
	r.state.StartTime = now.Add(-10 * time.Second)
	r.state.EndTime = now.Add(90 * time.Second)

	vs := r.ext.(*povState)
	p.adapt(r)
	p.adapt(r)
	assert.InDelta(t, 0.1, vs.targetRate, 1e-9, "contraction needs three consecutive excess passes")
	p.adapt(r)
	assert.InDelta(t, 0.09, vs.targetRate, 1e-9)
	assert.Zero(t, vs.excessCount)
}

func TestPOVExpiresWithoutMarketVolume(t *testing.T) {
	disp := &fakeDispatcher{}
	p := NewPOV(POVConfig{Tick: 10 * time.Millisecond, ParticipationWindow: 5 * time.Second}, testDeps(stubLiquidity{mid: 100}, disp))

	order := domain.Order{
		ID: "pov-expire", Symbol: "DEAD-USD", Side: domain.OrderSideBuy,
		Quantity: 50, Algo: domain.AlgoPOV,
		Params: domain.AlgoParams{Duration: 100 * time.Millisecond, TargetParticipation: 0.1, MaxParticipation: 0.2},
	}
	require.NoError(t, p.Start(context.Background(), order))
	waitDone(t, p, order.ID, 3*time.Second)

	st, ok := p.Status(order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusExpired, st.Status)
	assert.Zero(t, st.ExecutedQty)
	assert.Empty(t, disp.dispatched())
}
