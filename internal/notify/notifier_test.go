package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execengine/internal/domain"
)

type fakeSender struct {
	name   string
	err    error
	alerts []Alert
}

func (f *fakeSender) Send(_ context.Context, alert Alert) error {
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEventType(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"execution_completed", "detection_risk_alert"}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), Alert{
		Event: domain.EventExecutionCompleted, OrderID: "o1", Symbol: "ETH-USD",
	}))
	require.NoError(t, n.Notify(context.Background(), Alert{
		Event: domain.EventSliceExecuted, OrderID: "o1",
	}))

	require.Len(t, s.alerts, 1)
	assert.Equal(t, domain.EventExecutionCompleted, s.alerts[0].Event)
	assert.Equal(t, "o1", s.alerts[0].OrderID)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), Alert{Event: domain.EventSliceExecuted}))
	require.NoError(t, n.Notify(context.Background(), Alert{Event: domain.EventExecutionStarted}))
	assert.Len(t, s.alerts, 2)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"execution_completed"}, discardLogger())

	require.NoError(t, n.NotifyAll(context.Background(), Alert{Event: domain.EventSliceExecuted}))
	assert.Len(t, s.alerts, 1)
}

func TestDispatchCollectsSenderFailures(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), Alert{Event: domain.EventExecutionCompleted, OrderID: "o2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Contains(t, err.Error(), "bad")
	require.Len(t, good.alerts, 1, "one sender failing must not block the rest")
}

func TestAlertContextLine(t *testing.T) {
	a := Alert{OrderID: "o3", Symbol: "BTC-USD", Algo: domain.AlgoTWAP}
	assert.Equal(t, "order o3 | BTC-USD | twap", a.contextLine())
	assert.Equal(t, "", Alert{}.contextLine())
}

func TestBridgeForwardsTerminalEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	var forwarded []domain.Event
	next := domain.EventSinkFunc(func(_ context.Context, ev domain.Event) error {
		forwarded = append(forwarded, ev)
		return nil
	})
	bridge := NewEventBridge(n, next)

	ev := domain.Event{
		Type:    domain.EventExecutionCompleted,
		OrderID: "o4",
		Symbol:  "ETH-USD",
		Algo:    domain.AlgoVWAP,
		Result: &domain.ExecutionResult{
			TotalQuantity: 10, AvgPrice: 100.5, TotalFees: 0.2, SlippageBps: 1.5,
		},
	}
	require.NoError(t, bridge.Publish(context.Background(), ev))

	require.Len(t, s.alerts, 1)
	got := s.alerts[0]
	assert.Equal(t, domain.EventExecutionCompleted, got.Event)
	assert.Equal(t, "o4", got.OrderID)
	assert.Equal(t, domain.AlgoVWAP, got.Algo)
	assert.Equal(t, "Execution completed: ETH-USD", got.Title)
	assert.Contains(t, got.Body, "filled 10.0000 @ 100.5000")

	require.Len(t, forwarded, 1, "bridge must keep events flowing to the next sink")
	assert.Equal(t, "o4", forwarded[0].OrderID)
}

func TestBridgeForwardsDetectionRisk(t *testing.T) {
	s := &fakeSender{name: "fake"}
	bridge := NewEventBridge(NewNotifier([]Sender{s}, nil, discardLogger()), nil)

	require.NoError(t, bridge.Publish(context.Background(), domain.Event{
		Type:          domain.EventDetectionRiskAlert,
		OrderID:       "o5",
		Symbol:        "BTC-USD",
		Algo:          domain.AlgoIceberg,
		DetectionRisk: 0.82,
		ExecutedQty:   3,
		RemainingQty:  7,
	}))

	require.Len(t, s.alerts, 1)
	assert.Equal(t, "Detection risk on BTC-USD", s.alerts[0].Title)
	assert.Contains(t, s.alerts[0].Body, "risk 0.82")
}

func TestBridgeSkipsRoutineEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	var next int
	bridge := NewEventBridge(
		NewNotifier([]Sender{s}, nil, discardLogger()),
		domain.EventSinkFunc(func(context.Context, domain.Event) error { next++; return nil }),
	)

	require.NoError(t, bridge.Publish(context.Background(), domain.Event{Type: domain.EventSliceExecuted, OrderID: "o6"}))
	require.NoError(t, bridge.Publish(context.Background(), domain.Event{Type: domain.EventExecutionStarted, OrderID: "o6"}))

	assert.Empty(t, s.alerts, "routine events never page the operator")
	assert.Equal(t, 2, next)
}
