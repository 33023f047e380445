package notify

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// EventBridge adapts the Notifier to domain.EventSink so operator alerts ride
// the same event flow as every other consumer. Routine slice fills are
// ignored; only lifecycle transitions and detection-risk alerts are
// forwarded, subject to the Notifier's own event filter.
type EventBridge struct {
	notifier *Notifier
	next     domain.EventSink
}

// NewEventBridge wraps next so events keep flowing to the primary sink; next
// may be nil when notifications are the only consumer.
func NewEventBridge(notifier *Notifier, next domain.EventSink) *EventBridge {
	if next == nil {
		next = domain.NopSink{}
	}
	return &EventBridge{notifier: notifier, next: next}
}

// Publish implements domain.EventSink. Notification failures are logged by
// the Notifier and never block the event flow.
func (b *EventBridge) Publish(ctx context.Context, ev domain.Event) error {
	switch ev.Type {
	case domain.EventDetectionRiskAlert:
		_ = b.notifier.Notify(ctx, Alert{
			Event:   ev.Type,
			OrderID: ev.OrderID,
			Symbol:  ev.Symbol,
			Algo:    ev.Algo,
			Title:   fmt.Sprintf("Detection risk on %s", ev.Symbol),
			Body: fmt.Sprintf("risk %.2f, executed %.4f remaining %.4f",
				ev.DetectionRisk, ev.ExecutedQty, ev.RemainingQty),
		})
	case domain.EventExecutionCompleted, domain.EventExecutionTimeout, domain.EventExecutionCancelled:
		body := fmt.Sprintf("executed %.4f of %.4f",
			ev.ExecutedQty, ev.ExecutedQty+ev.RemainingQty)
		if ev.Result != nil {
			body = fmt.Sprintf("filled %.4f @ %.4f, fees %.4f, slippage %.1f bps",
				ev.Result.TotalQuantity, ev.Result.AvgPrice,
				ev.Result.TotalFees, ev.Result.SlippageBps)
		}
		_ = b.notifier.Notify(ctx, Alert{
			Event:   ev.Type,
			OrderID: ev.OrderID,
			Symbol:  ev.Symbol,
			Algo:    ev.Algo,
			Title:   fmt.Sprintf("Execution %s: %s", statusWord(ev.Type), ev.Symbol),
			Body:    body,
		})
	}
	return b.next.Publish(ctx, ev)
}

func statusWord(t domain.EventType) string {
	switch t {
	case domain.EventExecutionTimeout:
		return "expired"
	case domain.EventExecutionCancelled:
		return "cancelled"
	default:
		return "completed"
	}
}
