// Package notify delivers operator alerts for execution lifecycle events over
// external channels (Telegram, Discord). Alerts carry the order context they
// concern and can be filtered by event type so operators receive only the
// transitions they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// Alert is one operator notification about an execution. Senders render the
// title and body for their channel; the order fields identify the execution
// so a message is actionable on its own.
type Alert struct {
	Event   domain.EventType
	OrderID string
	Symbol  string
	Algo    domain.AlgoKind
	Title   string
	Body    string
}

// contextLine summarises which execution the alert concerns, for senders to
// append under the body.
func (a Alert) contextLine() string {
	var parts []string
	if a.OrderID != "" {
		parts = append(parts, "order "+a.OrderID)
	}
	if a.Symbol != "" {
		parts = append(parts, a.Symbol)
	}
	if a.Algo != "" {
		parts = append(parts, string(a.Algo))
	}
	return strings.Join(parts, " | ")
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers the alert over the channel.
	Send(ctx context.Context, alert Alert) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. It maintains a set of
// allowed event types; Notify only forwards alerts whose event type is in the
// allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// alerts whose event type appears in the events slice will be forwarded by
// Notify. If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends the alert to all senders only if its event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, alert Alert) error {
	if len(n.events) > 0 && !n.events[alert.Event] {
		n.logger.DebugContext(ctx, "alert filtered out",
			slog.String("event", string(alert.Event)),
			slog.String("order_id", alert.OrderID),
		)
		return nil
	}

	return n.dispatch(ctx, alert)
}

// NotifyAll sends the alert to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, alert Alert) error {
	return n.dispatch(ctx, alert)
}

// dispatch iterates over all senders and sends the alert. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, alert Alert) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("order_id", alert.OrderID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "alert sent",
				slog.String("sender", s.Name()),
				slog.String("event", string(alert.Event)),
				slog.String("order_id", alert.OrderID),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
