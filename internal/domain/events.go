package domain

import (
	"context"
	"time"
)

// EventType identifies an execution lifecycle event.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventSliceExecuted      EventType = "slice_executed"
	EventDetectionRiskAlert EventType = "detection_risk_alert"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionTimeout   EventType = "execution_timeout"
	EventExecutionCancelled EventType = "execution_cancelled"
)

// Event is an execution lifecycle notification. Events for one order are
// emitted in order; no global ordering across orders is guaranteed.
type Event struct {
	Type          EventType        `json:"type"`
	OrderID       string           `json:"order_id"`
	Symbol        string           `json:"symbol"`
	Algo          AlgoKind         `json:"algo"`
	SliceIndex    int              `json:"slice_index,omitempty"`
	Fill          *Fill            `json:"fill,omitempty"`
	ExecutedQty   float64          `json:"executed_qty"`
	RemainingQty  float64          `json:"remaining_qty"`
	DetectionRisk float64          `json:"detection_risk,omitempty"`
	Result        *ExecutionResult `json:"result,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// EventSink receives execution events. Implementations must not block the
// caller for long; slow consumers should buffer or drop.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, ev Event) error

// Publish calls f.
func (f EventSinkFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// NopSink discards all events.
type NopSink struct{}

// Publish discards ev.
func (NopSink) Publish(context.Context, Event) error { return nil }
