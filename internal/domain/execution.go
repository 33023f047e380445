package domain

import (
	"time"
)

// Status tracks the lifecycle of an ExecutionState.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is a terminal one. A terminal state is
// never left again; exactly one ExecutionResult is produced when it is reached.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// SliceStatus tracks the lifecycle of a single slice.
type SliceStatus string

const (
	SlicePending   SliceStatus = "pending"
	SliceExecuting SliceStatus = "executing"
	SliceCompleted SliceStatus = "completed"
	SliceFailed    SliceStatus = "failed"
	SliceCancelled SliceStatus = "cancelled"
)

// Fill records a single execution at a venue. Fills are append-only; once
// recorded they are never mutated.
type Fill struct {
	OrderID   string
	ClientID  string // slice client order id
	Venue     string
	Price     float64
	Quantity  float64
	Fee       float64
	Maker     bool
	Timestamp time.Time
}

// Slice is the unit of venue dispatch: a bounded portion of a parent order
// with a target time window and quantity.
type Slice struct {
	Index      int
	ClientID   string
	TargetTime time.Time
	TargetQty  float64
	ExecutedQty float64
	Status     SliceStatus
	Attempts   int
	Fills      []Fill
}

// Reset clears a slice for reuse from a pool.
func (s *Slice) Reset() {
	*s = Slice{Fills: s.Fills[:0]}
}

// ExecutionState is the full mutable state of one working order. It is owned
// exclusively by the algorithm instance running the order; all mutation is
// serialized by the owner, and external callers only ever see deep copies
// produced by Clone.
type ExecutionState struct {
	OrderID     string
	Symbol      string
	Side        OrderSide
	Algo        AlgoKind
	Status      Status
	TotalQty    float64
	ExecutedQty float64
	Slices      []*Slice
	Fills       []Fill
	StartTime   time.Time
	EndTime     time.Time // execution window end
	FinishedAt  time.Time // set when a terminal status is reached
}

// RemainingQty returns the unexecuted quantity, floored at zero.
func (st *ExecutionState) RemainingQty() float64 {
	r := st.TotalQty - st.ExecutedQty
	if r < 0 {
		return 0
	}
	return r
}

// Clone produces a deep copy safe to hand to callers outside the owning
// algorithm instance.
func (st *ExecutionState) Clone() ExecutionState {
	out := *st
	out.Slices = make([]*Slice, len(st.Slices))
	for i, sl := range st.Slices {
		c := *sl
		c.Fills = append([]Fill(nil), sl.Fills...)
		out.Slices[i] = &c
	}
	out.Fills = append([]Fill(nil), st.Fills...)
	return out
}

// RecordFill appends a fill and updates executed quantities on both the state
// and the slice it belongs to. The caller must hold the order's write lock.
func (st *ExecutionState) RecordFill(sl *Slice, fill Fill) {
	sl.Fills = append(sl.Fills, fill)
	sl.ExecutedQty += fill.Quantity
	st.Fills = append(st.Fills, fill)
	st.ExecutedQty += fill.Quantity
}

// AvgFillPrice returns the quantity-weighted average price across all fills,
// or 0 when nothing has filled.
func (st *ExecutionState) AvgFillPrice() float64 {
	var notional, qty float64
	for _, f := range st.Fills {
		notional += f.Price * f.Quantity
		qty += f.Quantity
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}
