// Package domain defines the core entities of the execution engine: parent
// orders, slices, fills, venues, liquidity snapshots, plans and results, and
// the interfaces through which the engine talks to its collaborators.
package domain

import (
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderKind distinguishes market from limit parent orders.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// TimeInForce indicates the time-in-force policy applied to venue-facing
// child orders.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good-Till-Cancelled
	TimeInForceIOC TimeInForce = "IOC" // Immediate-Or-Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill-Or-Kill
)

// Urgency expresses how aggressively an order should be worked. It biases
// venue selection and network path ranking.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// AlgoKind selects the slicing algorithm that works a parent order.
type AlgoKind string

const (
	AlgoTWAP    AlgoKind = "twap"
	AlgoVWAP    AlgoKind = "vwap"
	AlgoPOV     AlgoKind = "pov"
	AlgoIceberg AlgoKind = "iceberg"
)

// AlgoParams carries the per-algorithm tuning parameters of a parent order.
// Only the fields relevant to the selected AlgoKind are consulted; the
// algorithm validates them before accepting the order.
type AlgoParams struct {
	// Duration is the execution window. Required by all algorithms.
	Duration time.Duration
	// SliceCount is the number of equal slices (TWAP).
	SliceCount int
	// TargetParticipation is the participation rate to track, in (0,1] (POV).
	TargetParticipation float64
	// MaxParticipation is the hard participation ceiling, in (0,1] (POV, VWAP).
	MaxParticipation float64
	// VisibleQuantity is the displayed clip size (Iceberg).
	VisibleQuantity float64
	// Variance randomizes clip sizes, in [0,1] (Iceberg).
	Variance float64
}

// Order is an accepted parent order. It is immutable once accepted; pause,
// resume and cancel act on the associated ExecutionState, never on the order
// itself.
type Order struct {
	ID          string
	Symbol      string
	Side        OrderSide
	Quantity    float64
	Kind        OrderKind
	TimeInForce TimeInForce
	Urgency     Urgency
	LimitPrice  float64 // 0 for market orders
	Algo        AlgoKind
	Params      AlgoParams
	SubmittedAt time.Time
}

// ClipOrder is the venue-facing unit of dispatch: one slice (or iceberg clip)
// of a parent order. ClientID is unique per slice and is assumed idempotent
// at the venue.
type ClipOrder struct {
	ClientID    string
	ParentID    string
	Symbol      string
	Side        OrderSide
	Quantity    float64
	LimitPrice  float64 // 0 dispatches at market
	TimeInForce TimeInForce
}
