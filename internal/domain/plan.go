package domain

import "time"

// Route is one venue allocation within an execution plan.
type Route struct {
	Venue      string
	Allocation float64 // fraction of the order in (0,1]
	Quantity   float64
	Score      float64 // venue overall score at planning time
}

// CostEstimate breaks down the expected cost of executing an order over a
// route set. All figures are in quote-currency terms except the bps fields.
type CostEstimate struct {
	Fees            float64
	Slippage        float64
	MarketImpact    float64
	OpportunityCost float64
	Total           float64
	ImpactBps       float64
	SlippageBps     float64
	Confidence      float64 // 0-1
}

// ExecutionPlan is the dispatch plan built by the orchestrator before an
// algorithm starts working the order. It is immutable after creation.
type ExecutionPlan struct {
	ID              string
	OrderID         string
	Algo            AlgoKind
	Routes          []Route
	ExpectedCost    CostEstimate
	ExpectedLatency time.Duration
	Rationale       string
	CreatedAt       time.Time
}

// VenueBreakdown summarises execution at one venue within a result.
type VenueBreakdown struct {
	Venue    string
	Quantity float64
	AvgPrice float64
	Fees     float64
	Fills    int
}

// ExecutionResult is the final outcome of a parent order. Exactly one result
// is produced per terminal ExecutionState, whatever quantity actually filled.
// It is immutable after creation.
type ExecutionResult struct {
	OrderID         string
	PlanID          string
	Symbol          string
	Side            OrderSide
	Algo            AlgoKind
	Status          Status
	RequestedQty    float64
	TotalQuantity   float64 // filled quantity
	AvgPrice        float64
	ArrivalPrice    float64
	TotalFees       float64
	SlippageBps     float64
	MarketImpactBps float64
	Duration        time.Duration
	Fills           []Fill
	Venues          []VenueBreakdown
	StartedAt       time.Time
	FinishedAt      time.Time
}
