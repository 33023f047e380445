package domain

import (
	"context"
	"time"
)

// VenueClass groups venues by market structure. Cache TTLs and cost
// assumptions differ per class.
type VenueClass string

const (
	VenueClassCEX VenueClass = "cex"
	VenueClassDEX VenueClass = "dex"
	VenueClassECN VenueClass = "ecn"
)

// VenueMetrics aggregates rolling operational statistics for one venue. It is
// produced by the latency service and venue adapters and consumed by the
// scorer and cost model. A VenueMetrics value is replaced atomically per
// venue; readers never observe a half-updated value.
type VenueMetrics struct {
	Venue        string
	Class        VenueClass
	LatencyMean  time.Duration
	LatencyMin   time.Duration
	LatencyMax   time.Duration
	LatencyP50   time.Duration
	LatencyP95   time.Duration
	LatencyP99   time.Duration
	SuccessRate  float64 // fraction of probes/dispatches that succeeded
	FillRate     float64 // fraction of dispatched quantity that filled
	MakerFeeRate float64
	TakerFeeRate float64
	AvgSpreadBps float64
	AvgDepth     float64 // quantity within top levels
	SampleCount  int
	UpdatedAt    time.Time
}

// VenueScore is the scorer's composite view of a venue. All component scores
// and the overall score are on a 0-100 scale.
type VenueScore struct {
	Venue       string
	Latency     float64
	Cost        float64
	Liquidity   float64
	Reliability float64
	Overall     float64
	UpdatedAt   time.Time
}

// VenueAdapter is the connectivity collaborator for a single venue. Real
// protocol implementations live outside the engine; the simulator in
// internal/venue implements this interface for paper trading and tests.
//
// PlaceOrder is assumed idempotent per ClientID.
type VenueAdapter interface {
	Name() string
	Class() VenueClass
	TickSize(symbol string) float64
	PlaceOrder(ctx context.Context, clip ClipOrder) (Fill, error)
	FetchBook(ctx context.Context, symbol string) (VenueBook, error)
	Probe(ctx context.Context) (time.Duration, error)
}
