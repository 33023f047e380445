package domain

import "time"

// PriceLevel is one level of an order book side.
type PriceLevel struct {
	Price float64
	Size  float64
}

// VenueBook is a single venue's order book contribution for one symbol.
type VenueBook struct {
	Venue     string
	Class     VenueClass
	BestBid   float64
	BestAsk   float64
	Bids      []PriceLevel
	Asks      []PriceLevel
	FetchedAt time.Time
}

// BidDepth returns total bid size across levels.
func (b VenueBook) BidDepth() float64 {
	var d float64
	for _, l := range b.Bids {
		d += l.Size
	}
	return d
}

// AskDepth returns total ask size across levels.
func (b VenueBook) AskDepth() float64 {
	var d float64
	for _, l := range b.Asks {
		d += l.Size
	}
	return d
}

// LiquiditySnapshot is the consolidated multi-venue order book for a symbol.
// Snapshots are immutable once stored in the cache: a cache hit within TTL
// returns the identical value. A snapshot past its effective TTL is only ever
// returned with Stale set.
type LiquiditySnapshot struct {
	Symbol     string
	BestBid    float64
	BestAsk    float64
	MidPrice   float64
	BidDepth   float64
	AskDepth   float64
	Imbalance  float64 // (bidDepth - askDepth) / (bidDepth + askDepth)
	Venues     []VenueBook
	CapturedAt time.Time
	Stale      bool
}

// SpreadBps returns the bid/ask spread in basis points of the mid price.
func (s LiquiditySnapshot) SpreadBps() float64 {
	if s.MidPrice <= 0 {
		return 0
	}
	return (s.BestAsk - s.BestBid) / s.MidPrice * 10000
}

// PriceUpdate is a streamed price observation from the market data
// collaborator.
type PriceUpdate struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// VolumeUpdate is a streamed trade/volume observation from the market data
// collaborator. Size is the traded quantity of the print.
type VolumeUpdate struct {
	Symbol    string
	Price     float64
	Size      float64
	Timestamp time.Time
}
