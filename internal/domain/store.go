package domain

import (
	"context"
	"time"
)

// ResultStore persists completed execution results and their fills. The
// engine core never depends on persistence; the store is an optional
// collaborator wired in by the application layer.
type ResultStore interface {
	SaveResult(ctx context.Context, result ExecutionResult) error
	GetResult(ctx context.Context, orderID string) (ExecutionResult, error)
}

// OrderSnapshotter periodically records the set of active order ids so a
// surrounding service can reconcile after a crash. Reconciliation itself is
// outside the engine.
type OrderSnapshotter interface {
	SnapshotActive(ctx context.Context, orderIDs []string, ttl time.Duration) error
	ActiveOrders(ctx context.Context) ([]string, error)
}

// ResultArchiver uploads finished execution results to blob storage for
// offline analysis.
type ResultArchiver interface {
	ArchiveResult(ctx context.Context, result ExecutionResult) error
}

// LiquidityProvider is the pull side of the market data contract: fetch a
// consolidated snapshot for a symbol, from cache when fresh.
type LiquidityProvider interface {
	GetAggregatedLiquidity(ctx context.Context, symbol string) (LiquiditySnapshot, error)
}
