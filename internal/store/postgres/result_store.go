package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// ResultStore implements domain.ResultStore using PostgreSQL.
type ResultStore struct {
	pool *pgxpool.Pool
}

// NewResultStore creates a new ResultStore backed by the given connection pool.
func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// SaveResult upserts the result row and batch-inserts its fills. Re-saving
// the same order replaces its fills, so the call is safe to retry.
func (s *ResultStore) SaveResult(ctx context.Context, result domain.ExecutionResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save result: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO execution_results (
			order_id, plan_id, symbol, side, algo, status,
			requested_qty, filled_qty, avg_price, arrival_price,
			total_fees, slippage_bps, market_impact_bps,
			duration_ms, started_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16
		) ON CONFLICT (order_id) DO UPDATE SET
			status = EXCLUDED.status,
			filled_qty = EXCLUDED.filled_qty,
			avg_price = EXCLUDED.avg_price,
			total_fees = EXCLUDED.total_fees,
			slippage_bps = EXCLUDED.slippage_bps,
			market_impact_bps = EXCLUDED.market_impact_bps,
			duration_ms = EXCLUDED.duration_ms,
			finished_at = EXCLUDED.finished_at`

	if _, err := tx.Exec(ctx, upsert,
		result.OrderID, result.PlanID, result.Symbol, string(result.Side),
		string(result.Algo), string(result.Status),
		result.RequestedQty, result.TotalQuantity, result.AvgPrice, result.ArrivalPrice,
		result.TotalFees, result.SlippageBps, result.MarketImpactBps,
		result.Duration.Milliseconds(), result.StartedAt, result.FinishedAt,
	); err != nil {
		return fmt.Errorf("postgres: save result %s: %w", result.OrderID, err)
	}

	if _, err := tx.Exec(ctx,
		"DELETE FROM execution_fills WHERE order_id = $1", result.OrderID,
	); err != nil {
		return fmt.Errorf("postgres: clear fills %s: %w", result.OrderID, err)
	}

	if len(result.Fills) > 0 {
		batch := &pgx.Batch{}
		const insertFill = `
			INSERT INTO execution_fills (
				order_id, client_id, venue, price, quantity, fee, maker, filled_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		for _, f := range result.Fills {
			batch.Queue(insertFill,
				result.OrderID, f.ClientID, f.Venue,
				f.Price, f.Quantity, f.Fee, f.Maker, f.Timestamp,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for range result.Fills {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert fills %s: %w", result.OrderID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close fill batch %s: %w", result.OrderID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit result %s: %w", result.OrderID, err)
	}
	return nil
}

// GetResult loads a stored result with its fills.
func (s *ResultStore) GetResult(ctx context.Context, orderID string) (domain.ExecutionResult, error) {
	const query = `
		SELECT order_id, plan_id, symbol, side, algo, status,
		       requested_qty, filled_qty, avg_price, arrival_price,
		       total_fees, slippage_bps, market_impact_bps,
		       duration_ms, started_at, finished_at
		FROM execution_results WHERE order_id = $1`

	var (
		result     domain.ExecutionResult
		side       string
		algo       string
		status     string
		durationMs int64
	)
	err := s.pool.QueryRow(ctx, query, orderID).Scan(
		&result.OrderID, &result.PlanID, &result.Symbol, &side, &algo, &status,
		&result.RequestedQty, &result.TotalQuantity, &result.AvgPrice, &result.ArrivalPrice,
		&result.TotalFees, &result.SlippageBps, &result.MarketImpactBps,
		&durationMs, &result.StartedAt, &result.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, fmt.Errorf("postgres: result %s: %w", orderID, domain.ErrNotFound)
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get result %s: %w", orderID, err)
	}
	result.Side = domain.OrderSide(side)
	result.Algo = domain.AlgoKind(algo)
	result.Status = domain.Status(status)
	result.Duration = time.Duration(durationMs) * time.Millisecond

	rows, err := s.pool.Query(ctx, `
		SELECT client_id, venue, price, quantity, fee, maker, filled_at
		FROM execution_fills WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get fills %s: %w", orderID, err)
	}
	defer rows.Close()

	for rows.Next() {
		f := domain.Fill{OrderID: orderID}
		if err := rows.Scan(&f.ClientID, &f.Venue, &f.Price, &f.Quantity, &f.Fee, &f.Maker, &f.Timestamp); err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("postgres: scan fill %s: %w", orderID, err)
		}
		result.Fills = append(result.Fills, f)
	}
	if err := rows.Err(); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: read fills %s: %w", orderID, err)
	}
	return result, nil
}
