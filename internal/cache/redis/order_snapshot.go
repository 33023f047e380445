package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// activeOrdersKey holds the most recent active-order id set.
const activeOrdersKey = "exec:orders:active"

// OrderSnapshotter implements domain.OrderSnapshotter: the engine's active
// order ids are written as a Redis set with a TTL, so a stale snapshot
// disappears on its own after a crash instead of pinning dead orders.
type OrderSnapshotter struct {
	rdb *redis.Client
}

// NewOrderSnapshotter creates an OrderSnapshotter backed by the given Client.
func NewOrderSnapshotter(c *Client) *OrderSnapshotter {
	return &OrderSnapshotter{rdb: c.Underlying()}
}

// SnapshotActive replaces the stored set with the given order ids.
func (s *OrderSnapshotter) SnapshotActive(ctx context.Context, orderIDs []string, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, activeOrdersKey)
	if len(orderIDs) > 0 {
		members := make([]interface{}, len(orderIDs))
		for i, id := range orderIDs {
			members[i] = id
		}
		pipe.SAdd(ctx, activeOrdersKey, members...)
		pipe.Expire(ctx, activeOrdersKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: snapshot active orders: %w", err)
	}
	return nil
}

// ActiveOrders returns the last snapshotted order ids. An expired or missing
// snapshot yields an empty slice.
func (s *OrderSnapshotter) ActiveOrders(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, activeOrdersKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: read active orders: %w", err)
	}
	return ids, nil
}
