package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// streamMaxLen is the approximate maximum length for the event stream,
// enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// defaultEventChannel is the channel base used when no channel is configured.
const defaultEventChannel = "exec:events"

// EventBus implements domain.EventSink on Redis: each event is published to a
// per-order Pub/Sub channel for live consumers and appended to a capped
// stream for replay. Per-order ordering is preserved because the engine emits
// one order's events sequentially. The configured channel names the stream;
// per-order channels hang off it as "{channel}:{order_id}".
type EventBus struct {
	rdb     *redis.Client
	stream  string
	chanPfx string
}

// NewEventBus creates an EventBus backed by the given Client. channel is the
// configured event channel base; empty falls back to "exec:events".
func NewEventBus(c *Client, channel string) *EventBus {
	if channel == "" {
		channel = defaultEventChannel
	}
	return &EventBus{rdb: c.Underlying(), stream: channel, chanPfx: channel + ":"}
}

// Publish implements domain.EventSink.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	channel := b.chanPfx + ev.OrderID
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}

	args := &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"order_id": ev.OrderID,
			"type":     string(ev.Type),
			"payload":  payload,
		},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", b.stream, err)
	}
	return nil
}

// Subscribe returns a channel of decoded events for one order, or for all
// orders when orderID is "*". The subscription closes with the context.
func (b *EventBus) Subscribe(ctx context.Context, orderID string) (<-chan domain.Event, error) {
	channel := b.chanPfx + orderID
	var pubsub *redis.PubSub
	if strings.ContainsAny(orderID, "*?[") {
		pubsub = b.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = b.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan domain.Event, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
