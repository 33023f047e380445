package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNewEventBusChannelNaming(t *testing.T) {
	c := &Client{rdb: redis.NewClient(&redis.Options{Addr: "localhost:0"})}
	t.Cleanup(func() { _ = c.Close() })

	b := NewEventBus(c, "executions")
	assert.Equal(t, "executions", b.stream)
	assert.Equal(t, "executions:", b.chanPfx, "per-order channels hang off the configured base")

	fallback := NewEventBus(c, "")
	assert.Equal(t, "exec:events", fallback.stream)
	assert.Equal(t, "exec:events:", fallback.chanPfx)
}
