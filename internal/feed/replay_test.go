package feed

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execengine/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReplayEmitsQuotesAndPrints(t *testing.T) {
	r := NewReplay(ReplayConfig{
		Step:       5 * time.Millisecond,
		StartPrice: 100,
		Volatility: 0.001,
		TradeProb:  1, // every step prints
		Seed:       11,
	}, []string{"ETH-USD", "BTC-USD"}, discardLogger())

	var mu sync.Mutex
	var quotes []domain.PriceUpdate
	var prints []domain.VolumeUpdate
	r.OnPrice(func(_ context.Context, u domain.PriceUpdate) {
		mu.Lock()
		quotes = append(quotes, u)
		mu.Unlock()
	})
	r.OnVolume(func(_ context.Context, u domain.VolumeUpdate) {
		mu.Lock()
		prints = append(prints, u)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, quotes)
	require.NotEmpty(t, prints)
	assert.Equal(t, len(quotes), len(prints), "trade_prob 1 prints on every quote")

	seen := make(map[string]bool)
	for _, q := range quotes {
		seen[q.Symbol] = true
		assert.Greater(t, q.Price, 0.0)
		// 0.1% per-step volatility keeps a short walk near the start price.
		assert.InDelta(t, 100, q.Price, 10)
	}
	assert.True(t, seen["ETH-USD"])
	assert.True(t, seen["BTC-USD"])

	for _, p := range prints {
		assert.GreaterOrEqual(t, p.Size, 0.0)
	}
}

func TestReplayIdleWithoutSymbols(t *testing.T) {
	r := NewReplay(ReplayConfig{}, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("replay did not stop on cancel")
	}
}

func TestReplayConfigDefaults(t *testing.T) {
	r := NewReplay(ReplayConfig{}, []string{"ETH-USD"}, discardLogger())
	assert.Equal(t, 250*time.Millisecond, r.cfg.Step)
	assert.Equal(t, 100.0, r.cfg.StartPrice)
	assert.Equal(t, 0.6, r.cfg.TradeProb)
	assert.Equal(t, 50.0, r.cfg.MeanTradeSize)
}
