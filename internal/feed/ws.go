package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/execengine/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// PriceHandler is called for each streamed quote or mark price.
type PriceHandler func(ctx context.Context, u domain.PriceUpdate)

// VolumeHandler is called for each streamed trade print.
type VolumeHandler func(ctx context.Context, u domain.VolumeUpdate)

// wsCommand is the subscribe/unsubscribe message sent to the feed endpoint.
type wsCommand struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
	Symbols  []string `json:"symbols"`
}

// wsMessage is the envelope of every inbound feed message.
type wsMessage struct {
	Type      string  `json:"type"` // "quote" or "trade"
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price,string"`
	Size      float64 `json:"size,string"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// WSFeed connects to a market data WebSocket endpoint, subscribes to quotes
// and trades for the configured symbols, and fans each message out to the
// registered handlers. It reconnects with exponential backoff on disconnect.
type WSFeed struct {
	wsURL   string
	symbols []string
	logger  *slog.Logger

	handlerMu sync.RWMutex
	onPrice   []PriceHandler
	onVolume  []VolumeHandler

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSFeed creates a feed that will subscribe to the given symbols.
func NewWSFeed(wsURL string, symbols []string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:   wsURL,
		symbols: symbols,
		logger:  logger.With(slog.String("component", "ws_feed")),
		done:    make(chan struct{}),
	}
}

// OnPrice registers a handler invoked for every quote message.
func (f *WSFeed) OnPrice(h PriceHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.onPrice = append(f.onPrice, h)
}

// OnVolume registers a handler invoked for every trade print.
func (f *WSFeed) OnVolume(h VolumeHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.onVolume = append(f.onVolume, h)
}

// Run connects, subscribes, and pumps messages until ctx is cancelled or
// Close is called. Each dropped connection is retried with exponential
// backoff.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection owns one connection: dial, subscribe, read until failure.
func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("feed subscribed", slog.Int("symbols", len(f.symbols)))

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %v: %w", err, domain.ErrWSDisconnect)
		}
		f.dispatch(ctx, data)
	}
}

func (f *WSFeed) subscribe(conn *websocket.Conn) error {
	cmd := wsCommand{
		Type:     "subscribe",
		Channels: []string{"quote", "trade"},
		Symbols:  f.symbols,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch decodes one message and fans it out. A malformed message logs and
// is skipped; it never kills the connection.
func (f *WSFeed) dispatch(ctx context.Context, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("skipping malformed feed message", slog.String("error", err.Error()))
		return
	}
	ts := time.UnixMilli(msg.Timestamp)
	if msg.Timestamp == 0 {
		ts = time.Now()
	}

	f.handlerMu.RLock()
	prices := f.onPrice
	volumes := f.onVolume
	f.handlerMu.RUnlock()

	switch msg.Type {
	case "quote":
		u := domain.PriceUpdate{Symbol: msg.Symbol, Price: msg.Price, Timestamp: ts}
		for _, h := range prices {
			h(ctx, u)
		}
	case "trade":
		u := domain.VolumeUpdate{Symbol: msg.Symbol, Price: msg.Price, Size: msg.Size, Timestamp: ts}
		for _, h := range volumes {
			h(ctx, u)
		}
		// A trade also moves the reference price.
		p := domain.PriceUpdate{Symbol: msg.Symbol, Price: msg.Price, Timestamp: ts}
		for _, h := range prices {
			h(ctx, p)
		}
	}
}

// Close stops the feed.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
