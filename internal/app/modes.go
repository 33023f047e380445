package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/execengine/internal/domain"
	"github.com/alanyoungcy/execengine/internal/feed"
	"github.com/alanyoungcy/execengine/internal/server"
	"github.com/alanyoungcy/execengine/internal/server/handler"
)

// marketFeed is the handler-registration surface shared by the live WS feed
// and the paper-mode replay generator.
type marketFeed interface {
	OnPrice(feed.PriceHandler)
	OnVolume(feed.VolumeHandler)
	Run(ctx context.Context) error
}

// PaperMode runs the full engine against simulated venues driven by a
// synthetic market data stream. Orders are accepted over the same HTTP API as
// serve mode, so the whole flow from submission to result can be exercised
// without touching a real venue.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	g, ctx := errgroup.WithContext(ctx)

	replay := feed.NewReplay(feed.ReplayConfig{}, a.feedSymbols(), a.logger)
	a.attachMarketData(replay, deps)
	g.Go(func() error {
		return replay.Run(ctx)
	})

	a.startEngine(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// ServeMode runs the engine against a live market data feed, exposing the
// execution API over HTTP.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Feed.WsURL != "" {
		wsFeed := feed.NewWSFeed(a.cfg.Feed.WsURL, a.feedSymbols(), a.logger)
		a.attachMarketData(wsFeed, deps)
		g.Go(func() error {
			defer wsFeed.Close()
			return wsFeed.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "feed.ws_url not set, running without live market data")
	}

	a.startEngine(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// attachMarketData routes feed updates into every consumer: the volatility
// tracker behind the liquidity cache, the volume book behind the
// participation algorithms, and in paper mode the venue simulators.
func (a *App) attachMarketData(f marketFeed, deps *Dependencies) {
	f.OnPrice(func(_ context.Context, u domain.PriceUpdate) {
		deps.Tracker.OnPriceUpdate(u)
		for _, sim := range deps.Simulators {
			sim.SetPrice(u.Symbol, u.Price)
		}
	})
	f.OnVolume(func(_ context.Context, u domain.VolumeUpdate) {
		deps.Tracker.OnVolumeUpdate(u)
		deps.Volume.OnVolumeUpdate(u)
	})
}

// startEngine adds the engine's background loops to the errgroup: latency
// probing, score refreshing, liquidity warmup, and the orchestrator itself.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Prober.Run(ctx)
	})
	g.Go(func() error {
		return deps.Scorer.Run(ctx)
	})
	g.Go(func() error {
		return deps.Liquidity.RunWarmup(ctx)
	})
	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})
}

// startHTTPServer adds the HTTP API server to the errgroup and shuts it down
// gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Executions: handler.NewExecutionHandler(deps.Engine, ctx, a.logger),
		Venues:     handler.NewVenueHandler(deps.Scorer, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// feedSymbols returns the symbols to subscribe to, falling back to the
// liquidity warmup list when the feed section leaves them unset.
func (a *App) feedSymbols() []string {
	if len(a.cfg.Feed.Symbols) > 0 {
		return a.cfg.Feed.Symbols
	}
	return a.cfg.Liquidity.WarmupSymbols
}
