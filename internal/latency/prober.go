package latency

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// Prober periodically health-probes every registered venue adapter and feeds
// the measurements into the Service. A failing probe is recorded against the
// venue's success rate and the loop continues.
type Prober struct {
	svc      *Service
	adapters []domain.VenueAdapter
	interval time.Duration
	logger   *slog.Logger
}

// NewProber creates a Prober over the given adapters.
func NewProber(svc *Service, adapters []domain.VenueAdapter, interval time.Duration, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Prober{
		svc:      svc,
		adapters: adapters,
		interval: interval,
		logger:   logger.With(slog.String("component", "latency_prober")),
	}
}

// Run probes all venues on the configured cadence until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	for _, a := range p.adapters {
		probeCtx, cancel := context.WithTimeout(ctx, p.interval)
		rtt, err := a.Probe(probeCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.svc.Record(a.Name(), 0, false)
			p.logger.Debug("venue probe failed",
				slog.String("venue", a.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.svc.Record(a.Name(), rtt, true)
	}
}
