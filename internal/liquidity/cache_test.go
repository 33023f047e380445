package liquidity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// bookVenue is a minimal adapter serving a canned book, with a switchable
// failure mode and a fetch counter.
type bookVenue struct {
	name  string
	class domain.VenueClass
	book  domain.VenueBook

	mu      sync.Mutex
	fetches int
	fail    bool
}

func (v *bookVenue) Name() string             { return v.name }
func (v *bookVenue) Class() domain.VenueClass { return v.class }
func (v *bookVenue) TickSize(string) float64  { return 0.01 }

func (v *bookVenue) Probe(context.Context) (time.Duration, error) { return 0, nil }

func (v *bookVenue) PlaceOrder(context.Context, domain.ClipOrder) (domain.Fill, error) {
	return domain.Fill{}, errors.New("not a trading venue")
}

func (v *bookVenue) FetchBook(_ context.Context, symbol string) (domain.VenueBook, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fetches++
	if v.fail {
		return domain.VenueBook{}, errors.New("venue down")
	}
	b := v.book
	b.FetchedAt = time.Now()
	return b, nil
}

func (v *bookVenue) setFail(fail bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fail = fail
}

func (v *bookVenue) fetchCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fetches
}

type spreadRecorder struct {
	mu  sync.Mutex
	obs map[string]int
}

func (r *spreadRecorder) ObserveBook(venue string, _, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.obs == nil {
		r.obs = make(map[string]int)
	}
	r.obs[venue]++
}

func testBook(venue string, class domain.VenueClass, bid, ask, depth float64) domain.VenueBook {
	return domain.VenueBook{
		Venue:   venue,
		Class:   class,
		BestBid: bid,
		BestAsk: ask,
		Bids:    []domain.PriceLevel{{Price: bid, Size: depth}},
		Asks:    []domain.PriceLevel{{Price: ask, Size: depth}},
	}
}

func newTestCache(cfg Config, tracker *VolatilityTracker, observer BookObserver, adapters ...domain.VenueAdapter) *Cache {
	return NewCache(cfg, adapters, tracker, observer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAggregateAcrossVenues(t *testing.T) {
	a := &bookVenue{name: "alpha", class: domain.VenueClassCEX, book: testBook("alpha", domain.VenueClassCEX, 99.9, 100.1, 500)}
	b := &bookVenue{name: "beta", class: domain.VenueClassECN, book: testBook("beta", domain.VenueClassECN, 99.8, 100.05, 300)}
	c := newTestCache(Config{}, nil, nil, a, b)

	snap, err := c.GetAggregatedLiquidity(context.Background(), "ETH-USD")
	require.NoError(t, err)

	assert.Equal(t, "ETH-USD", snap.Symbol)
	assert.Equal(t, 99.9, snap.BestBid, "best bid across venues")
	assert.Equal(t, 100.05, snap.BestAsk, "best ask across venues")
	assert.InDelta(t, 99.975, snap.MidPrice, 1e-9)
	assert.InDelta(t, 800.0, snap.BidDepth, 1e-9)
	assert.InDelta(t, 800.0, snap.AskDepth, 1e-9)
	assert.InDelta(t, 0.0, snap.Imbalance, 1e-9)
	assert.Len(t, snap.Venues, 2)
	assert.False(t, snap.Stale)
}

func TestCacheHitWithinTTL(t *testing.T) {
	a := &bookVenue{name: "alpha", class: domain.VenueClassCEX, book: testBook("alpha", domain.VenueClassCEX, 99, 101, 100)}
	c := newTestCache(Config{
		TTLByClass: map[domain.VenueClass]time.Duration{domain.VenueClassCEX: time.Minute},
	}, nil, nil, a)

	first, err := c.GetAggregatedLiquidity(context.Background(), "ETH-USD")
	require.NoError(t, err)
	second, err := c.GetAggregatedLiquidity(context.Background(), "ETH-USD")
	require.NoError(t, err)

	assert.Equal(t, 1, a.fetchCount(), "second call must be served from cache")
	assert.Equal(t, first.CapturedAt, second.CapturedAt)
}

func TestCacheRefetchAfterExpiry(t *testing.T) {
	a := &bookVenue{name: "alpha", class: domain.VenueClassCEX, book: testBook("alpha", domain.VenueClassCEX, 99, 101, 100)}
	c := newTestCache(Config{
		TTLByClass: map[domain.VenueClass]time.Duration{domain.VenueClassCEX: 20 * time.Millisecond},
	}, nil, nil, a)

	_, err := c.GetAggregatedLiquidity(context.Background(), "ETH-USD")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, err = c.GetAggregatedLiquidity(context.Background(), "ETH-USD")
	require.NoError(t, err)

	assert.Equal(t, 2, a.fetchCount())
}

func TestStaleSnapshotOnRefreshFailure(t *testing.T) {
	a := &bookVenue{name: "alpha", class: domain.VenueClassCEX, book: testBook("alpha", domain.VenueClassCEX, 99, 101, 100)}
	c := newTestCache(Config{
		TTLByClass: map[domain.VenueClass]time.Duration{domain.VenueClassCEX: 20 * time.Millisecond},
	}, nil, nil, a)

	fresh, err := c.GetAggregatedLiquidity(context.Background(), "ETH-USD")
	require.NoError(t, err)

	a.setFail(true)
	time.Sleep(30 * time.Millisecond)

	snap, err := c.GetAggregatedLiquidity(context.Background(), "ETH-USD")
	require.ErrorIs(t, err, domain.ErrStaleSnapshot)
	assert.True(t, snap.Stale)
	assert.Equal(t, fresh.MidPrice, snap.MidPrice, "stale snapshot carries the last good data")
}

func TestFetchFailureWithoutCachedSnapshot(t *testing.T) {
	a := &bookVenue{name: "alpha", class: domain.VenueClassCEX, fail: true}
	c := newTestCache(Config{}, nil, nil, a)

	_, err := c.GetAggregatedLiquidity(context.Background(), "ETH-USD")
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrStaleSnapshot)
}

func TestPartialVenueCoverage(t *testing.T) {
	a := &bookVenue{name: "alpha", class: domain.VenueClassCEX, book: testBook("alpha", domain.VenueClassCEX, 99, 101, 100)}
	b := &bookVenue{name: "beta", class: domain.VenueClassDEX, fail: true}
	c := newTestCache(Config{}, nil, nil, a, b)

	snap, err := c.GetAggregatedLiquidity(context.Background(), "ETH-USD")
	require.NoError(t, err, "one healthy venue is enough")
	assert.Len(t, snap.Venues, 1)
	assert.Equal(t, "alpha", snap.Venues[0].Venue)
}

func TestObserverSeesEveryFetch(t *testing.T) {
	a := &bookVenue{name: "alpha", class: domain.VenueClassCEX, book: testBook("alpha", domain.VenueClassCEX, 99, 101, 100)}
	rec := &spreadRecorder{}
	c := newTestCache(Config{}, nil, rec, a)

	_, err := c.GetAggregatedLiquidity(context.Background(), "ETH-USD")
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.obs["alpha"])
}

func TestEffectiveTTLShortensWhenVolatile(t *testing.T) {
	tracker := NewVolatilityTracker(5 * time.Minute)
	now := time.Now()
	// A price swinging between 100 and 120 has relative volatility near 0.09.
	for i := 0; i < 10; i++ {
		price := 100.0
		if i%2 == 1 {
			price = 120
		}
		tracker.OnPriceUpdate(domain.PriceUpdate{Symbol: "ETH-USD", Price: price, Timestamp: now.Add(time.Duration(i) * time.Second)})
	}

	c := newTestCache(Config{
		TTLByClass:          map[domain.VenueClass]time.Duration{domain.VenueClassCEX: 4 * time.Second},
		VolatilityThreshold: 0.01,
		ShortenFactor:       0.5,
	}, tracker, nil)

	books := []domain.VenueBook{{Venue: "alpha", Class: domain.VenueClassCEX}}
	assert.Equal(t, 2*time.Second, c.effectiveTTL("ETH-USD", books))
	assert.Equal(t, 4*time.Second, c.effectiveTTL("BTC-USD", books), "calm symbols keep the class TTL")
}

func TestEffectiveTTLTightestClassWins(t *testing.T) {
	c := newTestCache(Config{
		TTLByClass: map[domain.VenueClass]time.Duration{
			domain.VenueClassCEX: 5 * time.Second,
			domain.VenueClassDEX: 12 * time.Second,
		},
	}, nil, nil)

	books := []domain.VenueBook{
		{Venue: "a", Class: domain.VenueClassCEX},
		{Venue: "b", Class: domain.VenueClassDEX},
	}
	assert.Equal(t, 5*time.Second, c.effectiveTTL("ETH-USD", books))

	// Unconfigured classes default to three seconds.
	books = append(books, domain.VenueBook{Venue: "c", Class: domain.VenueClassECN})
	assert.Equal(t, 3*time.Second, c.effectiveTTL("ETH-USD", books))
}
