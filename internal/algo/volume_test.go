package algo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execengine/internal/domain"
)

func TestVolumeBookTrackerPerSymbol(t *testing.T) {
	vb := NewVolumeBook()
	a := vb.Tracker("ETH-USD")
	b := vb.Tracker("BTC-USD")
	assert.NotSame(t, a, b)
	assert.Same(t, a, vb.Tracker("ETH-USD"))

	vb.OnVolumeUpdate(domain.VolumeUpdate{Symbol: "ETH-USD", Size: 42, Timestamp: time.Now()})
	assert.InDelta(t, 42.0, a.MarketVolume(time.Minute), 1e-9)
	assert.Zero(t, b.MarketVolume(time.Minute))
}

func TestVolumeTrackerWindowing(t *testing.T) {
	tr := newVolumeTracker()
	now := time.Now()

	tr.Observe(domain.VolumeUpdate{Size: 100, Timestamp: now.Add(-90 * time.Second)})
	tr.Observe(domain.VolumeUpdate{Size: 50, Timestamp: now.Add(-30 * time.Second)})
	tr.Observe(domain.VolumeUpdate{Size: 25, Timestamp: now.Add(-5 * time.Second)})

	assert.InDelta(t, 25.0, tr.MarketVolume(10*time.Second), 1e-9)
	assert.InDelta(t, 75.0, tr.MarketVolume(time.Minute), 1e-9)
	assert.InDelta(t, 175.0, tr.MarketVolume(2*time.Minute), 1e-9)
}

func TestVolumeTrackerParticipation(t *testing.T) {
	tr := newVolumeTracker()
	now := time.Now()

	assert.Zero(t, tr.Participation(time.Minute), "no market volume means zero participation")

	tr.Observe(domain.VolumeUpdate{Size: 80, Timestamp: now.Add(-10 * time.Second)})
	tr.Observe(domain.VolumeUpdate{Size: 20, Timestamp: now.Add(-5 * time.Second)})
	tr.RecordOwn(25, now.Add(-3*time.Second))

	assert.InDelta(t, 0.25, tr.Participation(time.Minute), 1e-9)
	assert.InDelta(t, 25.0, tr.OwnVolume(time.Minute), 1e-9)
}

func TestVolumeTrackerRateEMA(t *testing.T) {
	tr := newVolumeTracker()
	now := time.Now()

	// Constant 100-unit prints one second apart settle the EMA at 100/s with
	// zero variance.
	for i := 5; i >= 0; i-- {
		tr.Observe(domain.VolumeUpdate{Size: 100, Timestamp: now.Add(-time.Duration(i) * time.Second)})
	}
	assert.InDelta(t, 100.0, tr.Rate(), 1e-9)
	assert.Zero(t, tr.RateVolatility())

	// A jump moves the EMA by a fifth of the deviation.
	tr.Observe(domain.VolumeUpdate{Size: 200, Timestamp: now.Add(time.Second)})
	assert.InDelta(t, 120.0, tr.Rate(), 1e-9)
	assert.Greater(t, tr.RateVolatility(), 0.0)
}

func TestVolumeTrackerSizePercentile(t *testing.T) {
	tr := newVolumeTracker()
	assert.Zero(t, tr.SizePercentile(0.95), "no prints yet")

	now := time.Now()
	for _, size := range []float64{5, 1, 3, 2, 4} {
		tr.Observe(domain.VolumeUpdate{Size: size, Timestamp: now})
	}

	assert.InDelta(t, 5.0, tr.SizePercentile(1.0), 1e-9)
	assert.InDelta(t, 2.0, tr.SizePercentile(0.5), 1e-9)
	assert.InDelta(t, 1.0, tr.SizePercentile(0.1), 1e-9)
}

func TestVolumeTrackerTrimsOldPrints(t *testing.T) {
	tr := newVolumeTracker()
	now := time.Now()

	tr.Observe(domain.VolumeUpdate{Size: 100, Timestamp: now.Add(-10 * time.Minute)})
	tr.Observe(domain.VolumeUpdate{Size: 50, Timestamp: now})
	require.InDelta(t, 50.0, tr.MarketVolume(time.Hour), 1e-9, "prints older than the retention horizon are dropped")
}
