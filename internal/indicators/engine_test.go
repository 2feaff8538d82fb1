package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/quantflow/internal/marketstore"
)

func candles(closes []float64) []marketstore.Candle {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]marketstore.Candle, len(closes))
	for i, c := range closes {
		out[i] = marketstore.Candle{
			Time:   base.Add(time.Duration(i) * 15 * time.Minute),
			Open:   c - 0.2,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1000,
		}
	}
	return out
}

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestComputeEmptyWindow(t *testing.T) {
	e := NewEngine(DefaultConfig())
	b := e.Compute(nil)

	require.NotNil(t, b)
	assert.Empty(t, b.Events())
}

func TestComputeShortWindowStaysNeutral(t *testing.T) {
	e := NewEngine(DefaultConfig())
	b := e.Compute(candles([]float64{100, 101, 102}))

	// warm-up not reached: scalars fall back to neutral, no events
	assert.InDelta(t, 50.0, b.RSI.Value, 1e-9)
	assert.InDelta(t, 102.0, b.Close, 1e-9)
	for _, ev := range b.Events() {
		assert.NotEqual(t, EventZone, ev.Type, "no zone events before warm-up, got %v", ev)
	}
}

func TestComputeMonotonicRallyFlagsOverbought(t *testing.T) {
	e := NewEngine(DefaultConfig())
	b := e.Compute(candles(rising(80)))

	assert.InDelta(t, 100.0, b.RSI.Value, 1e-6)

	var zone *SignalEvent
	for _, ev := range b.RSI.Events {
		if ev.Type == EventZone {
			ev := ev
			zone = &ev
		}
	}
	require.NotNil(t, zone, "RSI at 100 must emit an overbought zone event")
	assert.Equal(t, Bearish, zone.Direction)
	assert.Equal(t, Extreme, zone.Strength)
}

func TestComputeSetsBundleHeader(t *testing.T) {
	e := NewEngine(DefaultConfig())
	cs := candles(rising(30))
	b := e.Compute(cs)

	assert.Equal(t, cs[len(cs)-1].Time, b.Time)
	assert.InDelta(t, cs[len(cs)-1].Close, b.Close, 1e-9)
}

func TestNormalizedConfigFillsZeros(t *testing.T) {
	e := NewEngine(Config{})
	cfg := e.Config()

	def := DefaultConfig()
	assert.Equal(t, def.RSIPeriod, cfg.RSIPeriod)
	assert.Equal(t, def.MACDSlow, cfg.MACDSlow)
	assert.Equal(t, def.ATRPeriod, cfg.ATRPeriod)
}
