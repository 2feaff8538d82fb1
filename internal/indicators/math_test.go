package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMASeries(t *testing.T) {
	got := smaSeries([]float64{1, 2, 3, 4, 5}, 3)

	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 2.0, got[2], 1e-9)
	assert.InDelta(t, 3.0, got[3], 1e-9)
	assert.InDelta(t, 4.0, got[4], 1e-9)
}

func TestEMASeriesSeedsWithSMA(t *testing.T) {
	got := emaSeries([]float64{1, 2, 3, 4, 5}, 3)

	// seed at index 2 is the SMA of the first three values
	assert.InDelta(t, 2.0, got[2], 1e-9)
	// alpha = 0.5: 2 + (4-2)*0.5 = 3, then 3 + (5-3)*0.5 = 4
	assert.InDelta(t, 3.0, got[3], 1e-9)
	assert.InDelta(t, 4.0, got[4], 1e-9)
}

func TestRSISeriesAllGainsSaturates(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	got := rsiSeries(closes, 14)

	assert.True(t, math.IsNaN(got[13]))
	assert.InDelta(t, 100.0, got[14], 1e-9)
	assert.InDelta(t, 100.0, got[19], 1e-9)
}

func TestRSISeriesFlatIsNeutral(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	got := rsiSeries(closes, 14)
	assert.InDelta(t, 50.0, got[19], 1e-9)
}

func TestRSISeriesWilderSmoothing(t *testing.T) {
	// alternating +2/-1 moves: avg gain and loss stabilize, RSI above 50
	closes := []float64{100}
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			closes = append(closes, closes[len(closes)-1]+2)
		} else {
			closes = append(closes, closes[len(closes)-1]-1)
		}
	}
	got := rsiSeries(closes, 14)
	last := got[len(got)-1]
	require.False(t, math.IsNaN(last))
	assert.Greater(t, last, 55.0)
	assert.Less(t, last, 80.0)
}

func TestTrueRangeUsesPreviousClose(t *testing.T) {
	highs := []float64{10, 15}
	lows := []float64{8, 12}
	closes := []float64{9, 14}

	got := trueRangeSeries(highs, lows, closes)
	assert.InDelta(t, 2.0, got[0], 1e-9) // first bar: high - low
	assert.InDelta(t, 6.0, got[1], 1e-9) // max(3, |15-9|, |12-9|)
}

func TestStochRawSeries(t *testing.T) {
	values := []float64{1, 2, 3, 4, 10}
	got := stochRawSeries(values, values, values, 5)
	assert.InDelta(t, 100.0, got[4], 1e-9) // close at window high

	flat := []float64{5, 5, 5, 5, 5}
	gotFlat := stochRawSeries(flat, flat, flat, 5)
	assert.InDelta(t, 50.0, gotFlat[4], 1e-9) // degenerate range reads neutral
}

func TestCrossDetection(t *testing.T) {
	fast := []float64{1, 3}
	slow := []float64{2, 2}
	assert.True(t, crossedAbove(fast, slow))
	assert.False(t, crossedBelow(fast, slow))

	assert.True(t, crossedBelow([]float64{3, 1}, slow))
	assert.Equal(t, 1, crossedLevel([]float64{-0.5, 0.5}, 0))
	assert.Equal(t, -1, crossedLevel([]float64{0.5, -0.5}, 0))
	assert.Equal(t, 0, crossedLevel([]float64{0.5, 0.7}, 0))

	// NaN in the pair suppresses the cross
	assert.False(t, crossedAbove([]float64{math.NaN(), 3}, slow))
}

func TestWilderSmoothSeries(t *testing.T) {
	values := []float64{2, 2, 2, 6}
	got := wilderSmoothSeries(values, 3)

	assert.InDelta(t, 2.0, got[2], 1e-9)
	// (2*2 + 6) / 3
	assert.InDelta(t, 10.0/3.0, got[3], 1e-9)
}

func TestLastValidFallback(t *testing.T) {
	assert.InDelta(t, 7.0, lastValid([]float64{math.NaN(), 7, math.NaN()}, 50), 1e-9)
	assert.InDelta(t, 50.0, lastValid(nanSlice(3), 50), 1e-9)
}
