package indicators

import "math"

// Series helpers. All functions return slices aligned to their input with
// math.NaN() padding the warm-up region, so index i in the output always
// corresponds to index i in the input.

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func valid(v float64) bool { return !math.IsNaN(v) }

// smaSeries computes a simple moving average
func smaSeries(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		if !valid(v) {
			// restart accumulation after invalid warm-up values
			sum = 0
			continue
		}
		sum += v
		if i >= period && valid(values[i-period]) {
			sum -= values[i-period]
		}
		if i >= period-1 && windowValid(values, i, period) {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// windowValid reports whether the period-long window ending at i holds no NaN
func windowValid(values []float64, i, period int) bool {
	if i-period+1 < 0 {
		return false
	}
	for j := i - period + 1; j <= i; j++ {
		if !valid(values[j]) {
			return false
		}
	}
	return true
}

// emaSeries computes an exponential moving average seeded with the SMA of
// the first period values (starting after any NaN warm-up prefix).
func emaSeries(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}

	// locate first index where a full valid window exists
	start := -1
	for i := range values {
		if windowValid(values, i, period) {
			start = i
			break
		}
	}
	if start < 0 {
		return out
	}

	var seed float64
	for j := start - period + 1; j <= start; j++ {
		seed += values[j]
	}
	seed /= float64(period)
	out[start] = seed

	alpha := 2.0 / (float64(period) + 1.0)
	prev := seed
	for i := start + 1; i < len(values); i++ {
		if !valid(values[i]) {
			continue
		}
		prev = (values[i]-prev)*alpha + prev
		out[i] = prev
	}
	return out
}

// wmaSeries computes a linearly weighted moving average
func wmaSeries(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	denom := float64(period*(period+1)) / 2.0
	for i := period - 1; i < len(values); i++ {
		if !windowValid(values, i, period) {
			continue
		}
		var sum float64
		for j := 0; j < period; j++ {
			sum += values[i-period+1+j] * float64(j+1)
		}
		out[i] = sum / denom
	}
	return out
}

// stdDevSeries computes the population standard deviation over a rolling
// window, matching the Bollinger convention.
func stdDevSeries(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		if !windowValid(values, i, period) {
			continue
		}
		var sum float64
		for j := i - period + 1; j <= i; j++ {
			sum += values[j]
		}
		mean := sum / float64(period)
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			diff := values[j] - mean
			variance += diff * diff
		}
		out[i] = math.Sqrt(variance / float64(period))
	}
	return out
}

// rsiSeries computes RSI with Wilder smoothing. The first value appears at
// index period (seeded with the simple average of the first period moves).
func rsiSeries(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// stochRawSeries computes the raw stochastic %K of a series against the
// rolling high/low of the lookback window.
func stochRawSeries(values, highs, lows []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		if !windowValid(values, i, period) {
			continue
		}
		hi := math.Inf(-1)
		lo := math.Inf(1)
		for j := i - period + 1; j <= i; j++ {
			if highs[j] > hi {
				hi = highs[j]
			}
			if lows[j] < lo {
				lo = lows[j]
			}
		}
		if hi == lo {
			out[i] = 50
			continue
		}
		out[i] = (values[i] - lo) / (hi - lo) * 100
	}
	return out
}

// trueRangeSeries computes the true range per bar (first bar uses high-low)
func trueRangeSeries(highs, lows, closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		if i == 0 {
			out[i] = highs[i] - lows[i]
			continue
		}
		tr := highs[i] - lows[i]
		if hc := math.Abs(highs[i] - closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := math.Abs(lows[i] - closes[i-1]); lc > tr {
			tr = lc
		}
		out[i] = tr
	}
	return out
}

// wilderSmoothSeries applies Wilder's smoothing (RMA) seeded with the SMA
// of the first period values.
func wilderSmoothSeries(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var seed float64
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	p := float64(period)
	prev := seed
	for i := period; i < len(values); i++ {
		prev = (prev*(p-1) + values[i]) / p
		out[i] = prev
	}
	return out
}

// lastValid returns the most recent non-NaN value, or fallback
func lastValid(values []float64, fallback float64) float64 {
	for i := len(values) - 1; i >= 0; i-- {
		if valid(values[i]) {
			return values[i]
		}
	}
	return fallback
}

// crossedAbove reports whether a crossed above b at the final index
func crossedAbove(a, b []float64) bool {
	n := len(a)
	if n < 2 || len(b) != n {
		return false
	}
	if !valid(a[n-1]) || !valid(a[n-2]) || !valid(b[n-1]) || !valid(b[n-2]) {
		return false
	}
	return a[n-2] <= b[n-2] && a[n-1] > b[n-1]
}

// crossedBelow reports whether a crossed below b at the final index
func crossedBelow(a, b []float64) bool {
	n := len(a)
	if n < 2 || len(b) != n {
		return false
	}
	if !valid(a[n-1]) || !valid(a[n-2]) || !valid(b[n-1]) || !valid(b[n-2]) {
		return false
	}
	return a[n-2] >= b[n-2] && a[n-1] < b[n-1]
}

// crossedLevel reports a cross of the series over a constant level:
// +1 upward, -1 downward, 0 none.
func crossedLevel(series []float64, level float64) int {
	n := len(series)
	if n < 2 || !valid(series[n-1]) || !valid(series[n-2]) {
		return 0
	}
	if series[n-2] <= level && series[n-1] > level {
		return 1
	}
	if series[n-2] >= level && series[n-1] < level {
		return -1
	}
	return 0
}

// roundTo rounds to the given number of decimal places. Bundle scalars are
// rounded at the API boundary; intermediate math stays in full precision.
func roundTo(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
