package indicators

import "math"

// computeMACD computes MACD(12/26/9) with crossover, zero-cross and
// divergence events.
func computeMACD(closes []float64, cfg Config) MACDResult {
	fast := emaSeries(closes, cfg.MACDFast)
	slow := emaSeries(closes, cfg.MACDSlow)

	line := nanSlice(len(closes))
	for i := range closes {
		if valid(fast[i]) && valid(slow[i]) {
			line[i] = fast[i] - slow[i]
		}
	}
	signal := emaSeries(line, cfg.MACDSignal)

	res := MACDResult{}
	n := len(line)
	if n == 0 || !valid(line[n-1]) {
		return res
	}
	res.Line = roundTo(line[n-1], 8)
	if valid(signal[n-1]) {
		res.Signal = roundTo(signal[n-1], 8)
		res.Histogram = roundTo(line[n-1]-signal[n-1], 8)
	}

	// strength scales with the histogram relative to price
	strength := func() Strength {
		ref := math.Abs(res.Histogram) / closes[n-1] * 100
		switch {
		case ref > 0.5:
			return VeryStrong
		case ref > 0.2:
			return Strong
		case ref > 0.05:
			return Moderate
		default:
			return Weak
		}
	}

	if crossedAbove(line, signal) {
		res.Events = append(res.Events, SignalEvent{NameMACD, EventCrossover, Bullish, strength(), res.Histogram})
	} else if crossedBelow(line, signal) {
		res.Events = append(res.Events, SignalEvent{NameMACD, EventCrossover, Bearish, strength(), res.Histogram})
	}

	switch crossedLevel(line, 0) {
	case 1:
		res.Events = append(res.Events, SignalEvent{NameMACD, EventZeroCross, Bullish, Strong, res.Line})
	case -1:
		res.Events = append(res.Events, SignalEvent{NameMACD, EventZeroCross, Bearish, Strong, res.Line})
	}

	if div := detectDivergence(NameMACD, closes, line, cfg.DivLookback); div != nil {
		res.Events = append(res.Events, *div)
	}
	return res
}
