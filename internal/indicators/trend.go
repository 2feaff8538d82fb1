package indicators

// computeEMA computes the EMA ladder, the configurable fast/mid/slow
// triplet, and golden/death cross events on the triplet's fast vs slow.
func computeEMA(closes []float64, cfg Config) EMAResult {
	res := EMAResult{Values: make(map[int]float64, len(cfg.EMAPeriods))}

	for _, p := range cfg.EMAPeriods {
		s := emaSeries(closes, p)
		if v := lastValid(s, 0); v != 0 {
			res.Values[p] = roundTo(v, 8)
		}
	}

	fast := emaSeries(closes, cfg.EMAFast)
	mid := emaSeries(closes, cfg.EMAMid)
	slow := emaSeries(closes, cfg.EMASlow)
	res.Fast = roundTo(lastValid(fast, 0), 8)
	res.Mid = roundTo(lastValid(mid, 0), 8)
	res.Slow = roundTo(lastValid(slow, 0), 8)

	if crossedAbove(fast, slow) {
		res.Events = append(res.Events, SignalEvent{NameEMA, EventGoldenCross, Bullish, Strong, res.Fast})
	} else if crossedBelow(fast, slow) {
		res.Events = append(res.Events, SignalEvent{NameEMA, EventDeathCross, Bearish, Strong, res.Fast})
	}

	// fast/mid cross as the earlier, weaker confirmation
	if crossedAbove(fast, mid) {
		res.Events = append(res.Events, SignalEvent{NameEMA, EventCrossover, Bullish, Moderate, res.Fast})
	} else if crossedBelow(fast, mid) {
		res.Events = append(res.Events, SignalEvent{NameEMA, EventCrossover, Bearish, Moderate, res.Fast})
	}
	return res
}

// computeADX computes ADX(14) with the +DI/-DI lines using Wilder smoothing
func computeADX(highs, lows, closes []float64, cfg Config) ADXResult {
	period := cfg.ADXPeriod
	n := len(closes)
	res := ADXResult{}
	if n < 2*period+1 {
		return res
	}

	tr := trueRangeSeries(highs, lows, closes)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	// skip the first bar: its TR uses high-low only and DM is undefined
	smTR := wilderSmoothSeries(tr[1:], period)
	smPlus := wilderSmoothSeries(plusDM[1:], period)
	smMinus := wilderSmoothSeries(minusDM[1:], period)

	m := len(smTR)
	dx := nanSlice(m)
	for i := 0; i < m; i++ {
		if !valid(smTR[i]) || smTR[i] == 0 {
			continue
		}
		pdi := smPlus[i] / smTR[i] * 100
		mdi := smMinus[i] / smTR[i] * 100
		if pdi+mdi == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = abs(pdi-mdi) / (pdi + mdi) * 100
	}
	adx := wilderSmoothValid(dx, period)

	if valid(smTR[m-1]) && smTR[m-1] != 0 {
		res.PlusDI = roundTo(smPlus[m-1]/smTR[m-1]*100, 4)
		res.MinusDI = roundTo(smMinus[m-1]/smTR[m-1]*100, 4)
	}
	res.Value = roundTo(lastValid(adx, 0), 4)
	return res
}

// wilderSmoothValid applies Wilder smoothing over the valid suffix of a
// NaN-prefixed series.
func wilderSmoothValid(values []float64, period int) []float64 {
	start := -1
	for i, v := range values {
		if valid(v) {
			start = i
			break
		}
	}
	if start < 0 || len(values)-start < period {
		return nanSlice(len(values))
	}
	smoothed := wilderSmoothSeries(values[start:], period)
	out := nanSlice(len(values))
	copy(out[start:], smoothed)
	return out
}

// computeATR computes ATR(14) and ATR as a percent of the latest close
func computeATR(highs, lows, closes []float64, cfg Config) ATRResult {
	res := ATRResult{}
	n := len(closes)
	if n < cfg.ATRPeriod+1 {
		return res
	}
	tr := trueRangeSeries(highs, lows, closes)
	atr := wilderSmoothSeries(tr[1:], cfg.ATRPeriod)
	value := lastValid(atr, 0)
	res.Value = roundTo(value, 8)
	if closes[n-1] > 0 {
		res.Percent = roundTo(value/closes[n-1]*100, 4)
	}
	return res
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
