package indicators

// computeRSI produces the RSI result plus zone and divergence events
func computeRSI(closes []float64, cfg Config) RSIResult {
	series := rsiSeries(closes, cfg.RSIPeriod)
	value := lastValid(series, 50)
	res := RSIResult{Value: roundTo(value, 4)}
	if !windowValid(series, len(series)-1, 1) {
		return res
	}

	switch {
	case value <= 15:
		res.Events = append(res.Events, SignalEvent{NameRSI, EventZone, Bullish, Extreme, value})
	case value <= 20:
		res.Events = append(res.Events, SignalEvent{NameRSI, EventZone, Bullish, VeryStrong, value})
	case value <= 25:
		res.Events = append(res.Events, SignalEvent{NameRSI, EventZone, Bullish, Strong, value})
	case value < 30:
		res.Events = append(res.Events, SignalEvent{NameRSI, EventZone, Bullish, Moderate, value})
	case value >= 85:
		res.Events = append(res.Events, SignalEvent{NameRSI, EventZone, Bearish, Extreme, value})
	case value >= 80:
		res.Events = append(res.Events, SignalEvent{NameRSI, EventZone, Bearish, VeryStrong, value})
	case value >= 75:
		res.Events = append(res.Events, SignalEvent{NameRSI, EventZone, Bearish, Strong, value})
	case value > 70:
		res.Events = append(res.Events, SignalEvent{NameRSI, EventZone, Bearish, Moderate, value})
	}

	if div := detectDivergence(NameRSI, closes, series, cfg.DivLookback); div != nil {
		res.Events = append(res.Events, *div)
	}
	return res
}

// computeStochRSI computes the stochastic of RSI with K/D smoothing
// (RSI length, stochastic window, K smooth, D smooth).
func computeStochRSI(closes []float64, cfg Config) StochRSIResult {
	rsi := rsiSeries(closes, cfg.StochRSIPeriod)
	raw := stochRawSeries(rsi, rsi, rsi, cfg.StochRSIStoch)
	k := smaSeries(raw, cfg.StochRSIK)
	d := smaSeries(k, cfg.StochRSID)

	res := StochRSIResult{
		K: roundTo(lastValid(k, 50), 4),
		D: roundTo(lastValid(d, 50), 4),
	}
	n := len(k)
	if n == 0 || !valid(k[n-1]) || !valid(d[n-1]) {
		return res
	}

	if crossedAbove(k, d) {
		strength := Moderate
		if res.K < 20 {
			strength = Strong
		}
		res.Events = append(res.Events, SignalEvent{NameStochRSI, EventCrossover, Bullish, strength, res.K})
	} else if crossedBelow(k, d) {
		strength := Moderate
		if res.K > 80 {
			strength = Strong
		}
		res.Events = append(res.Events, SignalEvent{NameStochRSI, EventCrossover, Bearish, strength, res.K})
	}

	switch {
	case res.K < 10 && res.D < 10:
		res.Events = append(res.Events, SignalEvent{NameStochRSI, EventZone, Bullish, VeryStrong, res.K})
	case res.K < 20 && res.D < 20:
		res.Events = append(res.Events, SignalEvent{NameStochRSI, EventZone, Bullish, Moderate, res.K})
	case res.K > 90 && res.D > 90:
		res.Events = append(res.Events, SignalEvent{NameStochRSI, EventZone, Bearish, VeryStrong, res.K})
	case res.K > 80 && res.D > 80:
		res.Events = append(res.Events, SignalEvent{NameStochRSI, EventZone, Bearish, Moderate, res.K})
	}
	return res
}

// computeWilliamsR computes Williams %R over the lookback window
func computeWilliamsR(highs, lows, closes []float64, cfg Config) WilliamsRResult {
	raw := stochRawSeries(closes, highs, lows, cfg.WilliamsPeriod)
	res := WilliamsRResult{Value: -50}
	n := len(raw)
	if n == 0 || !valid(raw[n-1]) {
		return res
	}
	// %R is the stochastic flipped to [-100, 0]
	value := raw[n-1] - 100
	res.Value = roundTo(value, 4)

	switch {
	case value <= -95:
		res.Events = append(res.Events, SignalEvent{NameWilliamsR, EventZone, Bullish, VeryStrong, value})
	case value <= -80:
		res.Events = append(res.Events, SignalEvent{NameWilliamsR, EventZone, Bullish, Strong, value})
	case value >= -5:
		res.Events = append(res.Events, SignalEvent{NameWilliamsR, EventZone, Bearish, VeryStrong, value})
	case value >= -20:
		res.Events = append(res.Events, SignalEvent{NameWilliamsR, EventZone, Bearish, Strong, value})
	}
	return res
}

// computeStochastic computes the classic %K(14) smoothed by %D(3)
func computeStochastic(highs, lows, closes []float64, cfg Config) StochasticResult {
	raw := stochRawSeries(closes, highs, lows, cfg.StochPeriod)
	k := smaSeries(raw, cfg.StochSmooth)
	d := smaSeries(k, cfg.StochSmooth)

	res := StochasticResult{
		K: roundTo(lastValid(k, 50), 4),
		D: roundTo(lastValid(d, 50), 4),
	}
	n := len(k)
	if n == 0 || !valid(k[n-1]) || !valid(d[n-1]) {
		return res
	}

	if crossedAbove(k, d) {
		strength := Moderate
		if res.K < 20 {
			strength = Strong
		}
		res.Events = append(res.Events, SignalEvent{NameStochastic, EventKDCross, Bullish, strength, res.K})
	} else if crossedBelow(k, d) {
		strength := Moderate
		if res.K > 80 {
			strength = Strong
		}
		res.Events = append(res.Events, SignalEvent{NameStochastic, EventKDCross, Bearish, strength, res.K})
	}

	switch {
	case res.K < 20:
		res.Events = append(res.Events, SignalEvent{NameStochastic, EventZone, Bullish, Moderate, res.K})
	case res.K > 80:
		res.Events = append(res.Events, SignalEvent{NameStochastic, EventZone, Bearish, Moderate, res.K})
	}
	return res
}

// computeKDJ computes the KDJ oscillator. K and D start from the first
// valid RSV value; J = 3K - 2D and may leave [0, 100].
func computeKDJ(highs, lows, closes []float64, cfg Config) KDJResult {
	rsv := stochRawSeries(closes, highs, lows, cfg.KDJPeriod)

	kSeries := nanSlice(len(rsv))
	dSeries := nanSlice(len(rsv))
	kPrev, dPrev := 50.0, 50.0
	started := false
	for i, v := range rsv {
		if !valid(v) {
			continue
		}
		if !started {
			// seed from the first valid RSV
			kPrev = v
			dPrev = v
			started = true
		} else {
			kPrev = (2*kPrev + v) / 3
			dPrev = (2*dPrev + kPrev) / 3
		}
		kSeries[i] = kPrev
		dSeries[i] = dPrev
	}

	res := KDJResult{K: 50, D: 50, J: 50}
	if !started {
		return res
	}
	k := lastValid(kSeries, 50)
	d := lastValid(dSeries, 50)
	j := 3*k - 2*d
	res.K = roundTo(k, 4)
	res.D = roundTo(d, 4)
	res.J = roundTo(j, 4)

	if crossedAbove(kSeries, dSeries) {
		strength := Moderate
		if k < 30 {
			strength = Strong
		}
		res.Events = append(res.Events, SignalEvent{NameKDJ, EventKDCross, Bullish, strength, k})
	} else if crossedBelow(kSeries, dSeries) {
		strength := Moderate
		if k > 70 {
			strength = Strong
		}
		res.Events = append(res.Events, SignalEvent{NameKDJ, EventKDCross, Bearish, strength, k})
	}

	switch {
	case j < -5:
		res.Events = append(res.Events, SignalEvent{NameKDJ, EventJExtreme, Bullish, Strong, j})
	case j < 10:
		res.Events = append(res.Events, SignalEvent{NameKDJ, EventJExtreme, Bullish, Moderate, j})
	case j > 105:
		res.Events = append(res.Events, SignalEvent{NameKDJ, EventJExtreme, Bearish, Strong, j})
	case j > 90:
		res.Events = append(res.Events, SignalEvent{NameKDJ, EventJExtreme, Bearish, Moderate, j})
	}
	return res
}
