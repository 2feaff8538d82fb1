package indicators

// computeAO computes the Awesome Oscillator(5, 34) over median prices with
// zero-cross, saucer and twin-peaks events.
func computeAO(highs, lows []float64, cfg Config) AOResult {
	n := len(highs)
	median := make([]float64, n)
	for i := range median {
		median[i] = (highs[i] + lows[i]) / 2
	}
	fast := smaSeries(median, cfg.AOFast)
	slow := smaSeries(median, cfg.AOSlow)

	ao := nanSlice(n)
	for i := range median {
		if valid(fast[i]) && valid(slow[i]) {
			ao[i] = fast[i] - slow[i]
		}
	}

	res := AOResult{}
	if n == 0 || !valid(ao[n-1]) {
		return res
	}
	res.Value = roundTo(ao[n-1], 8)

	switch crossedLevel(ao, 0) {
	case 1:
		res.Events = append(res.Events, SignalEvent{NameAO, EventZeroCross, Bullish, Strong, res.Value})
	case -1:
		res.Events = append(res.Events, SignalEvent{NameAO, EventZeroCross, Bearish, Strong, res.Value})
	}

	// saucer: three bars on one side of zero, two falling then one rising
	if n >= 3 && valid(ao[n-2]) && valid(ao[n-3]) {
		a, b, c := ao[n-3], ao[n-2], ao[n-1]
		if a > 0 && b > 0 && c > 0 && b < a && c > b {
			res.Events = append(res.Events, SignalEvent{NameAO, EventSaucer, Bullish, Moderate, res.Value})
		} else if a < 0 && b < 0 && c < 0 && b > a && c < b {
			res.Events = append(res.Events, SignalEvent{NameAO, EventSaucer, Bearish, Moderate, res.Value})
		}
	}

	if ev := detectTwinPeaks(ao); ev != nil {
		res.Events = append(res.Events, *ev)
	}
	return res
}

// detectTwinPeaks finds the AO twin-peaks pattern: two troughs below zero
// with the second shallower (bullish), mirrored above zero for bearish.
func detectTwinPeaks(ao []float64) *SignalEvent {
	n := len(ao)
	if n < 5 {
		return nil
	}

	// only consider the recent window with no zero-cross inside it
	var troughs, peaks []float64
	for i := n - 2; i >= 1; i-- {
		if !valid(ao[i-1]) || !valid(ao[i]) || !valid(ao[i+1]) {
			break
		}
		if sameSign(ao[i], ao[n-1]) == false {
			break
		}
		if ao[i] < ao[i-1] && ao[i] < ao[i+1] {
			troughs = append(troughs, ao[i])
		}
		if ao[i] > ao[i-1] && ao[i] > ao[i+1] {
			peaks = append(peaks, ao[i])
		}
		if len(troughs) >= 2 || len(peaks) >= 2 {
			break
		}
	}

	if ao[n-1] < 0 && len(troughs) >= 2 && troughs[0] > troughs[1] && ao[n-1] > troughs[0] {
		return &SignalEvent{NameAO, EventTwinPeaks, Bullish, Strong, ao[n-1]}
	}
	if ao[n-1] > 0 && len(peaks) >= 2 && peaks[0] < peaks[1] && ao[n-1] < peaks[0] {
		return &SignalEvent{NameAO, EventTwinPeaks, Bearish, Strong, ao[n-1]}
	}
	return nil
}

func sameSign(a, b float64) bool {
	return (a >= 0 && b >= 0) || (a <= 0 && b <= 0)
}

// computeOBV computes on-balance volume with its WMA(20) and SMA(20) and a
// volume-cross event when OBV crosses its weighted average.
func computeOBV(closes, volumes []float64, cfg Config) OBVResult {
	n := len(closes)
	obv := make([]float64, n)
	for i := 1; i < n; i++ {
		switch {
		case closes[i] > closes[i-1]:
			obv[i] = obv[i-1] + volumes[i]
		case closes[i] < closes[i-1]:
			obv[i] = obv[i-1] - volumes[i]
		default:
			obv[i] = obv[i-1]
		}
	}

	wma := wmaSeries(obv, cfg.OBVMAPeriod)
	sma := smaSeries(obv, cfg.OBVMAPeriod)

	res := OBVResult{}
	if n == 0 {
		return res
	}
	res.Value = roundTo(obv[n-1], 2)
	res.WMA = roundTo(lastValid(wma, 0), 2)
	res.SMA = roundTo(lastValid(sma, 0), 2)

	if crossedAbove(obv, wma) {
		res.Events = append(res.Events, SignalEvent{NameOBV, EventVolumeCross, Bullish, Moderate, res.Value})
	} else if crossedBelow(obv, wma) {
		res.Events = append(res.Events, SignalEvent{NameOBV, EventVolumeCross, Bearish, Moderate, res.Value})
	}

	if div := detectDivergence(NameOBV, closes, obv, cfg.DivLookback); div != nil {
		res.Events = append(res.Events, *div)
	}
	return res
}

// computeCMF computes Chaikin Money Flow(20) with accumulation zone events
func computeCMF(highs, lows, closes, volumes []float64, cfg Config) CMFResult {
	n := len(closes)
	res := CMFResult{}
	if n < cfg.CMFPeriod {
		return res
	}

	var mfvSum, volSum float64
	for i := n - cfg.CMFPeriod; i < n; i++ {
		span := highs[i] - lows[i]
		if span == 0 || volumes[i] == 0 {
			continue
		}
		multiplier := ((closes[i] - lows[i]) - (highs[i] - closes[i])) / span
		mfvSum += multiplier * volumes[i]
		volSum += volumes[i]
	}
	if volSum == 0 {
		return res
	}
	value := mfvSum / volSum
	res.Value = roundTo(value, 6)

	switch {
	case value > 0.25:
		res.Events = append(res.Events, SignalEvent{NameCMF, EventZone, Bullish, Strong, value})
	case value > 0.10:
		res.Events = append(res.Events, SignalEvent{NameCMF, EventZone, Bullish, Moderate, value})
	case value < -0.25:
		res.Events = append(res.Events, SignalEvent{NameCMF, EventZone, Bearish, Strong, value})
	case value < -0.10:
		res.Events = append(res.Events, SignalEvent{NameCMF, EventZone, Bearish, Moderate, value})
	}
	return res
}
