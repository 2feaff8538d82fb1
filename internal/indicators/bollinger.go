package indicators

// computeBollinger computes the 20-period 2-sigma bands plus %B, bandwidth
// and squeeze/breakout events.
func computeBollinger(closes []float64, cfg Config) BollingerResult {
	middle := smaSeries(closes, cfg.BBPeriod)
	stddev := stdDevSeries(closes, cfg.BBPeriod)

	n := len(closes)
	res := BollingerResult{}
	if n == 0 || !valid(middle[n-1]) || !valid(stddev[n-1]) {
		if n > 0 {
			res.PercentB = 0.5
		}
		return res
	}

	upper := nanSlice(n)
	lower := nanSlice(n)
	width := nanSlice(n)
	for i := range closes {
		if !valid(middle[i]) || !valid(stddev[i]) {
			continue
		}
		upper[i] = middle[i] + cfg.BBStdDev*stddev[i]
		lower[i] = middle[i] - cfg.BBStdDev*stddev[i]
		if middle[i] != 0 {
			width[i] = (upper[i] - lower[i]) / middle[i]
		}
	}

	res.Upper = roundTo(upper[n-1], 8)
	res.Middle = roundTo(middle[n-1], 8)
	res.Lower = roundTo(lower[n-1], 8)
	res.Bandwidth = roundTo(width[n-1], 8)

	span := upper[n-1] - lower[n-1]
	pb := 0.5
	if span > 0 {
		pb = (closes[n-1] - lower[n-1]) / span
	}
	res.PercentB = roundTo(pb, 6)

	// squeeze: bandwidth at the bottom of its recent range
	lookback := cfg.BBPeriod * 3
	if lookback > n {
		lookback = n
	}
	minW, maxW := width[n-1], width[n-1]
	for i := n - lookback; i < n; i++ {
		if !valid(width[i]) {
			continue
		}
		if width[i] < minW {
			minW = width[i]
		}
		if width[i] > maxW {
			maxW = width[i]
		}
	}
	if maxW > 0 && valid(width[n-1]) && width[n-1] <= minW*1.05 && maxW > minW*1.5 {
		res.Events = append(res.Events, SignalEvent{NameBollinger, EventSqueeze, Neutral, Moderate, res.Bandwidth})
	}

	// band breaks: close punching through a band after staying inside
	if n >= 2 && valid(upper[n-2]) && valid(lower[n-2]) {
		prevClose := closes[n-2]
		switch {
		case prevClose <= upper[n-2] && closes[n-1] > upper[n-1]:
			res.Events = append(res.Events, SignalEvent{NameBollinger, EventBreakout, Bullish, Strong, res.PercentB})
		case prevClose >= lower[n-2] && closes[n-1] < lower[n-1]:
			res.Events = append(res.Events, SignalEvent{NameBollinger, EventBreakout, Bearish, Strong, res.PercentB})
		}
	}

	// zone touches inside the bands; closes beyond a band count as breakout
	if pb > 0 && pb < 0.05 {
		res.Events = append(res.Events, SignalEvent{NameBollinger, EventZone, Bullish, Moderate, res.PercentB})
	} else if pb > 0.95 && pb < 1 {
		res.Events = append(res.Events, SignalEvent{NameBollinger, EventZone, Bearish, Moderate, res.PercentB})
	}
	return res
}
