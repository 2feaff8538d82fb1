package indicators

// detectDivergence pairs the two most recent interior local extrema on
// price and on the indicator over the lookback window. Regular bullish:
// price makes a lower low while the indicator makes a higher low. Regular
// bearish is the mirror on highs.
func detectDivergence(name string, prices, indicator []float64, lookback int) *SignalEvent {
	n := len(prices)
	if n != len(indicator) || n < 5 {
		return nil
	}
	start := n - lookback
	if start < 1 {
		start = 1
	}

	priceLows := localExtrema(prices, start, false)
	indLows := localExtrema(indicator, start, false)
	if len(priceLows) >= 2 && len(indLows) >= 2 {
		p1, p2 := priceLows[len(priceLows)-2], priceLows[len(priceLows)-1]
		i1, i2 := indLows[len(indLows)-2], indLows[len(indLows)-1]
		if prices[p2] < prices[p1] && indicator[i2] > indicator[i1] {
			return &SignalEvent{name, EventDivergence, Bullish, Strong, indicator[i2]}
		}
	}

	priceHighs := localExtrema(prices, start, true)
	indHighs := localExtrema(indicator, start, true)
	if len(priceHighs) >= 2 && len(indHighs) >= 2 {
		p1, p2 := priceHighs[len(priceHighs)-2], priceHighs[len(priceHighs)-1]
		i1, i2 := indHighs[len(indHighs)-2], indHighs[len(indHighs)-1]
		if prices[p2] > prices[p1] && indicator[i2] < indicator[i1] {
			return &SignalEvent{name, EventDivergence, Bearish, Strong, indicator[i2]}
		}
	}
	return nil
}

// localExtrema returns indices of strict interior local maxima (peaks=true)
// or minima within [start, len-2]. NaN values never qualify.
func localExtrema(values []float64, start int, peaks bool) []int {
	var out []int
	for i := start; i < len(values)-1; i++ {
		if !valid(values[i-1]) || !valid(values[i]) || !valid(values[i+1]) {
			continue
		}
		if peaks {
			if values[i] > values[i-1] && values[i] > values[i+1] {
				out = append(out, i)
			}
		} else {
			if values[i] < values[i-1] && values[i] < values[i+1] {
				out = append(out, i)
			}
		}
	}
	return out
}
