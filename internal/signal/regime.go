package signal

import (
	"math"
	"strings"

	"github.com/quantflow/quantflow/internal/indicators"
)

// classifyRegime tags the market state from ADX, ATR and the EMA triplet.
// Volatility outranks trend: an overheated tape is "volatile" even when
// the EMAs are stacked.
func classifyRegime(b *indicators.Bundle) Regime {
	if b == nil || b.Close == 0 {
		return RegimeUnknown
	}
	if b.ATR.Percent > 5 {
		return RegimeVolatile
	}
	if b.Bollinger.Bandwidth > 0 {
		for _, ev := range b.Bollinger.Events {
			if ev.Type == indicators.EventBreakout {
				return RegimeBreakout
			}
		}
	}
	adx := b.ADX.Value
	switch {
	case adx >= 25 && b.EMA.Fast > b.EMA.Slow && b.Close > b.EMA.Slow:
		return RegimeTrendingLong
	case adx >= 25 && b.EMA.Fast < b.EMA.Slow && b.Close < b.EMA.Slow:
		return RegimeTrendingShort
	case adx > 0 && adx < 20:
		return RegimeRanging
	default:
		return RegimeUnknown
	}
}

// applyRegimeBias tilts the score toward the regime direction and dampens
// counter-trend and ranging-market scores. The tilt is bounded so a regime
// tag can never manufacture a signal on its own.
func applyRegimeBias(score float64, regime Regime, minScore float64) float64 {
	switch regime {
	case RegimeTrendingLong:
		if score > 0 {
			score *= 1.15
		} else {
			score *= 0.85
		}
	case RegimeTrendingShort:
		if score < 0 {
			score *= 1.15
		} else {
			score *= 0.85
		}
	case RegimeRanging, RegimeUnknown:
		if math.Abs(score) < minScore {
			score *= 0.8
		}
	}
	return roundTo(score, 4)
}

// featureKey names the signal's dominant setup for the kill switch, e.g.
// "bullish_divergence@trending_long". Outcome tracking keys on this string.
func featureKey(c *Composite) string {
	dominant := ""
	best := 0.0
	for _, ev := range c.Events {
		if ev.Direction.Sign() == 0 {
			continue
		}
		if (c.Side == Long) != (ev.Direction.Sign() > 0) {
			continue
		}
		if v := math.Abs(c.Breakdown[ev.Indicator]); v > best {
			best = v
			dominant = string(ev.Direction) + "_" + string(ev.Type)
		}
	}
	if dominant == "" {
		dominant = "mixed"
	}
	return strings.ToLower(dominant) + "@" + string(c.Regime)
}
