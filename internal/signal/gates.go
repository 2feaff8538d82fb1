package signal

import "math"

// applyGates runs the entry gate chain and fills BlockReasons. The gates
// are conjunctive: authorization requires every one to pass. Gate order is
// fixed so the first reason in the slice is always the cheapest check that
// failed.
func (g *Generator) applyGates(c *Composite, priorScore, drawdown float64) {
	abs := math.Abs(c.Score)

	if abs < g.cfg.DeadZone || c.Side == None {
		c.BlockReasons = append(c.BlockReasons, BlockDeadZone)
	}
	if abs < g.cfg.MinScore {
		c.BlockReasons = append(c.BlockReasons, BlockMinScore)
	}
	if g.cfg.RequireThresholdX && !crossedThreshold(priorScore, c.Score, g.cfg.MinScore) {
		c.BlockReasons = append(c.BlockReasons, BlockThresholdX)
	}
	if c.Confidence < g.cfg.MinConfidence {
		c.BlockReasons = append(c.BlockReasons, BlockMinConfidence)
	}
	if c.Agreeing < g.cfg.MinIndicators {
		c.BlockReasons = append(c.BlockReasons, BlockMinIndicators)
	}
	if voting := c.Agreeing + c.Opposing; voting > 0 {
		confluence := 100 * float64(c.Agreeing) / float64(voting)
		if confluence < g.cfg.MinConfluencePct {
			c.BlockReasons = append(c.BlockReasons, BlockConfluence)
		}
	}
	if g.cfg.RequireTrendAlign && !trendAligned(c) {
		c.BlockReasons = append(c.BlockReasons, BlockTrendAlign)
	}
	if drawdown > 0 && g.cfg.DrawdownGate > 0 && drawdown >= g.cfg.DrawdownGate {
		c.BlockReasons = append(c.BlockReasons, BlockDrawdown)
	}

	c.Authorized = len(c.BlockReasons) == 0
	if !c.Authorized && abs >= g.cfg.MinScore {
		g.logger.Debug().
			Str("instrument", c.Instrument).
			Float64("score", c.Score).
			Strs("reasons", c.BlockReasons).
			Msg("Signal blocked")
	}
}

// crossedThreshold is true when the score moved from inside the entry band
// to outside it on this evaluation. Re-emitting while the score sits above
// the threshold would open duplicate positions on every candle.
func crossedThreshold(prior, current, minScore float64) bool {
	return math.Abs(prior) < minScore && math.Abs(current) >= minScore
}

// trendAligned requires the side to agree with the regime when the regime
// is directional. Ranging and unknown regimes pass.
func trendAligned(c *Composite) bool {
	switch c.Regime {
	case RegimeTrendingLong:
		return c.Side == Long
	case RegimeTrendingShort:
		return c.Side == Short
	default:
		return true
	}
}
