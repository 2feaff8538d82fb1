package signal

import (
	"math"

	"github.com/quantflow/quantflow/internal/indicators"
)

// tfVote is the direction one auxiliary timeframe casts, derived from the
// net event sign of its bundle.
type tfVote int

const (
	voteConflict tfVote = -1
	voteNeutral  tfVote = 0
	voteAligned  tfVote = 1
)

// applyConvergence folds auxiliary timeframe bundles into the score. Each
// aligned timeframe adds its bonus, a conflicting one subtracts the
// penalty, and the final quality grade scales the score multiplicatively:
// A x1.4, B x1.2, C x1.0, D x0.7.
func (g *Generator) applyConvergence(c *Composite, in Input) {
	side := sideOf(c.Score, g.cfg.DeadZone)
	if side == None {
		c.Quality = QualityD
		return
	}

	total := 0
	aligned := 0
	conflicts := 0
	adjust := 0.0

	for _, b := range in.LTF {
		total++
		switch voteFor(b, side) {
		case voteAligned:
			aligned++
			adjust += g.mtf.LTFBonus
		case voteConflict:
			conflicts++
			adjust -= g.mtf.ConflictPen
		}
	}
	for _, b := range in.HTF {
		total++
		switch voteFor(b, side) {
		case voteAligned:
			aligned++
			adjust += g.mtf.HTFBonus
		case voteConflict:
			conflicts++
			adjust -= g.mtf.ConflictPen
		default:
			// an HTF oscillator sitting just outside its reversal zone is
			// treated as pending confirmation rather than dead weight
			if pendingExtreme(b, side) {
				adjust += g.mtf.PendingBonus
			}
		}
	}

	c.AlignedTFs = aligned
	c.Quality = gradeQuality(total, aligned, conflicts)

	score := c.Score + math.Copysign(adjust, c.Score)
	score *= qualityFactor(c.Quality)
	c.Score = roundTo(clamp(score, -g.cfg.TotalCap, g.cfg.TotalCap), 4)
}

// voteFor reduces a bundle to a direction vote by net event sign
func voteFor(b *indicators.Bundle, side Side) tfVote {
	if b == nil {
		return voteNeutral
	}
	net := 0
	for _, ev := range b.Events() {
		net += ev.Direction.Sign()
	}
	switch {
	case net == 0:
		return voteNeutral
	case (net > 0) == (side == Long):
		return voteAligned
	default:
		return voteConflict
	}
}

// pendingExtreme reports whether the bundle's RSI is within five points of
// entering the reversal zone that would confirm the side.
func pendingExtreme(b *indicators.Bundle, side Side) bool {
	if b == nil {
		return false
	}
	rsi := b.RSI.Value
	if side == Long {
		return rsi >= 30 && rsi < 35
	}
	return rsi > 65 && rsi <= 70
}

func gradeQuality(total, aligned, conflicts int) ConvergenceQuality {
	switch {
	case total == 0:
		return QualityC
	case aligned == total:
		return QualityA
	case conflicts == 0 && aligned >= total-1 && aligned > 0:
		return QualityB
	case aligned*2 >= total && conflicts <= 1:
		return QualityC
	default:
		return QualityD
	}
}

func qualityFactor(q ConvergenceQuality) float64 {
	switch q {
	case QualityA:
		return 1.4
	case QualityB:
		return 1.2
	case QualityD:
		return 0.7
	default:
		return 1.0
	}
}
