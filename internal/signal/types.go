package signal

import (
	"time"

	"github.com/quantflow/quantflow/internal/indicators"
)

// Side of a composite signal
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
	None  Side = "none"
)

// Opposite returns the mirrored side
func (s Side) Opposite() Side {
	switch s {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return None
	}
}

// Classification tiers by score magnitude
type Classification string

const (
	ClassExtreme  Classification = "EXTREME"
	ClassStrong   Classification = "STRONG"
	ClassModerate Classification = "MODERATE"
	ClassWeak     Classification = "WEAK"
	ClassNone     Classification = "NONE"
)

// Regime tags supplied by the caller
type Regime string

const (
	RegimeTrendingLong  Regime = "trending_long"
	RegimeTrendingShort Regime = "trending_short"
	RegimeRanging       Regime = "ranging"
	RegimeBreakout      Regime = "breakout"
	RegimeVolatile      Regime = "volatile"
	RegimeUnknown       Regime = "unknown"
)

// ConvergenceQuality grades multi-timeframe agreement
type ConvergenceQuality string

const (
	QualityA ConvergenceQuality = "A" // all timeframes aligned
	QualityB ConvergenceQuality = "B" // all but one, no conflict
	QualityC ConvergenceQuality = "C" // majority aligned
	QualityD ConvergenceQuality = "D" // isolated
)

// Block reasons appended by entry gates
const (
	BlockDeadZone      = "dead_zone"
	BlockMinScore      = "min_score"
	BlockThresholdX    = "threshold_cross"
	BlockMinConfidence = "min_confidence"
	BlockMinIndicators = "min_indicators"
	BlockConfluence    = "min_confluence"
	BlockTrendAlign    = "trend_alignment"
	BlockDrawdown      = "drawdown_cap"
)

// Composite is the fully scored output for one instrument and timeframe
type Composite struct {
	Instrument    string                   `json:"instrument"`
	Timeframe     string                   `json:"timeframe"`
	Score         float64                  `json:"score"`
	Classification Classification          `json:"classification"`
	Side          Side                     `json:"side"`
	Confidence    float64                  `json:"confidence"`
	Breakdown     map[string]float64       `json:"breakdown"` // indicator -> clamped contribution
	MicroScore    float64                  `json:"micro_score"`
	Events        []indicators.SignalEvent `json:"events"`
	Agreeing      int                      `json:"agreeing"`
	Opposing      int                      `json:"opposing"`
	BlockReasons  []string                 `json:"block_reasons,omitempty"`
	Authorized    bool                     `json:"authorized"`
	Quality       ConvergenceQuality       `json:"quality"`
	AlignedTFs    int                      `json:"aligned_tfs"`
	Regime        Regime                   `json:"regime"`
	FeatureKey    string                   `json:"feature_key"`
	ATRPercent    float64                  `json:"atr_percent"`
	Close         float64                  `json:"close"`
	Time          time.Time                `json:"time"`
}

// Blocked reports whether any non-advisory gate failed
func (c *Composite) Blocked() bool { return len(c.BlockReasons) > 0 }
