package signal

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/indicators"
	"github.com/quantflow/quantflow/internal/marketstore"
)

// Input is everything the generator needs for one scoring pass
type Input struct {
	Instrument string
	Timeframe  string
	Bundle     *indicators.Bundle
	Snapshot   *marketstore.Snapshot          // nil when microstructure is unavailable
	HTF        map[string]*indicators.Bundle  // higher timeframe bundles, keyed by timeframe
	LTF        map[string]*indicators.Bundle  // lower timeframe bundles
	Drawdown   float64                        // current daily drawdown, fraction of day-start equity
}

// Generator turns indicator bundles into composite signals. It keeps the
// last emitted score per instrument and timeframe for threshold-cross
// detection and entry cooldowns.
type Generator struct {
	cfg     config.SignalConfig
	mtf     config.MTFConfig
	profile Profile
	logger  zerolog.Logger

	mu       sync.Mutex
	prior    map[string]float64   // instrument|timeframe -> last score
	lastEmit map[string]time.Time // instrument|timeframe -> last authorized emit
}

// NewGenerator creates a generator. A weight profile path in the config is
// loaded on top of the defaults; a broken profile falls back to defaults
// with a warning rather than aborting startup.
func NewGenerator(cfg config.SignalConfig, mtf config.MTFConfig) *Generator {
	logger := config.NewLogger("signal")
	profile := DefaultProfile()
	if cfg.WeightProfile != "" {
		loaded, err := LoadProfile(cfg.WeightProfile)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.WeightProfile).Msg("Weight profile rejected, using defaults")
		} else {
			profile = loaded
			logger.Info().Str("profile", profile.Name).Msg("Weight profile loaded")
		}
	}
	return &Generator{
		cfg:      cfg,
		mtf:      mtf,
		profile:  profile,
		logger:   logger,
		prior:    make(map[string]float64),
		lastEmit: make(map[string]time.Time),
	}
}

// Profile returns the active weight profile
func (g *Generator) Profile() Profile { return g.profile }

// Generate scores one instrument. It always returns a composite; a signal
// that fails a gate comes back with Authorized=false and the reasons set.
func (g *Generator) Generate(in Input) *Composite {
	b := in.Bundle
	c := &Composite{
		Instrument: in.Instrument,
		Timeframe:  in.Timeframe,
		Breakdown:  make(map[string]float64),
		Regime:     classifyRegime(b),
		ATRPercent: b.ATR.Percent,
		Close:      b.Close,
		Time:       b.Time,
	}

	events := b.Events()
	c.Events = events
	c.Score, c.MicroScore = g.score(events, in.Snapshot, c.Breakdown)
	c.Score = clamp(applyRegimeBias(c.Score, c.Regime, g.cfg.MinScore), -g.cfg.TotalCap, g.cfg.TotalCap)

	if g.mtf.Enabled && (len(in.HTF) > 0 || len(in.LTF) > 0) {
		g.applyConvergence(c, in)
	} else {
		c.Quality = QualityC
	}

	c.Side = sideOf(c.Score, g.cfg.DeadZone)
	c.Classification = g.classify(c.Score)
	c.Agreeing, c.Opposing = countIndicators(events, c.Side)
	c.Confidence = g.confidence(c, b)
	c.FeatureKey = featureKey(c)

	prior := g.swapPrior(in.Instrument, in.Timeframe, c.Score)
	g.applyGates(c, prior, in.Drawdown)

	if c.Authorized {
		g.logger.Debug().
			Str("instrument", c.Instrument).
			Str("timeframe", c.Timeframe).
			Float64("score", c.Score).
			Float64("confidence", c.Confidence).
			Str("side", string(c.Side)).
			Str("quality", string(c.Quality)).
			Msg("Signal authorized")
	}
	return c
}

// score accumulates event contributions with per-indicator and total caps
func (g *Generator) score(events []indicators.SignalEvent, snap *marketstore.Snapshot, breakdown map[string]float64) (float64, float64) {
	perIndicator := make(map[string]float64)
	for _, ev := range events {
		sign := float64(ev.Direction.Sign())
		if sign == 0 {
			continue
		}
		weight := g.profile.Weights[ev.Indicator]
		typeMult, ok := g.profile.TypeMult[ev.Type]
		if !ok {
			typeMult = 1.0
		}
		strengthMult, ok := g.profile.Strength[ev.Strength]
		if !ok {
			strengthMult = 1.0
		}
		perIndicator[ev.Indicator] += sign * weight * typeMult * strengthMult
	}

	var total float64
	for name, contrib := range perIndicator {
		limit := g.profile.Weights[name]
		contrib = clamp(contrib, -limit, limit)
		breakdown[name] = roundTo(contrib, 4)
		total += contrib
	}

	micro := g.microScore(snap)
	total = clamp(total+micro, -g.cfg.TotalCap, g.cfg.TotalCap)
	return roundTo(total, 4), roundTo(micro, 4)
}

// microScore folds order book and tape pressure into a bounded contribution.
// Depth imbalance carries most of it; the taker buy/sell ratio the rest.
func (g *Generator) microScore(snap *marketstore.Snapshot) float64 {
	if snap == nil || g.cfg.MicroCap <= 0 {
		return 0
	}
	imbalance := clamp(snap.DepthImbalance, -1, 1)
	flow := clamp((snap.BuySellRatio-0.5)*2, -1, 1)
	micro := (imbalance*0.6 + flow*0.4) * g.cfg.MicroCap
	return clamp(micro, -g.cfg.MicroCap, g.cfg.MicroCap)
}

// confidence estimates how trustworthy the score is, on [0, 100]
func (g *Generator) confidence(c *Composite, b *indicators.Bundle) float64 {
	conf := 50.0

	voting := c.Agreeing + c.Opposing
	if voting > 0 {
		conf += 30 * float64(c.Agreeing) / float64(voting)
	}

	abs := math.Abs(c.Score)
	switch {
	case abs >= g.cfg.ExtremeScore:
		conf += 20
	case abs >= g.cfg.StrongScore:
		conf += 12
	case abs >= g.cfg.MinScore:
		conf += 6
	}

	// event density: a wall of independent events is worth more than one
	density := float64(len(c.Events)) / 8.0
	conf += 20 * clamp(density, 0, 1)

	if b.ADX.Value > 0 && b.ADX.Value < 20 {
		conf -= 10 // choppy market
	}
	switch {
	case b.ATR.Percent > 5:
		conf -= 15
	case b.ATR.Percent > 3:
		conf -= 8
	}
	conf -= 5 * float64(c.Opposing)

	return roundTo(clamp(conf, 0, 100), 2)
}

// classify maps |score| to the tier ladder
func (g *Generator) classify(score float64) Classification {
	abs := math.Abs(score)
	switch {
	case abs < g.cfg.DeadZone:
		return ClassNone
	case abs >= g.cfg.ExtremeScore:
		return ClassExtreme
	case abs >= g.cfg.StrongScore:
		return ClassStrong
	case abs >= g.cfg.MinScore:
		return ClassModerate
	default:
		return ClassWeak
	}
}

// swapPrior records the new score and returns the previous one
func (g *Generator) swapPrior(instrument, timeframe string, score float64) float64 {
	key := instrument + "|" + timeframe
	g.mu.Lock()
	defer g.mu.Unlock()
	prior := g.prior[key]
	g.prior[key] = score
	return prior
}

// MarkEmitted records an authorized emission for cooldown purposes
func (g *Generator) MarkEmitted(instrument, timeframe string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastEmit[instrument+"|"+timeframe] = at
}

// InCooldown reports whether the per-instrument signal cooldown is active
func (g *Generator) InCooldown(instrument, timeframe string, now time.Time) bool {
	if g.cfg.CooldownMS <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.lastEmit[instrument+"|"+timeframe]
	if !ok {
		return false
	}
	return now.Sub(last) < time.Duration(g.cfg.CooldownMS)*time.Millisecond
}

func sideOf(score, deadZone float64) Side {
	switch {
	case score >= deadZone:
		return Long
	case score <= -deadZone:
		return Short
	default:
		return None
	}
}

// countIndicators counts distinct indicators voting with and against the side
func countIndicators(events []indicators.SignalEvent, side Side) (agree, oppose int) {
	if side == None {
		return 0, 0
	}
	votes := make(map[string]int)
	for _, ev := range events {
		votes[ev.Indicator] += ev.Direction.Sign()
	}
	for _, v := range votes {
		switch {
		case v == 0:
			continue
		case (v > 0) == (side == Long):
			agree++
		default:
			oppose++
		}
	}
	return agree, oppose
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
