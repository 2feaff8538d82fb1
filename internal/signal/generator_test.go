package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/indicators"
	"github.com/quantflow/quantflow/internal/marketstore"
)

func testSignalConfig() config.SignalConfig {
	return config.SignalConfig{
		MinScore:         40,
		StrongScore:      60,
		ExtremeScore:     80,
		DeadZone:         15,
		MinConfidence:    60,
		MinIndicators:    3,
		MinConfluencePct: 55,
		TotalCap:         100,
		MicroCap:         10,
		CooldownMS:       60000,
	}
}

func oversoldBundle() *indicators.Bundle {
	b := &indicators.Bundle{Time: time.Now(), Close: 100}
	b.RSI = indicators.RSIResult{
		Value: 18,
		Events: []indicators.SignalEvent{
			{Indicator: indicators.NameRSI, Type: indicators.EventZone, Direction: indicators.Bullish, Strength: indicators.VeryStrong, Value: 18},
			{Indicator: indicators.NameRSI, Type: indicators.EventDivergence, Direction: indicators.Bullish, Strength: indicators.Strong, Value: 18},
		},
	}
	b.StochRSI = indicators.StochRSIResult{
		K: 8, D: 12,
		Events: []indicators.SignalEvent{
			{Indicator: indicators.NameStochRSI, Type: indicators.EventCrossover, Direction: indicators.Bullish, Strength: indicators.Strong, Value: 8},
			{Indicator: indicators.NameStochRSI, Type: indicators.EventZone, Direction: indicators.Bullish, Strength: indicators.VeryStrong, Value: 8},
		},
	}
	b.MACD = indicators.MACDResult{
		Events: []indicators.SignalEvent{
			{Indicator: indicators.NameMACD, Type: indicators.EventCrossover, Direction: indicators.Bullish, Strength: indicators.Strong, Value: 0.5},
		},
	}
	b.CMF = indicators.CMFResult{
		Value: 0.3,
		Events: []indicators.SignalEvent{
			{Indicator: indicators.NameCMF, Type: indicators.EventZone, Direction: indicators.Bullish, Strength: indicators.Strong, Value: 0.3},
		},
	}
	b.ADX = indicators.ADXResult{Value: 28, PlusDI: 30, MinusDI: 15}
	b.ATR = indicators.ATRResult{Value: 1.2, Percent: 1.2}
	b.EMA = indicators.EMAResult{Fast: 101, Mid: 100, Slow: 99}
	return b
}

func TestGenerateOversoldReversal(t *testing.T) {
	g := NewGenerator(testSignalConfig(), config.MTFConfig{})

	c := g.Generate(Input{
		Instrument: "XBTUSDTM",
		Timeframe:  "5min",
		Bundle:     oversoldBundle(),
	})
	require.NotNil(t, c)

	assert.Equal(t, Long, c.Side)
	assert.GreaterOrEqual(t, c.Score, 40.0)
	assert.GreaterOrEqual(t, c.Confidence, 60.0)
	assert.GreaterOrEqual(t, c.Agreeing, 3)
	assert.Zero(t, c.Opposing)
	assert.True(t, c.Authorized, "reasons: %v", c.BlockReasons)
	assert.Empty(t, c.BlockReasons)
	assert.Contains(t, c.FeatureKey, "bullish")
}

func TestPerIndicatorCap(t *testing.T) {
	g := NewGenerator(testSignalConfig(), config.MTFConfig{})

	// pile every event type onto one indicator; its contribution must not
	// exceed the indicator's weight
	b := &indicators.Bundle{Time: time.Now(), Close: 100}
	for _, typ := range []indicators.EventType{
		indicators.EventZone, indicators.EventDivergence, indicators.EventCrossover, indicators.EventZeroCross,
	} {
		b.RSI.Events = append(b.RSI.Events, indicators.SignalEvent{
			Indicator: indicators.NameRSI, Type: typ, Direction: indicators.Bullish, Strength: indicators.Extreme, Value: 10,
		})
	}

	c := g.Generate(Input{Instrument: "XBTUSDTM", Timeframe: "5min", Bundle: b})
	assert.InDelta(t, DefaultWeights()[indicators.NameRSI], c.Breakdown[indicators.NameRSI], 0.001)
	assert.False(t, c.Authorized)
	assert.Contains(t, c.BlockReasons, BlockMinScore)
}

func TestTotalCapAndMicroClamp(t *testing.T) {
	cfg := testSignalConfig()
	cfg.TotalCap = 50
	g := NewGenerator(cfg, config.MTFConfig{})

	snap := &marketstore.Snapshot{DepthImbalance: 5, BuySellRatio: 3} // out of range on purpose
	c := g.Generate(Input{Instrument: "XBTUSDTM", Timeframe: "5min", Bundle: oversoldBundle(), Snapshot: snap})

	assert.LessOrEqual(t, c.Score, 50.0)
	assert.LessOrEqual(t, c.MicroScore, cfg.MicroCap)
}

func TestDeadZoneYieldsNoSide(t *testing.T) {
	g := NewGenerator(testSignalConfig(), config.MTFConfig{})

	b := &indicators.Bundle{Time: time.Now(), Close: 100}
	b.ADX = indicators.ADXResult{Value: 15}
	c := g.Generate(Input{Instrument: "XBTUSDTM", Timeframe: "5min", Bundle: b})

	assert.Equal(t, None, c.Side)
	assert.Equal(t, ClassNone, c.Classification)
	assert.Contains(t, c.BlockReasons, BlockDeadZone)
	assert.False(t, c.Authorized)
}

func TestThresholdCrossGate(t *testing.T) {
	cfg := testSignalConfig()
	cfg.RequireThresholdX = true
	g := NewGenerator(cfg, config.MTFConfig{})

	in := Input{Instrument: "XBTUSDTM", Timeframe: "5min", Bundle: oversoldBundle()}

	first := g.Generate(in)
	assert.True(t, first.Authorized, "first crossing should authorize: %v", first.BlockReasons)

	// same score again: still above threshold, no fresh crossing
	second := g.Generate(in)
	assert.False(t, second.Authorized)
	assert.Contains(t, second.BlockReasons, BlockThresholdX)
}

func TestDrawdownGateBlocks(t *testing.T) {
	cfg := testSignalConfig()
	cfg.DrawdownGate = 0.05
	g := NewGenerator(cfg, config.MTFConfig{})

	c := g.Generate(Input{Instrument: "XBTUSDTM", Timeframe: "5min", Bundle: oversoldBundle(), Drawdown: 0.06})
	assert.False(t, c.Authorized)
	assert.Contains(t, c.BlockReasons, BlockDrawdown)
}

func TestConvergenceGrading(t *testing.T) {
	assert.Equal(t, QualityA, gradeQuality(3, 3, 0))
	assert.Equal(t, QualityB, gradeQuality(3, 2, 0))
	assert.Equal(t, QualityC, gradeQuality(0, 0, 0))
	assert.Equal(t, QualityD, gradeQuality(3, 0, 2))

	assert.InDelta(t, 1.4, qualityFactor(QualityA), 0.001)
	assert.InDelta(t, 0.7, qualityFactor(QualityD), 0.001)
}

func TestConvergenceBoostsAlignedScore(t *testing.T) {
	cfg := testSignalConfig()
	mtf := config.MTFConfig{Enabled: true, LTFBonus: 3, HTFBonus: 5, ConflictPen: 8}
	g := NewGenerator(cfg, mtf)
	base := NewGenerator(cfg, config.MTFConfig{})

	in := Input{Instrument: "XBTUSDTM", Timeframe: "5min", Bundle: oversoldBundle()}
	solo := base.Generate(in)

	in.HTF = map[string]*indicators.Bundle{"1hour": oversoldBundle()}
	in.LTF = map[string]*indicators.Bundle{"1min": oversoldBundle()}
	boosted := g.Generate(in)

	assert.Equal(t, QualityA, boosted.Quality)
	assert.Equal(t, 2, boosted.AlignedTFs)
	assert.Greater(t, boosted.Score, solo.Score)
}

func TestRegimeBias(t *testing.T) {
	up := applyRegimeBias(50, RegimeTrendingLong, 40)
	down := applyRegimeBias(50, RegimeTrendingShort, 40)
	assert.Greater(t, up, 50.0)
	assert.Less(t, down, 50.0)

	// ranging only dampens sub-threshold scores
	assert.InDelta(t, 50.0, applyRegimeBias(50, RegimeRanging, 40), 0.001)
	assert.InDelta(t, 24.0, applyRegimeBias(30, RegimeRanging, 40), 0.001)
}

func TestCooldown(t *testing.T) {
	g := NewGenerator(testSignalConfig(), config.MTFConfig{})
	now := time.Now()

	assert.False(t, g.InCooldown("XBTUSDTM", "5min", now))
	g.MarkEmitted("XBTUSDTM", "5min", now)
	assert.True(t, g.InCooldown("XBTUSDTM", "5min", now.Add(30*time.Second)))
	assert.False(t, g.InCooldown("XBTUSDTM", "5min", now.Add(2*time.Minute)))
	assert.False(t, g.InCooldown("ETHUSDTM", "5min", now))
}
