package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/quantflow/internal/config"
)

func testTrading() config.TradingConfig {
	return config.TradingConfig{
		LeverageDefault:   10,
		LeverageMin:       3,
		LeverageMax:       20,
		StopLossROI:       20,
		TakeProfitROI:     40,
		ContractMult:      0.001,
		LotSize:           1,
		FeeRate:           0.0006,
		MaintenanceMargin: 0.005,
	}
}

func testRisk() config.RiskConfig {
	return config.RiskConfig{
		MaxOpenPositions:   3,
		MaxPositionSizeUSD: 1000,
		PositionPercent:    0.05,
		MaxPositionPercent: 0.10,
		MaxDailyDrawdown:   0.05,
		MaxConsecutiveLoss: 4,
		MaxTotalExposure:   5000,
		MinLiquidationGap:  0.01,
		BreakEvenBufferROI: 1.0,
		DayRolloverHourUTC: 0,
	}
}

func newTestAgent(equity float64) (*Agent, *Calculator, *State) {
	calc := NewCalculator(testTrading(), testRisk())
	state := NewState(decimal.NewFromFloat(equity), 0, time.Now())
	return NewAgent(testRisk(), calc, state), calc, state
}

func sampleSignal(price float64) SignalInput {
	return SignalInput{
		Instrument: "XBTUSDTM",
		Side:       "long",
		Score:      62,
		Confidence: 80,
		FeatureKey: "bullish_divergence@trending_long",
		ATRPercent: 1.0,
		Price:      decimal.NewFromFloat(price),
		Mode:       "paper",
	}
}

func TestContractSizeRoundsDown(t *testing.T) {
	calc := NewCalculator(testTrading(), testRisk())

	// 500 USD margin at 10x on a 50000 USD contract of multiplier 0.001:
	// 500*10/(50000*0.001) = 100 contracts exactly
	size := calc.ContractSize(decimal.NewFromInt(500), decimal.NewFromInt(50000), 10)
	assert.True(t, size.Equal(decimal.NewFromInt(100)), "got %s", size)

	// a price that does not divide evenly must round down, never up
	size = calc.ContractSize(decimal.NewFromInt(500), decimal.NewFromFloat(50700), 10)
	assert.True(t, size.Equal(decimal.NewFromInt(98)), "got %s", size)
}

func TestLeverageTiers(t *testing.T) {
	calc := NewCalculator(testTrading(), testRisk())

	assert.Equal(t, 20, calc.LeverageForVolatility(0.3))
	assert.Equal(t, 10, calc.LeverageForVolatility(1.0))
	assert.Equal(t, 6, calc.LeverageForVolatility(2.0))
	assert.Equal(t, 3, calc.LeverageForVolatility(4.5))
	assert.Equal(t, 10, calc.LeverageForVolatility(0)) // unknown volatility keeps the default
}

func TestStopPricesFromROI(t *testing.T) {
	calc := NewCalculator(testTrading(), testRisk())
	entry := decimal.NewFromInt(50000)

	// 20% ROI stop at 10x is a 2% price move
	sl := calc.StopLossPrice(entry, "long", 10)
	assert.True(t, sl.Equal(decimal.NewFromInt(49000)), "got %s", sl)

	tp := calc.TakeProfitPrice(entry, "long", 10)
	assert.True(t, tp.Equal(decimal.NewFromInt(52000)), "got %s", tp)

	slShort := calc.StopLossPrice(entry, "short", 10)
	assert.True(t, slShort.Equal(decimal.NewFromInt(51000)), "got %s", slShort)
}

func TestLiquidationEstimate(t *testing.T) {
	calc := NewCalculator(testTrading(), testRisk())
	entry := decimal.NewFromInt(50000)

	// gap = (1/10)(1-0.005) = 0.0995 -> 45025 for a long
	liq := calc.LiquidationPrice(entry, "long", 10)
	assert.True(t, liq.Equal(decimal.NewFromInt(45025)), "got %s", liq)

	liqShort := calc.LiquidationPrice(entry, "short", 10)
	assert.True(t, liqShort.Equal(decimal.NewFromInt(54975)), "got %s", liqShort)
}

func TestBreakEvenROI(t *testing.T) {
	calc := NewCalculator(testTrading(), testRisk())

	// 2 * 0.0006 * 10 * 100 + 1.0 = 2.2
	be := calc.BreakEvenROI(10)
	assert.True(t, be.Equal(decimal.NewFromFloat(2.2)), "got %s", be)
}

func TestEvaluateApprovesCleanIntent(t *testing.T) {
	agent, calc, _ := newTestAgent(10000)
	intent := calc.BuildIntent(sampleSignal(50000), decimal.NewFromInt(10000), time.Now())

	d := agent.Evaluate(intent, time.Now())
	assert.True(t, d.Approved, "reasons: %v", d.Reasons)
	assert.Empty(t, d.Reasons)
}

func TestDailyDrawdownGateStopsTrading(t *testing.T) {
	agent, calc, state := newTestAgent(10000)

	// realize a 6% loss; the 5% drawdown gate must deny further entries
	state.PositionClosed(decimal.NewFromInt(500), decimal.NewFromInt(-600))

	intent := calc.BuildIntent(sampleSignal(50000), state.Equity(), time.Now())
	d := agent.Evaluate(intent, time.Now())
	require.False(t, d.Approved)
	assert.Contains(t, d.Reasons, GateDailyDrawdown)
}

func TestConsecutiveLossGate(t *testing.T) {
	agent, calc, state := newTestAgent(100000)

	for i := 0; i < 4; i++ {
		state.PositionClosed(decimal.NewFromInt(100), decimal.NewFromInt(-10))
	}
	intent := calc.BuildIntent(sampleSignal(50000), state.Equity(), time.Now())
	d := agent.Evaluate(intent, time.Now())
	require.False(t, d.Approved)
	assert.Contains(t, d.Reasons, GateConsecutiveLosses)

	// one win resets the streak
	state.PositionClosed(decimal.NewFromInt(100), decimal.NewFromInt(5))
	assert.Zero(t, state.ConsecutiveLosses())
}

func TestMaxPositionsGate(t *testing.T) {
	agent, calc, state := newTestAgent(10000)
	for i := 0; i < 3; i++ {
		state.PositionOpened(decimal.NewFromInt(100))
	}

	intent := calc.BuildIntent(sampleSignal(50000), state.Equity(), time.Now())
	d := agent.Evaluate(intent, time.Now())
	require.False(t, d.Approved)
	assert.Contains(t, d.Reasons, GateMaxPositions)
}

func TestTotalExposureGate(t *testing.T) {
	agent, calc, state := newTestAgent(10000)
	state.PositionOpened(decimal.NewFromInt(4900))

	intent := calc.BuildIntent(sampleSignal(50000), state.Equity(), time.Now())
	d := agent.Evaluate(intent, time.Now())
	require.False(t, d.Approved)
	assert.Contains(t, d.Reasons, GateTotalExposure)
}

func TestPositionSizeGateOnOversizedIntent(t *testing.T) {
	agent, calc, _ := newTestAgent(10000)

	intent := calc.BuildIntent(sampleSignal(50000), decimal.NewFromInt(10000), time.Now())
	intent.Notional = decimal.NewFromInt(2000) // above the 1000 USD cap

	d := agent.Evaluate(intent, time.Now())
	require.False(t, d.Approved)
	assert.Contains(t, d.Reasons, GatePositionSize)
}

func TestDayRolloverResetsDrawdown(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	state := NewState(decimal.NewFromInt(10000), 0, now)

	state.PositionClosed(decimal.NewFromInt(500), decimal.NewFromInt(-600))
	assert.True(t, state.DailyDrawdown().GreaterThan(decimal.NewFromFloat(0.05)))

	state.Roll(now.AddDate(0, 0, 1))
	assert.True(t, state.DailyDrawdown().IsZero())
	// the losing streak survives the rollover
	assert.Equal(t, 1, state.ConsecutiveLosses())
}
