package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/risk"
)

func testTrading() config.TradingConfig {
	return config.TradingConfig{
		FeeRate:      0.0006,
		ContractMult: 0.001,
		LotSize:      1,
	}
}

func testRiskCfg() config.RiskConfig {
	return config.RiskConfig{
		BreakEvenActivation: 10,
		BreakEvenBuffer:     0.001,
		TrailingActivation:  20,
		TrailingDistance:    10,
		TrailingStep:        5,
		ReversalScore:       75,
	}
}

func openLong(t *testing.T, m *Manager) *Position {
	t.Helper()
	intent := risk.OrderIntent{
		ID:         "pos-1",
		Instrument: "XBTUSDTM",
		Side:       "long",
		Size:       decimal.NewFromInt(100),
		EntryPrice: decimal.NewFromInt(50000),
		Notional:   decimal.NewFromInt(500),
		Leverage:   10,
		StopLoss:   decimal.NewFromInt(49000),
		TakeProfit: decimal.NewFromInt(52000),
	}
	p := FromIntent(intent, 0.001)
	m.Track(p)
	require.NoError(t, p.Transition(StatusSubmitted))
	require.NoError(t, m.MarkOpen(p.ID, decimal.Zero, time.Now()))
	return p
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestTransitionRules(t *testing.T) {
	p := &Position{ID: "x", Status: StatusPending}

	require.NoError(t, p.Transition(StatusSubmitted))
	require.NoError(t, p.Transition(StatusOpen))
	require.NoError(t, p.Transition(StatusAdjusting))
	require.NoError(t, p.Transition(StatusOpen))
	require.NoError(t, p.Transition(StatusClosing))
	require.NoError(t, p.Transition(StatusClosed))

	assert.Error(t, p.Transition(StatusOpen), "closed is terminal")

	q := &Position{ID: "y", Status: StatusPending}
	assert.Error(t, q.Transition(StatusOpen), "pending cannot skip submission")
}

func TestMarkToMarketROI(t *testing.T) {
	m := NewManager(testTrading(), testRiskCfg())
	p := openLong(t, m)

	// +1% price at 10x leverage is +10% ROI on margin:
	// pnl = 500 * 100 * 0.001 = 50 on margin 500
	p.MarkToMarket(d(50500))
	assert.True(t, p.CurrentROI.Equal(decimal.NewFromInt(10)), "got %s", p.CurrentROI)
	assert.True(t, p.UnrealizedPnL.Equal(decimal.NewFromInt(50)), "got %s", p.UnrealizedPnL)
}

func TestBreakEvenMoveOnceAndOnlyFavorable(t *testing.T) {
	m := NewManager(testTrading(), testRiskCfg())
	p := openLong(t, m)

	// ROI 10 hits the activation; stop moves to entry*(1+0.001+0.0012)
	res := m.Tick("XBTUSDTM", d(50500), d(50400), d(50500))
	require.Len(t, res.StopMoves, 1)
	expected := d(50000).Mul(d(1.0022))
	assert.True(t, p.StopPrice.Equal(expected), "got %s want %s", p.StopPrice, expected)
	assert.True(t, p.BreakEvenSet)

	// second tick at the same level must not fire again
	res = m.Tick("XBTUSDTM", d(50500), d(50400), d(50500))
	assert.Empty(t, res.StopMoves)
}

func TestTrailingStaircaseNeverRetreats(t *testing.T) {
	m := NewManager(testTrading(), testRiskCfg())
	p := openLong(t, m)

	// +3% price = +30% ROI; locked = 30-10=20, snapped to 20 -> stop at ROI 20
	m.Tick("XBTUSDTM", d(51500), d(51400), d(51500))
	stopAt20 := p.ROIToPrice(decimal.NewFromInt(20))
	assert.True(t, p.StopPrice.Equal(stopAt20), "got %s want %s", p.StopPrice, stopAt20)
	assert.True(t, p.TrailingOn)

	// +4.5% = 45% ROI; locked 35 -> staircase advances
	m.Tick("XBTUSDTM", d(52250), d(52200), d(52250))
	stopAt35 := p.ROIToPrice(decimal.NewFromInt(35))
	assert.True(t, p.StopPrice.Equal(stopAt35), "got %s want %s", p.StopPrice, stopAt35)

	// price falls back: high-water holds, the stop must not retreat
	m.Tick("XBTUSDTM", d(51600), d(51550), d(51600))
	assert.True(t, p.StopPrice.Equal(stopAt35), "stop retreated to %s", p.StopPrice)
}

func TestStopTouchUsesCandleLow(t *testing.T) {
	m := NewManager(testTrading(), testRiskCfg())
	p := openLong(t, m)

	// close is above the stop but the low pierced it intrabar
	res := m.Tick("XBTUSDTM", d(49500), d(48900), d(49400))
	require.Len(t, res.Exits, 1)
	assert.Equal(t, CloseStopLoss, res.Exits[0].Reason)
	assert.True(t, res.Exits[0].Price.Equal(p.StopPrice))
}

func TestTakeProfitTouch(t *testing.T) {
	m := NewManager(testTrading(), testRiskCfg())
	openLong(t, m)

	res := m.Tick("XBTUSDTM", d(52100), d(51000), d(52000))
	require.Len(t, res.Exits, 1)
	assert.Equal(t, CloseTakeProfit, res.Exits[0].Reason)
}

func TestTrailingExitReportsTrailingReason(t *testing.T) {
	m := NewManager(testTrading(), testRiskCfg())
	p := openLong(t, m)

	m.Tick("XBTUSDTM", d(51500), d(51400), d(51500)) // arms trailing
	res := m.Tick("XBTUSDTM", d(51000), d(50800), d(50900))
	require.Len(t, res.Exits, 1)
	assert.Equal(t, CloseTrailing, res.Exits[0].Reason)
	_ = p
}

func TestExitClaimSingleWinner(t *testing.T) {
	m := NewManager(testTrading(), testRiskCfg())
	p := openLong(t, m)

	// a breached stop re-emits on every tick until the close is claimed
	first := m.Tick("XBTUSDTM", d(49500), d(48900), d(49400))
	second := m.Tick("XBTUSDTM", d(49500), d(48900), d(49400))
	require.Len(t, first.Exits, 1)
	require.Len(t, second.Exits, 1)

	won, ok := m.Claim(p.ID)
	require.True(t, ok)
	assert.Equal(t, StatusClosing, won.Status)

	_, ok = m.Claim(p.ID)
	assert.False(t, ok, "second claimant must lose")

	// the claimed position no longer ticks
	res := m.Tick("XBTUSDTM", d(49500), d(48900), d(49400))
	assert.Empty(t, res.Exits)
}

func TestClaimUnknownPosition(t *testing.T) {
	m := NewManager(testTrading(), testRiskCfg())
	_, ok := m.Claim("nope")
	assert.False(t, ok)
}

func TestTrailingWaitsForBreakEven(t *testing.T) {
	cfg := testRiskCfg()
	cfg.BreakEvenActivation = 32 // above the trailing threshold
	m := NewManager(testTrading(), cfg)
	p := openLong(t, m)

	// 30% ROI clears trailing activation but not break-even: no moves yet
	res := m.Tick("XBTUSDTM", d(51500), d(51400), d(51500))
	assert.Empty(t, res.StopMoves)
	assert.False(t, p.TrailingOn)

	// 36% ROI arms break-even first, then trailing in the same tick
	res = m.Tick("XBTUSDTM", d(51800), d(51750), d(51800))
	require.Len(t, res.StopMoves, 2)
	assert.False(t, res.StopMoves[0].Trailing)
	assert.True(t, res.StopMoves[1].Trailing)
	assert.True(t, p.BreakEvenSet)
	assert.True(t, p.TrailingOn)
}

func TestReversalExitRequiresSuperThreshold(t *testing.T) {
	m := NewManager(testTrading(), testRiskCfg())
	openLong(t, m)

	// ordinary opposite signal: below the reversal threshold, hold
	exits := m.ReversalExit("XBTUSDTM", "short", -60, d(50000))
	assert.Empty(t, exits)

	exits = m.ReversalExit("XBTUSDTM", "short", -80, d(50000))
	require.Len(t, exits, 1)
	assert.Equal(t, CloseReversal, exits[0].Reason)

	// same-side signal never reverses
	exits = m.ReversalExit("XBTUSDTM", "long", 90, d(50000))
	assert.Empty(t, exits)
}

func TestEmergencyFanOut(t *testing.T) {
	m := NewManager(testTrading(), testRiskCfg())
	openLong(t, m)

	exits := m.EmergencyExits(func(string) decimal.Decimal { return d(49800) })
	require.Len(t, exits, 1)
	assert.Equal(t, CloseEmergency, exits[0].Reason)
	assert.True(t, exits[0].Price.Equal(d(49800)))
}

func TestSettleNetsFees(t *testing.T) {
	m := NewManager(testTrading(), testRiskCfg())
	p := openLong(t, m)

	p.Settle(d(51000), 0.0006, CloseTakeProfit, time.Now())

	// gross = 1000 * 100 * 0.001 = 100
	// fees = (5000*0.0006) + (5100*0.0006) = 3 + 3.06 = 6.06
	assert.True(t, p.RealizedPnL.Equal(d(93.94)), "got %s", p.RealizedPnL)
	assert.Equal(t, CloseTakeProfit, p.CloseReason)
}
