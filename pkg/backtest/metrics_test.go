package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eq(t time.Time, v float64) EquityPoint {
	return EquityPoint{Time: t, Equity: decimal.NewFromFloat(v)}
}

func trade(pnl float64) ClosedTrade {
	return ClosedTrade{RealizedPnL: decimal.NewFromFloat(pnl)}
}

func TestCalculateMetricsTradeStats(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res := &Result{
		Trades: []ClosedTrade{trade(100), trade(50), trade(-30), trade(-20)},
		EquityCurve: []EquityPoint{
			eq(base, 10000),
			eq(base.Add(time.Hour), 10100),
			eq(base.Add(2*time.Hour), 10100),
		},
	}

	m := CalculateMetrics(10000, res)
	require.NotNil(t, m)

	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 2, m.LosingTrades)
	assert.InDelta(t, 50.0, m.WinRate, 1e-9)
	assert.InDelta(t, 75.0, m.AverageWin, 1e-9)
	assert.InDelta(t, 25.0, m.AverageLoss, 1e-9)
	assert.InDelta(t, 100.0, m.LargestWin, 1e-9)
	assert.InDelta(t, -30.0, m.LargestLoss, 1e-9)
	assert.InDelta(t, 3.0, m.ProfitFactor, 1e-9) // 150 / 50
	assert.InDelta(t, 25.0, m.Expectancy, 1e-9)  // 100 / 4
}

func TestCalculateMetricsDrawdown(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res := &Result{
		EquityCurve: []EquityPoint{
			eq(base, 10000),
			eq(base.Add(time.Hour), 11000),
			eq(base.Add(2*time.Hour), 9900), // 1100 off the 11000 peak
			eq(base.Add(3*time.Hour), 10500),
		},
	}

	m := CalculateMetrics(10000, res)
	assert.InDelta(t, 1100.0, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 10.0, m.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 11000.0, m.PeakEquity, 1e-9)
	assert.InDelta(t, 10500.0, m.FinalEquity, 1e-9)
	assert.InDelta(t, 500.0, m.TotalReturn, 1e-9)
}

func TestCalculateMetricsNoLossesInfiniteProfitFactor(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res := &Result{
		Trades:      []ClosedTrade{trade(10)},
		EquityCurve: []EquityPoint{eq(base, 10000), eq(base.Add(time.Hour), 10010)},
	}

	m := CalculateMetrics(10000, res)
	assert.True(t, m.ProfitFactor > 1e18)
	assert.InDelta(t, 100.0, m.WinRate, 1e-9)
}

func TestCalculateMetricsEmptyResult(t *testing.T) {
	m := CalculateMetrics(10000, &Result{})
	require.NotNil(t, m)
	assert.Zero(t, m.TotalTrades)
	assert.InDelta(t, 10000.0, m.FinalEquity, 1e-9)
	assert.Zero(t, m.TotalReturn)
}
