package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/marketstore"
)

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			Mode:            config.ModePaper,
			InitialBalance:  10000,
			LeverageDefault: 5,
			LeverageMin:     2,
			LeverageMax:     20,
			StopLossROI:     10,
			TakeProfitROI:   30,
			ContractMult:    1,
			LotSize:         1,
			FeeRate:         0.0006,
		},
		Risk: config.RiskConfig{
			MaxOpenPositions:    3,
			MaxPositionSizeUSD:  5000,
			PositionPercent:     0.1,
			MaxPositionPercent:  0.2,
			MaxDailyDrawdown:    0.05,
			MaxConsecutiveLoss:  5,
			MaxTotalExposure:    20000,
			BreakEvenActivation: 15,
			TrailingActivation:  30,
			TrailingDistance:    15,
			TrailingStep:        5,
			ReversalScore:       85,
		},
		Signal: config.SignalConfig{
			MinScore: 40, StrongScore: 60, ExtremeScore: 80,
			DeadZone: 15, MinConfidence: 60, MinIndicators: 3,
			MinConfluencePct: 55, TotalCap: 100, MicroCap: 10,
		},
		Executor: config.ExecutorConfig{MaxSlippage: 0.003},
		Screener: config.ScreenerConfig{WindowSize: 200},
	}
}

// flatCandles never produce an actionable score
func flatCandles(n int) []marketstore.Candle {
	out := make([]marketstore.Candle, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = marketstore.Candle{
			Time:   base.Add(time.Duration(i) * 15 * time.Minute),
			Open:   100, High: 100.1, Low: 99.9, Close: 100,
			Volume: 500,
		}
	}
	return out
}

func trendCandles(n int) []marketstore.Candle {
	out := make([]marketstore.Candle, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		// oscillation on a rising drift, enough movement for every indicator
		price := 100 + float64(i)*0.05 + 3*math.Sin(float64(i)/6)
		out[i] = marketstore.Candle{
			Time:   base.Add(time.Duration(i) * 15 * time.Minute),
			Open:   price,
			High:   price + 0.8,
			Low:    price - 0.8,
			Close:  price + 0.2,
			Volume: 500 + 100*math.Sin(float64(i)/4),
		}
	}
	return out
}

func TestRunRejectsShortSeries(t *testing.T) {
	h := New(testConfig(), 100)
	_, err := h.Run("XBTUSDTM", "15m", flatCandles(50))
	assert.Error(t, err)
}

func TestRunFlatSeriesNoTrades(t *testing.T) {
	h := New(testConfig(), 100)
	res, err := h.Run("XBTUSDTM", "15m", flatCandles(300))
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	require.NotEmpty(t, res.EquityCurve)
	final := res.EquityCurve[len(res.EquityCurve)-1].Equity
	assert.True(t, final.Equal(decimal.NewFromInt(10000)), "equity must not move without trades, got %s", final)
	require.NotNil(t, res.Metrics)
	assert.Zero(t, res.Metrics.TotalTrades)
}

func TestRunProducesConsistentAccounting(t *testing.T) {
	h := New(testConfig(), 100)
	res, err := h.Run("XBTUSDTM", "15m", trendCandles(600))
	require.NoError(t, err)
	require.NotNil(t, res.Metrics)

	// every trade must be fully settled and the equity curve must agree
	// with the sum of realized P&L
	sum := decimal.NewFromInt(10000)
	for _, tr := range res.Trades {
		assert.False(t, tr.EntryTime.IsZero())
		assert.False(t, tr.ExitTime.IsZero())
		assert.NotEmpty(t, tr.Reason)
		sum = sum.Add(tr.RealizedPnL)
	}
	final := res.EquityCurve[len(res.EquityCurve)-1].Equity
	assert.True(t, final.Sub(sum).Abs().LessThan(decimal.NewFromFloat(0.01)),
		"final equity %s disagrees with realized sum %s", final, sum)
	assert.Equal(t, len(res.Trades), res.Metrics.TotalTrades)
}

func TestFillPriceLeansAgainstTaker(t *testing.T) {
	h := New(testConfig(), 100)
	px := decimal.NewFromInt(100)

	long := h.fillPrice(px, "long")
	short := h.fillPrice(px, "short")
	assert.True(t, long.GreaterThan(px))
	assert.True(t, short.LessThan(px))
}

func TestRunDeterministic(t *testing.T) {
	first, err := New(testConfig(), 100).Run("XBTUSDTM", "15m", trendCandles(400))
	require.NoError(t, err)
	second, err := New(testConfig(), 100).Run("XBTUSDTM", "15m", trendCandles(400))
	require.NoError(t, err)

	require.Equal(t, len(first.Trades), len(second.Trades))
	for i := range first.Trades {
		assert.True(t, first.Trades[i].RealizedPnL.Equal(second.Trades[i].RealizedPnL))
	}
}
