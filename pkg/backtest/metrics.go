// Performance metrics for replay results
package backtest

import (
	"math"
	"time"
)

// Metrics summarizes one replay
type Metrics struct {
	// Returns
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	CAGR           float64 `json:"cagr"`

	// Risk
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`

	// Trades
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	Expectancy    float64 `json:"expectancy"`

	// Portfolio
	InitialCapital float64       `json:"initial_capital"`
	FinalEquity    float64       `json:"final_equity"`
	PeakEquity     float64       `json:"peak_equity"`
	StartDate      time.Time     `json:"start_date"`
	EndDate        time.Time     `json:"end_date"`
	Duration       time.Duration `json:"duration"`
}

// CalculateMetrics derives the summary from trades and the equity curve
func CalculateMetrics(initialCapital float64, res *Result) *Metrics {
	m := &Metrics{
		InitialCapital: initialCapital,
		FinalEquity:    initialCapital,
		PeakEquity:     initialCapital,
		TotalTrades:    len(res.Trades),
	}
	if len(res.EquityCurve) > 0 {
		m.FinalEquity = res.EquityCurve[len(res.EquityCurve)-1].Equity.InexactFloat64()
		m.StartDate = res.EquityCurve[0].Time
		m.EndDate = res.EquityCurve[len(res.EquityCurve)-1].Time
		m.Duration = m.EndDate.Sub(m.StartDate)
	}

	m.TotalReturn = m.FinalEquity - m.InitialCapital
	if m.InitialCapital > 0 {
		m.TotalReturnPct = m.TotalReturn / m.InitialCapital * 100
	}
	if years := m.Duration.Hours() / 24 / 365.25; years > 0 && m.InitialCapital > 0 && m.FinalEquity > 0 {
		m.CAGR = (math.Pow(m.FinalEquity/m.InitialCapital, 1/years) - 1) * 100
	}

	tradeStats(m, res.Trades)
	drawdownStats(m, res.EquityCurve)
	sharpe(m, res.EquityCurve)
	return m
}

func tradeStats(m *Metrics, trades []ClosedTrade) {
	var totalProfit, totalLoss float64
	for _, t := range trades {
		pnl := t.RealizedPnL.InexactFloat64()
		if pnl > 0 {
			m.WinningTrades++
			totalProfit += pnl
			if pnl > m.LargestWin {
				m.LargestWin = pnl
			}
		} else {
			m.LosingTrades++
			totalLoss += -pnl
			if pnl < m.LargestLoss {
				m.LargestLoss = pnl
			}
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
		m.Expectancy = (totalProfit - totalLoss) / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AverageWin = totalProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = totalLoss / float64(m.LosingTrades)
	}
	if totalLoss > 0 {
		m.ProfitFactor = totalProfit / totalLoss
	} else if totalProfit > 0 {
		m.ProfitFactor = math.Inf(1)
	}
}

func drawdownStats(m *Metrics, curve []EquityPoint) {
	peak := m.InitialCapital
	for _, p := range curve {
		eq := p.Equity.InexactFloat64()
		if eq > peak {
			peak = eq
		}
		if dd := peak - eq; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
			if peak > 0 {
				m.MaxDrawdownPct = dd / peak * 100
			}
		}
		if eq > m.PeakEquity {
			m.PeakEquity = eq
		}
	}
}

// sharpe computes the annualized Sharpe ratio over per-bar returns with
// a 3% risk-free rate, matching the convention in the reporting stack
func sharpe(m *Metrics, curve []EquityPoint) {
	if len(curve) < 3 {
		return
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.InexactFloat64()
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity.InexactFloat64()-prev)/prev)
	}
	if len(returns) < 2 {
		return
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return
	}
	// scale per-bar stats to annual assuming 15m bars
	barsPerYear := 365.25 * 24 * 4
	annualReturn := mean * barsPerYear
	annualVol := stddev * math.Sqrt(barsPerYear)
	m.SharpeRatio = (annualReturn - 0.03) / annualVol
}
