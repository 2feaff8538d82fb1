package indicators

import (
	"github.com/quantflow/quantflow/internal/marketstore"
)

// Engine computes indicator bundles from candle windows. It holds only
// configuration; Compute is a pure function of its input and is shared
// unchanged by the live, paper and backtest paths.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given periods (zeros use defaults)
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.normalized()}
}

// Config returns the normalized period configuration
func (e *Engine) Config() Config { return e.cfg }

// Compute produces the fixed-shape bundle for a candle tail. Indicators
// whose warm-up exceeds the window emit a neutral scalar and no events;
// a short window never aborts the bundle.
func (e *Engine) Compute(candles []marketstore.Candle) *Bundle {
	n := len(candles)
	b := &Bundle{}
	if n == 0 {
		return b
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	b.Time = candles[n-1].Time
	b.Close = closes[n-1]
	b.RSI = computeRSI(closes, e.cfg)
	b.StochRSI = computeStochRSI(closes, e.cfg)
	b.WilliamsR = computeWilliamsR(highs, lows, closes, e.cfg)
	b.Stochastic = computeStochastic(highs, lows, closes, e.cfg)
	b.KDJ = computeKDJ(highs, lows, closes, e.cfg)
	b.MACD = computeMACD(closes, e.cfg)
	b.Bollinger = computeBollinger(closes, e.cfg)
	b.EMA = computeEMA(closes, e.cfg)
	b.AO = computeAO(highs, lows, e.cfg)
	b.OBV = computeOBV(closes, volumes, e.cfg)
	b.CMF = computeCMF(highs, lows, closes, volumes, e.cfg)
	b.ADX = computeADX(highs, lows, closes, e.cfg)
	b.ATR = computeATR(highs, lows, closes, e.cfg)
	return b
}
