// Package backtest replays historical candles through the live signal,
// risk and position pipeline with a synthetic clock and a deterministic
// fill model.
package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/indicators"
	"github.com/quantflow/quantflow/internal/marketstore"
	"github.com/quantflow/quantflow/internal/position"
	"github.com/quantflow/quantflow/internal/risk"
	"github.com/quantflow/quantflow/internal/signal"
)

// ==================== DATA STRUCTURES ====================

// ClosedTrade is one round trip produced by the replay
type ClosedTrade struct {
	Instrument  string          `json:"instrument"`
	Side        string          `json:"side"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Size        decimal.Decimal `json:"size"`
	Leverage    int             `json:"leverage"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	ROI         decimal.Decimal `json:"roi"`
	Reason      string          `json:"reason"`
	FeatureKey  string          `json:"feature_key"`
}

// EquityPoint samples account equity at one bar
type EquityPoint struct {
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity"`
}

// Result carries everything one replay produced
type Result struct {
	Trades      []ClosedTrade `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Metrics     *Metrics      `json:"metrics"`
}

// ==================== HARNESS ====================

// Harness replays candles bar by bar. Entries fill at the bar close
// plus a fixed slippage fraction; exits fill at the trigger price the
// position manager computed from the bar's high and low. The clock is
// the candle timestamp, never the wall clock.
type Harness struct {
	cfg      *config.Config
	slippage decimal.Decimal
	warmup   int
	logger   zerolog.Logger

	engine  *indicators.Engine
	gen     *signal.Generator
	calc    *risk.Calculator
	agent   *risk.Agent
	manager *position.Manager
	store   *marketstore.Store
}

// New builds a harness from engine configuration. Warmup bars are
// consumed before any signal is evaluated so every indicator is primed.
func New(cfg *config.Config, warmup int) *Harness {
	if warmup <= 0 {
		warmup = 100
	}
	state := risk.NewState(decimal.NewFromFloat(cfg.Trading.InitialBalance), cfg.Risk.DayRolloverHourUTC, time.Time{})
	calc := risk.NewCalculator(cfg.Trading, cfg.Risk)
	return &Harness{
		cfg:      cfg,
		slippage: decimal.NewFromFloat(cfg.Executor.MaxSlippage / 2),
		warmup:   warmup,
		logger:   config.NewLogger("backtest"),
		engine:   indicators.NewEngine(indicators.DefaultConfig()),
		gen:      signal.NewGenerator(cfg.Signal, cfg.MTF),
		calc:     calc,
		agent:    risk.NewAgent(cfg.Risk, calc, state),
		manager:  position.NewManager(cfg.Trading, cfg.Risk),
		store:    marketstore.NewStore(),
	}
}

// Run replays one instrument's candle series start to finish
func (h *Harness) Run(instrument, timeframe string, candles []marketstore.Candle) (*Result, error) {
	if len(candles) <= h.warmup {
		return nil, fmt.Errorf("need more than %d candles, got %d", h.warmup, len(candles))
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })

	res := &Result{}
	window := h.cfg.Screener.WindowSize
	if window <= 0 {
		window = 300
	}

	for i, c := range candles {
		if err := h.store.Ingest(instrument, timeframe, c); err != nil {
			continue // out-of-order bars are dropped, not fatal
		}
		if i < h.warmup {
			continue
		}
		now := c.Time

		// stop management runs on every bar before new entries
		tick := h.manager.Tick(instrument,
			decimal.NewFromFloat(c.High),
			decimal.NewFromFloat(c.Low),
			decimal.NewFromFloat(c.Close))
		for _, exit := range tick.Exits {
			h.settle(res, exit, now)
		}

		comp := h.evaluate(instrument, timeframe, window, now)
		if comp != nil {
			for _, exit := range h.manager.ReversalExit(instrument, string(comp.Side), comp.Score, decimal.NewFromFloat(c.Close)) {
				h.settle(res, exit, now)
			}
			if !h.manager.OpenFor(instrument) {
				h.tryEnter(comp, now)
			}
		}

		res.EquityCurve = append(res.EquityCurve, EquityPoint{Time: now, Equity: h.equity()})
	}

	// anything still open closes at the final bar
	last := candles[len(candles)-1]
	for _, exit := range h.manager.EmergencyExits(func(string) decimal.Decimal {
		return decimal.NewFromFloat(last.Close)
	}) {
		exit.Reason = position.CloseManual
		h.settle(res, exit, last.Time)
	}
	res.EquityCurve = append(res.EquityCurve, EquityPoint{Time: last.Time, Equity: h.equity()})

	res.Metrics = CalculateMetrics(h.cfg.Trading.InitialBalance, res)
	h.logger.Info().
		Str("instrument", instrument).
		Int("trades", len(res.Trades)).
		Str("final_equity", h.equity().StringFixed(2)).
		Msg("Replay complete")
	return res, nil
}

// evaluate scores the current window, nil when nothing actionable
func (h *Harness) evaluate(instrument, timeframe string, window int, now time.Time) *signal.Composite {
	candles := h.store.Tail(instrument, timeframe, window)
	if len(candles) == 0 {
		return nil
	}
	bundle := h.engine.Compute(candles)

	in := signal.Input{
		Instrument: instrument,
		Timeframe:  timeframe,
		Bundle:     bundle,
		Drawdown:   h.agent.State().DailyDrawdown().InexactFloat64(),
	}
	comp := h.gen.Generate(in)
	if !comp.Authorized || h.gen.InCooldown(instrument, timeframe, now) {
		return nil
	}
	return comp
}

// tryEnter runs the risk gates and opens a position at the bar close
func (h *Harness) tryEnter(comp *signal.Composite, now time.Time) {
	fill := h.fillPrice(decimal.NewFromFloat(comp.Close), string(comp.Side))

	sigIn := risk.SignalInput{
		Instrument: comp.Instrument,
		Side:       string(comp.Side),
		Score:      comp.Score,
		Confidence: comp.Confidence,
		FeatureKey: comp.FeatureKey,
		ATRPercent: comp.ATRPercent,
		Price:      fill,
		Mode:       config.ModePaper,
	}
	intent := h.calc.BuildIntent(sigIn, h.agent.State().Equity(), now)
	decision := h.agent.Evaluate(intent, now)
	if !decision.Approved {
		return
	}

	pos := position.FromIntent(decision.Intent, 1)
	h.manager.Track(pos)
	if err := pos.Transition(position.StatusSubmitted); err != nil {
		return
	}
	if err := h.manager.MarkOpen(pos.ID, fill, now); err != nil {
		return
	}
	h.agent.State().PositionOpened(pos.Margin)
	h.gen.MarkEmitted(comp.Instrument, comp.Timeframe, now)
}

// settle closes a triggered exit and records the round trip
func (h *Harness) settle(res *Result, exit position.Exit, now time.Time) {
	pos, ok := h.manager.Claim(exit.Position.ID)
	if !ok {
		return
	}
	pos.Settle(exit.Price, h.cfg.Trading.FeeRate, exit.Reason, now)
	_ = pos.Transition(position.StatusClosed)
	h.manager.Remove(pos.ID)
	h.agent.State().PositionClosed(pos.Margin, pos.RealizedPnL)

	roi := decimal.Zero
	if pos.Margin.IsPositive() {
		roi = pos.RealizedPnL.Div(pos.Margin).Mul(decimal.NewFromInt(100))
	}
	res.Trades = append(res.Trades, ClosedTrade{
		Instrument:  pos.Instrument,
		Side:        pos.Side,
		EntryTime:   pos.OpenedAt,
		ExitTime:    now,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exit.Price,
		Size:        pos.Size,
		Leverage:    pos.Leverage,
		RealizedPnL: pos.RealizedPnL,
		ROI:         roi,
		Reason:      string(exit.Reason),
		FeatureKey:  pos.FeatureKey,
	})
}

// fillPrice applies half the slippage cap against the taker
func (h *Harness) fillPrice(px decimal.Decimal, side string) decimal.Decimal {
	adj := px.Mul(h.slippage)
	if side == "long" {
		return px.Add(adj)
	}
	return px.Sub(adj)
}

func (h *Harness) equity() decimal.Decimal {
	return h.agent.State().Equity()
}
