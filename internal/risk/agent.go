package risk

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/metrics"
)

// Agent runs every order intent through the fixed gate chain against the
// shared account state. The chain is strict: one failing gate denies the
// intent, but all gates are evaluated so the decision lists every breach.
type Agent struct {
	risk   config.RiskConfig
	calc   *Calculator
	state  *State
	logger zerolog.Logger
}

// NewAgent creates the risk agent
func NewAgent(riskCfg config.RiskConfig, calc *Calculator, state *State) *Agent {
	return &Agent{
		risk:   riskCfg,
		calc:   calc,
		state:  state,
		logger: config.NewLogger("risk"),
	}
}

// State exposes the shared counters for components that report outcomes
func (a *Agent) State() *State { return a.state }

// Evaluate runs the gate chain on an intent. The day rollover happens
// here so drawdown is always measured against the right anchor.
func (a *Agent) Evaluate(intent OrderIntent, now time.Time) Decision {
	a.state.Roll(now)

	d := Decision{Intent: intent}
	equity := a.state.Equity()

	// position_size: margin within both the absolute and relative cap
	maxUSD := decimal.NewFromFloat(a.risk.MaxPositionSizeUSD)
	maxPct := decimal.NewFromFloat(a.risk.MaxPositionPercent)
	if intent.Size.IsZero() ||
		(maxUSD.IsPositive() && intent.Notional.GreaterThan(maxUSD)) ||
		(maxPct.IsPositive() && !equity.IsZero() && intent.Notional.Div(equity).GreaterThan(maxPct)) {
		d.Reasons = append(d.Reasons, GatePositionSize)
	}

	// max_positions
	if a.risk.MaxOpenPositions > 0 && a.state.OpenPositions() >= a.risk.MaxOpenPositions {
		d.Reasons = append(d.Reasons, GateMaxPositions)
	}

	// leverage inside the configured band
	if intent.Leverage < a.calc.trading.LeverageMin || intent.Leverage > a.calc.trading.LeverageMax {
		d.Reasons = append(d.Reasons, GateLeverage)
	}

	// daily_drawdown
	dd := a.state.DailyDrawdown()
	metrics.DailyDrawdown.Set(dd.InexactFloat64())
	if a.risk.MaxDailyDrawdown > 0 && dd.GreaterThanOrEqual(decimal.NewFromFloat(a.risk.MaxDailyDrawdown)) {
		d.Reasons = append(d.Reasons, GateDailyDrawdown)
	}

	// consecutive_losses
	if a.risk.MaxConsecutiveLoss > 0 && a.state.ConsecutiveLosses() >= a.risk.MaxConsecutiveLoss {
		d.Reasons = append(d.Reasons, GateConsecutiveLosses)
	}

	// total_exposure: notional across open positions plus this intent
	if a.risk.MaxTotalExposure > 0 {
		projected := a.state.TotalExposure().Add(intent.Notional)
		if projected.GreaterThan(decimal.NewFromFloat(a.risk.MaxTotalExposure)) {
			d.Reasons = append(d.Reasons, GateTotalExposure)
		}
	}

	// liquidation_buffer: entry must sit far enough from liquidation
	if a.risk.MinLiquidationGap > 0 {
		gap := LiquidationGap(intent.EntryPrice, intent.Liquidation)
		if gap.LessThan(decimal.NewFromFloat(a.risk.MinLiquidationGap)) {
			d.Reasons = append(d.Reasons, GateLiquidationBuffer)
		}
	}

	// break_even: the target must clear fees plus buffer
	targetROI := decimal.NewFromFloat(a.calc.trading.TakeProfitROI)
	if targetROI.LessThanOrEqual(a.calc.BreakEvenROI(intent.Leverage)) {
		d.Reasons = append(d.Reasons, GateBreakEven)
	}

	d.Approved = len(d.Reasons) == 0
	if !d.Approved {
		for _, gate := range d.Reasons {
			metrics.RiskGateBlocks.WithLabelValues(gate).Inc()
		}
		a.logger.Info().
			Str("instrument", intent.Instrument).
			Str("side", intent.Side).
			Strs("gates", d.Reasons).
			Msg("Order intent denied")
	}
	return d
}
