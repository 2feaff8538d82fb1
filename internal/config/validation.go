package config

import (
	"fmt"
	"strings"
)

// ValidationError describes a single invalid configuration value
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates all validation failures
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for internal consistency. Live mode
// requires credentials; numeric bands must be ordered; percents positive.
func (c *Config) Validate() error {
	var errs ValidationErrors

	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if c.Trading.Mode != ModePaper && c.Trading.Mode != ModeLive {
		add("trading.mode", fmt.Sprintf("must be %q or %q, got %q", ModePaper, ModeLive, c.Trading.Mode))
	}

	if c.IsLive() {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" || c.Exchange.APIPassphrase == "" {
			add("exchange", "live mode requires KUCOIN_API_KEY, KUCOIN_API_SECRET and KUCOIN_API_PASSPHRASE")
		}
	}

	if c.Trading.InitialBalance <= 0 {
		add("trading.initial_balance", "must be positive")
	}
	if c.Trading.LeverageMin < 1 {
		add("trading.leverage_min", "must be >= 1")
	}
	if c.Trading.LeverageMax < c.Trading.LeverageMin {
		add("trading.leverage_max", "must be >= leverage_min")
	}
	if c.Trading.LeverageDefault < c.Trading.LeverageMin || c.Trading.LeverageDefault > c.Trading.LeverageMax {
		add("trading.leverage_default", "must lie inside [leverage_min, leverage_max]")
	}
	if c.Trading.StopLossROI <= 0 {
		add("trading.stop_loss_roi", "must be positive")
	}
	if c.Trading.TakeProfitROI <= 0 {
		add("trading.take_profit_roi", "must be positive")
	}
	if c.Trading.FeeRate < 0 {
		add("trading.fee_rate", "must be >= 0")
	}
	if c.Trading.LotSize <= 0 {
		add("trading.lot_size", "must be positive")
	}

	if c.Risk.MaxDailyDrawdown <= 0 || c.Risk.MaxDailyDrawdown >= 1 {
		add("risk.max_daily_drawdown", "must be a fraction in (0, 1)")
	}
	if c.Risk.PositionPercent <= 0 || c.Risk.PositionPercent > c.Risk.MaxPositionPercent {
		add("risk.position_percent", "must be positive and <= max_position_percent")
	}
	if c.Risk.MaxOpenPositions < 1 {
		add("risk.max_open_positions", "must be >= 1")
	}
	if c.Risk.TrailingStep <= 0 {
		add("risk.trailing_step", "must be positive")
	}
	if c.Risk.TrailingActivation < c.Risk.BreakEvenActivation {
		add("risk.trailing_activation", "must be >= break_even_activation")
	}

	if c.Signal.TotalCap <= 0 {
		add("signal.total_cap", "must be positive")
	}
	if c.Signal.DeadZone < 0 || c.Signal.DeadZone >= c.Signal.MinScore {
		add("signal.dead_zone", "must be >= 0 and < min_score")
	}
	if c.Signal.MinScore > c.Signal.StrongScore || c.Signal.StrongScore > c.Signal.ExtremeScore {
		add("signal", "score thresholds must satisfy min <= strong <= extreme")
	}

	if c.Screener.BatchSize < 1 {
		add("screener.batch_size", "must be >= 1")
	}
	if c.Screener.WindowSize < 50 {
		add("screener.window_size", "must be >= 50 to cover indicator warm-up")
	}

	if c.Exchange.BucketCapacity < 1 {
		add("exchange.bucket_capacity", "must be >= 1")
	}
	if c.Exchange.BreakerFailures < 1 {
		add("exchange.breaker_failures", "must be >= 1")
	}

	if c.Executor.DepthLevel < 1 {
		add("executor.depth_level", "must be >= 1")
	}
	if c.Executor.MaxSlippage <= 0 {
		add("executor.max_slippage", "must be positive")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
