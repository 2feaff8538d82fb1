package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Trading modes
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config holds all engine configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Signal    SignalConfig    `mapstructure:"signal"`
	MTF       MTFConfig       `mapstructure:"mtf"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Screener  ScreenerConfig  `mapstructure:"screener"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Audit     AuditConfig     `mapstructure:"audit"`
	State     StateConfig     `mapstructure:"state"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Indicator IndicatorConfig `mapstructure:"indicator"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name      string `mapstructure:"name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "json" or "console"
}

// TradingConfig contains mode and position defaults
type TradingConfig struct {
	Mode              string  `mapstructure:"mode"`                // "paper" or "live"
	EnableLiveTrading bool    `mapstructure:"enable_live_trading"` // explicit flag required for live
	InitialBalance    float64 `mapstructure:"initial_balance"`     // paper-mode starting equity
	LeverageDefault   int     `mapstructure:"leverage_default"`
	LeverageMin       int     `mapstructure:"leverage_min"`
	LeverageMax       int     `mapstructure:"leverage_max"`
	StopLossROI       float64 `mapstructure:"stop_loss_roi"`   // percent of margin
	TakeProfitROI     float64 `mapstructure:"take_profit_roi"` // percent of margin
	ContractMult      float64 `mapstructure:"contract_multiplier"`
	LotSize           float64 `mapstructure:"lot_size"`
	FeeRate           float64 `mapstructure:"fee_rate"`           // taker, fraction
	MaintenanceMargin float64 `mapstructure:"maintenance_margin"` // fraction
}

// RiskConfig contains the risk gate caps and stop management knobs
type RiskConfig struct {
	MaxOpenPositions    int     `mapstructure:"max_open_positions"`
	MaxPositionSizeUSD  float64 `mapstructure:"max_position_size_usd"`
	PositionPercent     float64 `mapstructure:"position_percent"`     // fraction of equity per trade
	MaxPositionPercent  float64 `mapstructure:"max_position_percent"` // gate cap, fraction
	MaxDailyDrawdown    float64 `mapstructure:"max_daily_drawdown"`   // fraction, e.g. 0.05
	MaxConsecutiveLoss  int     `mapstructure:"max_consecutive_losses"`
	MaxTotalExposure    float64 `mapstructure:"max_total_exposure"`    // notional USD
	MinLiquidationGap   float64 `mapstructure:"min_liquidation_gap"`   // fraction of entry
	BreakEvenBufferROI  float64 `mapstructure:"break_even_buffer_roi"` // percent added to fee round-trip
	DayRolloverHourUTC  int     `mapstructure:"day_rollover_hour_utc"`
	BreakEvenActivation float64 `mapstructure:"break_even_activation"` // ROI percent
	BreakEvenBuffer     float64 `mapstructure:"break_even_buffer"`     // price fraction above entry
	TrailingActivation  float64 `mapstructure:"trailing_activation"`   // ROI percent
	TrailingDistance    float64 `mapstructure:"trailing_distance"`     // ROI percent
	TrailingStep        float64 `mapstructure:"trailing_step"`         // ROI percent staircase
	ReversalScore       float64 `mapstructure:"reversal_score"`        // super-threshold for reversals
}

// SignalConfig contains composite-signal thresholds
type SignalConfig struct {
	MinScore          float64 `mapstructure:"min_score"`
	StrongScore       float64 `mapstructure:"strong_score"`
	ExtremeScore      float64 `mapstructure:"extreme_score"`
	DeadZone          float64 `mapstructure:"dead_zone"`
	MinConfidence     float64 `mapstructure:"min_confidence"`
	MinIndicators     int     `mapstructure:"min_indicators"`
	MinConfluencePct  float64 `mapstructure:"min_confluence_pct"`
	RequireThresholdX bool    `mapstructure:"require_threshold_cross"`
	RequireTrendAlign bool    `mapstructure:"require_trend_align"`
	DrawdownGate      float64 `mapstructure:"drawdown_gate"` // daily drawdown fraction that mutes new entries
	CooldownMS        int     `mapstructure:"cooldown_ms"`
	TotalCap          float64 `mapstructure:"total_cap"`
	MicroCap          float64 `mapstructure:"micro_cap"`
	WeightProfile     string  `mapstructure:"weight_profile"` // optional YAML file
	EMAFast           int     `mapstructure:"ema_fast"`
	EMAMid            int     `mapstructure:"ema_mid"`
	EMASlow           int     `mapstructure:"ema_slow"`
}

// MTFConfig contains multi-timeframe convergence settings
type MTFConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	LTFTimeframes []string `mapstructure:"ltf_timeframes"`
	HTFTimeframes []string `mapstructure:"htf_timeframes"`
	LTFBonus      float64  `mapstructure:"ltf_bonus"`
	HTFBonus      float64  `mapstructure:"htf_bonus"`
	ConflictPen   float64  `mapstructure:"conflict_penalty"`
	PendingBonus  float64  `mapstructure:"pending_bonus"`
}

// SafetyConfig contains the transverse safety policies
type SafetyConfig struct {
	MaxHourlyTrades   int     `mapstructure:"max_hourly_trades"`
	BurstRateLimitMS  int     `mapstructure:"burst_rate_limit_ms"`
	LossCooldownMS    int     `mapstructure:"loss_cooldown_ms"`
	KillWindowSize    int     `mapstructure:"kill_window_size"`
	KillMinTrades     int     `mapstructure:"kill_min_trades"`
	KillWinRateFloor  float64 `mapstructure:"kill_win_rate_floor"`
	KillExpectancyMin float64 `mapstructure:"kill_expectancy_min"`
	KillDisableMS     int     `mapstructure:"kill_disable_ms"`
}

// ScreenerConfig contains scan-loop settings
type ScreenerConfig struct {
	IntervalMS        int      `mapstructure:"interval_ms"`
	BatchSize         int      `mapstructure:"batch_size"`
	TopM              int      `mapstructure:"top_m"`
	InstrumentRefresh int      `mapstructure:"instrument_refresh_cycles"` // refresh tradables every K cycles
	HTFRefreshCycles  int      `mapstructure:"htf_refresh_cycles"`        // refresh HTF cache every N cycles
	PrimaryTimeframe  string   `mapstructure:"primary_timeframe"`
	WindowSize        int      `mapstructure:"window_size"`
	Instruments       []string `mapstructure:"instruments"`     // explicit allowlist; empty scans all tradables
	MinVolumeUSD      float64  `mapstructure:"min_volume_usd"`  // 24h turnover floor for auto-discovery
}

// ExchangeConfig contains venue credentials and gateway tuning
type ExchangeConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	APIKey           string  `mapstructure:"api_key"`
	APISecret        string  `mapstructure:"api_secret"`
	APIPassphrase    string  `mapstructure:"api_passphrase"`
	KeyVersion       string  `mapstructure:"key_version"`
	BucketCapacity   int     `mapstructure:"bucket_capacity"`
	BucketRefillRate float64 `mapstructure:"bucket_refill_rate"` // tokens per second
	BreakerFailures  uint32  `mapstructure:"breaker_failures"`
	BreakerResetMS   int     `mapstructure:"breaker_reset_ms"`
	MaxRetries       int     `mapstructure:"max_retries"`
	ClockSkewMS      int     `mapstructure:"clock_skew_ms"`
	ReconnectCapMS   int     `mapstructure:"reconnect_cap_ms"`
	ReconnectMax     int     `mapstructure:"reconnect_max_attempts"`
}

// ExecutorConfig contains order placement settings
type ExecutorConfig struct {
	DepthLevel     int     `mapstructure:"depth_level"`     // Nth book level for entry
	MaxSlippage    float64 `mapstructure:"max_slippage"`    // fraction of mid
	OrderIDTTLMS   int     `mapstructure:"order_id_ttl_ms"` // idempotency TTL
	LeverageOnOpen bool    `mapstructure:"leverage_on_open"`
}

// AuditConfig contains audit log settings
type AuditConfig struct {
	Path    string `mapstructure:"path"`
	Enabled bool   `mapstructure:"enabled"`
}

// StateConfig contains persisted-state locations
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// IndicatorConfig contains indicator periods that deviate from defaults
type IndicatorConfig struct {
	RSIPeriod   int `mapstructure:"rsi_period"`
	ATRPeriod   int `mapstructure:"atr_period"`
	ADXPeriod   int `mapstructure:"adx_period"`
	DivLookback int `mapstructure:"divergence_lookback"`
}

// Load loads configuration from environment variables and an optional file.
// Environment keys follow the documented table (MODE, ENABLE_LIVE_TRADING,
// LEVERAGE_DEFAULT, KUCOIN_API_KEY, ...) and always win over file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	bindEnvAliases(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindEnvAliases maps the flat documented environment keys onto nested
// config paths so operators do not need viper's dotted form.
func bindEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"trading.mode":                "MODE",
		"trading.enable_live_trading": "ENABLE_LIVE_TRADING",
		"trading.initial_balance":     "INITIAL_BALANCE",
		"trading.leverage_default":    "LEVERAGE_DEFAULT",
		"trading.leverage_min":        "LEVERAGE_MIN",
		"trading.leverage_max":        "LEVERAGE_MAX",
		"trading.stop_loss_roi":       "STOP_LOSS_ROI",
		"trading.take_profit_roi":     "TAKE_PROFIT_ROI",
		"risk.break_even_activation":  "BREAK_EVEN_ACTIVATION",
		"risk.break_even_buffer":      "BREAK_EVEN_BUFFER",
		"risk.trailing_activation":    "TRAILING_ACTIVATION",
		"risk.trailing_distance":      "TRAILING_DISTANCE",
		"risk.trailing_step":          "TRAILING_STEP",
		"risk.max_open_positions":     "MAX_OPEN_POSITIONS",
		"risk.max_position_size_usd":  "MAX_POSITION_SIZE_USD",
		"risk.max_daily_drawdown":     "MAX_DAILY_DRAWDOWN",
		"risk.max_consecutive_losses": "MAX_CONSECUTIVE_LOSSES",
		"safety.max_hourly_trades":    "MAX_HOURLY_TRADES",
		"safety.burst_rate_limit_ms":  "BURST_RATE_LIMIT_MS",
		"safety.loss_cooldown_ms":     "LOSS_COOLDOWN_MS",
		"signal.min_score":            "SIGNAL_MIN_SCORE",
		"signal.strong_score":         "SIGNAL_STRONG_SCORE",
		"signal.extreme_score":        "SIGNAL_EXTREME_SCORE",
		"signal.min_confidence":       "SIGNAL_MIN_CONFIDENCE",
		"signal.min_indicators":       "SIGNAL_MIN_INDICATORS",
		"signal.cooldown_ms":          "SIGNAL_COOLDOWN_MS",
		"mtf.enabled":                 "MTF_ENABLED",
		"mtf.ltf_timeframes":          "MTF_LTF_TIMEFRAMES",
		"mtf.htf_timeframes":          "MTF_HTF_TIMEFRAMES",
		"screener.instruments":        "SCREENER_INSTRUMENTS",
		"exchange.api_key":            "KUCOIN_API_KEY",
		"exchange.api_secret":         "KUCOIN_API_SECRET",
		"exchange.api_passphrase":     "KUCOIN_API_PASSPHRASE",
	}
	for path, env := range aliases {
		// BindEnv only errors on an empty key
		_ = v.BindEnv(path, env)
	}
}

// setDefaults sets default configuration values. Defaults mirror the
// documented environment table; nothing here is authoritative over it.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "quantflow")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Trading defaults
	v.SetDefault("trading.mode", ModePaper)
	v.SetDefault("trading.enable_live_trading", false)
	v.SetDefault("trading.initial_balance", 10000.0)
	v.SetDefault("trading.leverage_default", 5)
	v.SetDefault("trading.leverage_min", 2)
	v.SetDefault("trading.leverage_max", 20)
	v.SetDefault("trading.stop_loss_roi", 10.0)
	v.SetDefault("trading.take_profit_roi", 30.0)
	v.SetDefault("trading.contract_multiplier", 1.0)
	v.SetDefault("trading.lot_size", 1.0)
	v.SetDefault("trading.fee_rate", 0.0006)
	v.SetDefault("trading.maintenance_margin", 0.005)

	// Risk defaults
	v.SetDefault("risk.max_open_positions", 3)
	v.SetDefault("risk.max_position_size_usd", 1000.0)
	v.SetDefault("risk.position_percent", 0.1)
	v.SetDefault("risk.max_position_percent", 0.2)
	v.SetDefault("risk.max_daily_drawdown", 0.05)
	v.SetDefault("risk.max_consecutive_losses", 3)
	v.SetDefault("risk.max_total_exposure", 15000.0)
	v.SetDefault("risk.min_liquidation_gap", 0.05)
	v.SetDefault("risk.break_even_buffer_roi", 0.5)
	v.SetDefault("risk.day_rollover_hour_utc", 0)
	v.SetDefault("risk.break_even_activation", 20.0)
	v.SetDefault("risk.break_even_buffer", 0.002)
	v.SetDefault("risk.trailing_activation", 30.0)
	v.SetDefault("risk.trailing_distance", 15.0)
	v.SetDefault("risk.trailing_step", 5.0)
	v.SetDefault("risk.reversal_score", 85.0)

	// Signal defaults
	v.SetDefault("signal.min_score", 40.0)
	v.SetDefault("signal.strong_score", 60.0)
	v.SetDefault("signal.extreme_score", 80.0)
	v.SetDefault("signal.dead_zone", 15.0)
	v.SetDefault("signal.min_confidence", 60.0)
	v.SetDefault("signal.min_indicators", 3)
	v.SetDefault("signal.min_confluence_pct", 55.0)
	v.SetDefault("signal.require_threshold_cross", false)
	v.SetDefault("signal.require_trend_align", false)
	v.SetDefault("signal.drawdown_gate", 0.05)
	v.SetDefault("signal.cooldown_ms", 60000)
	v.SetDefault("signal.total_cap", 100.0)
	v.SetDefault("signal.micro_cap", 10.0)
	v.SetDefault("signal.ema_fast", 9)
	v.SetDefault("signal.ema_mid", 21)
	v.SetDefault("signal.ema_slow", 50)

	// MTF defaults
	v.SetDefault("mtf.enabled", true)
	v.SetDefault("mtf.ltf_timeframes", []string{"5m"})
	v.SetDefault("mtf.htf_timeframes", []string{"1h", "4h"})
	v.SetDefault("mtf.ltf_bonus", 5.0)
	v.SetDefault("mtf.htf_bonus", 8.0)
	v.SetDefault("mtf.conflict_penalty", 10.0)
	v.SetDefault("mtf.pending_bonus", 3.0)

	// Safety defaults
	v.SetDefault("safety.max_hourly_trades", 6)
	v.SetDefault("safety.burst_rate_limit_ms", 30000)
	v.SetDefault("safety.loss_cooldown_ms", 300000)
	v.SetDefault("safety.kill_window_size", 20)
	v.SetDefault("safety.kill_min_trades", 5)
	v.SetDefault("safety.kill_win_rate_floor", 0.30)
	v.SetDefault("safety.kill_expectancy_min", 0.0)
	v.SetDefault("safety.kill_disable_ms", 3600000)

	// Screener defaults
	v.SetDefault("screener.interval_ms", 60000)
	v.SetDefault("screener.batch_size", 20)
	v.SetDefault("screener.top_m", 10)
	v.SetDefault("screener.instrument_refresh_cycles", 60)
	v.SetDefault("screener.htf_refresh_cycles", 5)
	v.SetDefault("screener.primary_timeframe", "15m")
	v.SetDefault("screener.window_size", 300)
	v.SetDefault("screener.instruments", []string{})
	v.SetDefault("screener.min_volume_usd", 1000000.0)

	// Exchange defaults
	v.SetDefault("exchange.base_url", "https://api-futures.kucoin.com")
	v.SetDefault("exchange.key_version", "2")
	v.SetDefault("exchange.bucket_capacity", 30)
	v.SetDefault("exchange.bucket_refill_rate", 10.0)
	v.SetDefault("exchange.breaker_failures", 5)
	v.SetDefault("exchange.breaker_reset_ms", 30000)
	v.SetDefault("exchange.max_retries", 3)
	v.SetDefault("exchange.clock_skew_ms", 5000)
	v.SetDefault("exchange.reconnect_cap_ms", 30000)
	v.SetDefault("exchange.reconnect_max_attempts", 20)

	// Executor defaults
	v.SetDefault("executor.depth_level", 9)
	v.SetDefault("executor.max_slippage", 0.003)
	v.SetDefault("executor.order_id_ttl_ms", 60000)
	v.SetDefault("executor.leverage_on_open", true)

	// Audit defaults
	v.SetDefault("audit.path", "data/audit.jsonl")
	v.SetDefault("audit.enabled", true)

	// State defaults
	v.SetDefault("state.dir", "data/state")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9100")

	// Indicator defaults
	v.SetDefault("indicator.rsi_period", 14)
	v.SetDefault("indicator.atr_period", 14)
	v.SetDefault("indicator.adx_period", 14)
	v.SetDefault("indicator.divergence_lookback", 30)
}

// normalize fixes up values that arrive as comma-separated env strings
func (c *Config) normalize() {
	c.Trading.Mode = strings.ToLower(strings.TrimSpace(c.Trading.Mode))
	c.MTF.LTFTimeframes = splitCSV(c.MTF.LTFTimeframes)
	c.MTF.HTFTimeframes = splitCSV(c.MTF.HTFTimeframes)
	c.Screener.Instruments = splitCSV(c.Screener.Instruments)
}

func splitCSV(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// IsLive reports whether the engine runs against the real venue. Live mode
// requires both MODE=live and the explicit enable flag; without the flag the
// engine demotes to paper and the caller logs the demotion.
func (c *Config) IsLive() bool {
	return c.Trading.Mode == ModeLive && c.Trading.EnableLiveTrading
}

// LiveDemoted reports whether live was requested without the enable flag
func (c *Config) LiveDemoted() bool {
	return c.Trading.Mode == ModeLive && !c.Trading.EnableLiveTrading
}

// BurstGap returns the minimum inter-trade interval
func (c *SafetyConfig) BurstGap() time.Duration {
	return time.Duration(c.BurstRateLimitMS) * time.Millisecond
}

// LossCooldown returns the post-loss entry cooldown
func (c *SafetyConfig) LossCooldown() time.Duration {
	return time.Duration(c.LossCooldownMS) * time.Millisecond
}

// KillDisable returns how long a tripped feature key stays disabled
func (c *SafetyConfig) KillDisable() time.Duration {
	return time.Duration(c.KillDisableMS) * time.Millisecond
}

// Interval returns the scan cadence
func (c *ScreenerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// BreakerReset returns how long the gateway breaker stays open
func (c *ExchangeConfig) BreakerReset() time.Duration {
	return time.Duration(c.BreakerResetMS) * time.Millisecond
}

// ClockSkewTolerance returns the accepted server clock skew
func (c *ExchangeConfig) ClockSkewTolerance() time.Duration {
	return time.Duration(c.ClockSkewMS) * time.Millisecond
}

// ReconnectCap returns the backoff ceiling for stream reconnects
func (c *ExchangeConfig) ReconnectCap() time.Duration {
	return time.Duration(c.ReconnectCapMS) * time.Millisecond
}

// OrderIDTTL returns the idempotency window for client order ids
func (c *ExecutorConfig) OrderIDTTL() time.Duration {
	return time.Duration(c.OrderIDTTLMS) * time.Millisecond
}

// SignalCooldown returns the per-instrument signal cooldown
func (c *SignalConfig) SignalCooldown() time.Duration {
	return time.Duration(c.CooldownMS) * time.Millisecond
}
