package risk

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantflow/quantflow/internal/config"
)

var (
	dec100 = decimal.NewFromInt(100)
	dec1   = decimal.NewFromInt(1)
	dec2   = decimal.NewFromInt(2)
)

// Calculator turns an authorized signal into a sized, stopped order
// intent. All money math is decimal; float only enters through the
// ATR-percent leverage tiers.
type Calculator struct {
	trading config.TradingConfig
	risk    config.RiskConfig
}

// NewCalculator creates a calculator
func NewCalculator(trading config.TradingConfig, risk config.RiskConfig) *Calculator {
	return &Calculator{trading: trading, risk: risk}
}

// SignalInput is the slice of a composite signal the calculator needs
type SignalInput struct {
	Instrument string
	Side       string // "long" or "short"
	Score      float64
	Confidence float64
	FeatureKey string
	ATRPercent float64
	Price      decimal.Decimal
	Mode       string
}

// ==================== POSITION SIZING ====================

// BuildIntent sizes a position from equity and prices the stops. Returns
// a zero-size intent when the lot rounding leaves nothing to trade.
func (c *Calculator) BuildIntent(sig SignalInput, equity decimal.Decimal, now time.Time) OrderIntent {
	leverage := c.LeverageForVolatility(sig.ATRPercent)
	notional := equity.Mul(decimal.NewFromFloat(c.risk.PositionPercent))
	size := c.ContractSize(notional, sig.Price, leverage)

	intent := OrderIntent{
		ID:         uuid.NewString(),
		Instrument: sig.Instrument,
		Side:       sig.Side,
		Size:       size,
		EntryPrice: sig.Price,
		Notional:   notional,
		Leverage:   leverage,
		Score:      sig.Score,
		Confidence: sig.Confidence,
		FeatureKey: sig.FeatureKey,
		Mode:       sig.Mode,
		CreatedAt:  now,
	}
	intent.StopLoss = c.StopLossPrice(sig.Price, sig.Side, leverage)
	intent.TakeProfit = c.TakeProfitPrice(sig.Price, sig.Side, leverage)
	intent.Liquidation = c.LiquidationPrice(sig.Price, sig.Side, leverage)
	return intent
}

// ContractSize converts margin notional to contracts at the given
// leverage, rounded down to the lot size. Rounding down is mandatory:
// rounding up would exceed the committed margin.
func (c *Calculator) ContractSize(notional, price decimal.Decimal, leverage int) decimal.Decimal {
	if price.IsZero() || leverage <= 0 {
		return decimal.Zero
	}
	mult := decimal.NewFromFloat(c.trading.ContractMult)
	if mult.IsZero() {
		mult = dec1
	}
	lot := decimal.NewFromFloat(c.trading.LotSize)
	if lot.IsZero() {
		lot = dec1
	}

	raw := notional.Mul(decimal.NewFromInt(int64(leverage))).Div(price.Mul(mult))
	lots := raw.Div(lot).Floor()
	return lots.Mul(lot)
}

// LeverageForVolatility maps ATR percent to a leverage tier. Quiet tape
// earns the top of the band, an overheated one drops to the floor.
func (c *Calculator) LeverageForVolatility(atrPercent float64) int {
	min, max := c.trading.LeverageMin, c.trading.LeverageMax
	def := c.trading.LeverageDefault
	if def == 0 {
		def = min
	}

	var lev int
	switch {
	case atrPercent <= 0:
		lev = def
	case atrPercent < 0.5:
		lev = max
	case atrPercent < 1.5:
		lev = def
	case atrPercent < 3.0:
		lev = (def + min) / 2
	default:
		lev = min
	}
	if lev < min {
		lev = min
	}
	if max > 0 && lev > max {
		lev = max
	}
	return lev
}

// ==================== STOP PRICING ====================

// StopLossPrice converts the configured ROI stop to a price. An ROI stop
// of R percent at leverage L is a price move of R/L percent against entry.
func (c *Calculator) StopLossPrice(entry decimal.Decimal, side string, leverage int) decimal.Decimal {
	move := roiToPriceFraction(c.trading.StopLossROI, leverage)
	if side == "long" {
		return entry.Mul(dec1.Sub(move))
	}
	return entry.Mul(dec1.Add(move))
}

// TakeProfitPrice converts the configured ROI target to a price
func (c *Calculator) TakeProfitPrice(entry decimal.Decimal, side string, leverage int) decimal.Decimal {
	move := roiToPriceFraction(c.trading.TakeProfitROI, leverage)
	if side == "long" {
		return entry.Mul(dec1.Add(move))
	}
	return entry.Mul(dec1.Sub(move))
}

// roiToPriceFraction converts percent-of-margin ROI to a price fraction
func roiToPriceFraction(roiPercent float64, leverage int) decimal.Decimal {
	if leverage <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(roiPercent).
		Div(decimal.NewFromInt(int64(leverage))).
		Div(dec100)
}

// LiquidationPrice estimates the isolated-margin liquidation level:
// entry shifted against the position by (1/leverage)(1 - maintenance).
func (c *Calculator) LiquidationPrice(entry decimal.Decimal, side string, leverage int) decimal.Decimal {
	if leverage <= 0 {
		return decimal.Zero
	}
	gap := dec1.Div(decimal.NewFromInt(int64(leverage))).
		Mul(dec1.Sub(decimal.NewFromFloat(c.trading.MaintenanceMargin)))
	if side == "long" {
		return entry.Mul(dec1.Sub(gap))
	}
	return entry.Mul(dec1.Add(gap))
}

// ==================== BREAK EVEN ====================

// BreakEvenROI is the ROI a position must clear before it is profitable
// net of the taker fee paid on entry and exit, plus the safety buffer.
// Fees scale with leverage because they are charged on notional while
// ROI is measured on margin.
func (c *Calculator) BreakEvenROI(leverage int) decimal.Decimal {
	fees := dec2.Mul(decimal.NewFromFloat(c.trading.FeeRate)).
		Mul(decimal.NewFromInt(int64(leverage))).
		Mul(dec100)
	return fees.Add(decimal.NewFromFloat(c.risk.BreakEvenBufferROI))
}

// LiquidationGap returns |entry - liquidation| / entry
func LiquidationGap(entry, liquidation decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	return entry.Sub(liquidation).Abs().Div(entry)
}
