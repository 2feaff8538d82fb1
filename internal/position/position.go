package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantflow/quantflow/internal/risk"
)

// Status is the position lifecycle state
type Status string

const (
	StatusPending   Status = "pending"   // intent approved, not yet submitted
	StatusSubmitted Status = "submitted" // entry order working at the venue
	StatusOpen      Status = "open"      // filled
	StatusAdjusting Status = "adjusting" // stop replacement in flight
	StatusClosing   Status = "closing"   // exit order working
	StatusClosed    Status = "closed"
	StatusFailed    Status = "failed" // submission or fill failed
)

// legal transitions; everything else is a bug worth surfacing
var transitions = map[Status][]Status{
	StatusPending:   {StatusSubmitted, StatusFailed},
	StatusSubmitted: {StatusOpen, StatusFailed, StatusClosing},
	StatusOpen:      {StatusAdjusting, StatusClosing},
	StatusAdjusting: {StatusOpen, StatusClosing},
	StatusClosing:   {StatusClosed, StatusFailed},
}

// CloseReason explains why a position left the book
type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseTrailing   CloseReason = "trailing_stop"
	CloseReversal   CloseReason = "reversal"
	CloseEmergency  CloseReason = "emergency"
	CloseManual     CloseReason = "manual"
)

// Position is the lifecycle record for one trade. It is owned by a single
// manager goroutine per instrument; callers outside the manager only see
// copies.
type Position struct {
	ID          string          `json:"id"`
	Instrument  string          `json:"instrument"`
	Side        string          `json:"side"`
	Size        decimal.Decimal `json:"size"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	Margin      decimal.Decimal `json:"margin"` // committed notional, USD
	Leverage    int             `json:"leverage"`
	Status      Status          `json:"status"`
	StopPrice   decimal.Decimal `json:"stop_price"`
	TakeProfit  decimal.Decimal `json:"take_profit"`
	Liquidation decimal.Decimal `json:"liquidation"`

	HighWaterROI  decimal.Decimal `json:"high_water_roi"` // percent
	BreakEvenSet  bool            `json:"break_even_set"`
	TrailingOn    bool            `json:"trailing_on"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	CurrentROI    decimal.Decimal `json:"current_roi"` // percent of margin

	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	FeesPaid    decimal.Decimal `json:"fees_paid"`
	CloseReason CloseReason     `json:"close_reason,omitempty"`
	ClosePrice  decimal.Decimal `json:"close_price"`

	FeatureKey string    `json:"feature_key"`
	Mode       string    `json:"mode"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`

	EntryOrderID string `json:"entry_order_id,omitempty"`
	StopOrderID  string `json:"stop_order_id,omitempty"`
	TPOrderID    string `json:"tp_order_id,omitempty"`

	ContractMult decimal.Decimal `json:"contract_mult"`
}

// FromIntent builds a pending position from an approved intent
func FromIntent(intent risk.OrderIntent, contractMult float64) *Position {
	mult := decimal.NewFromFloat(contractMult)
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	return &Position{
		ID:           intent.ID,
		Instrument:   intent.Instrument,
		Side:         intent.Side,
		Size:         intent.Size,
		EntryPrice:   intent.EntryPrice,
		Margin:       intent.Notional,
		Leverage:     intent.Leverage,
		Status:       StatusPending,
		StopPrice:    intent.StopLoss,
		TakeProfit:   intent.TakeProfit,
		Liquidation:  intent.Liquidation,
		FeatureKey:   intent.FeatureKey,
		Mode:         intent.Mode,
		Score:        intent.Score,
		Confidence:   intent.Confidence,
		ContractMult: mult,
	}
}

// Transition moves the position to a new status, rejecting illegal moves
func (p *Position) Transition(to Status) error {
	for _, allowed := range transitions[p.Status] {
		if allowed == to {
			p.Status = to
			return nil
		}
	}
	return fmt.Errorf("illegal position transition %s -> %s for %s", p.Status, to, p.ID)
}

// IsLong reports position direction
func (p *Position) IsLong() bool { return p.Side == "long" }

// Notional returns size * price * multiplier at the given price
func (p *Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Size.Mul(price).Mul(p.ContractMult)
}

// MarkToMarket recomputes P&L and ROI at a mark price
func (p *Position) MarkToMarket(mark decimal.Decimal) {
	diff := mark.Sub(p.EntryPrice)
	if !p.IsLong() {
		diff = diff.Neg()
	}
	p.UnrealizedPnL = diff.Mul(p.Size).Mul(p.ContractMult)
	if p.Margin.IsPositive() {
		p.CurrentROI = p.UnrealizedPnL.Div(p.Margin).Mul(decimal.NewFromInt(100))
	}
	if p.CurrentROI.GreaterThan(p.HighWaterROI) {
		p.HighWaterROI = p.CurrentROI
	}
}

// Settle finalizes the position at a close price. Fees cover entry and
// exit takers on the notional at each side.
func (p *Position) Settle(closePrice decimal.Decimal, feeRate float64, reason CloseReason, at time.Time) {
	diff := closePrice.Sub(p.EntryPrice)
	if !p.IsLong() {
		diff = diff.Neg()
	}
	gross := diff.Mul(p.Size).Mul(p.ContractMult)
	fee := decimal.NewFromFloat(feeRate)
	p.FeesPaid = p.Notional(p.EntryPrice).Mul(fee).Add(p.Notional(closePrice).Mul(fee))
	p.RealizedPnL = gross.Sub(p.FeesPaid)
	p.ClosePrice = closePrice
	p.CloseReason = reason
	p.ClosedAt = at
}

// ROIToPrice converts an ROI percent to the price that realizes it
func (p *Position) ROIToPrice(roiPercent decimal.Decimal) decimal.Decimal {
	if p.Leverage <= 0 {
		return p.EntryPrice
	}
	move := roiPercent.Div(decimal.NewFromInt(int64(p.Leverage))).Div(decimal.NewFromInt(100))
	if p.IsLong() {
		return p.EntryPrice.Mul(decimal.NewFromInt(1).Add(move))
	}
	return p.EntryPrice.Mul(decimal.NewFromInt(1).Sub(move))
}
