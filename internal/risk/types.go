package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Gate identifiers, in evaluation order. The first failing gate names the
// denial; later gates still run so the decision carries every reason.
const (
	GatePositionSize      = "position_size"
	GateMaxPositions      = "max_positions"
	GateLeverage          = "leverage"
	GateDailyDrawdown     = "daily_drawdown"
	GateConsecutiveLosses = "consecutive_losses"
	GateTotalExposure     = "total_exposure"
	GateLiquidationBuffer = "liquidation_buffer"
	GateBreakEven         = "break_even"
)

// OrderIntent is a fully parameterized entry request, produced by the risk
// calculator from an authorized signal and consumed by the executor.
type OrderIntent struct {
	ID          string          `json:"id"`
	Instrument  string          `json:"instrument"`
	Side        string          `json:"side"` // "long" or "short"
	Size        decimal.Decimal `json:"size"` // contracts, lot-aligned
	EntryPrice  decimal.Decimal `json:"entry_price"`
	Notional    decimal.Decimal `json:"notional"` // margin committed, USD
	Leverage    int             `json:"leverage"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TakeProfit  decimal.Decimal `json:"take_profit"`
	Liquidation decimal.Decimal `json:"liquidation"` // estimate
	Score       float64         `json:"score"`
	Confidence  float64         `json:"confidence"`
	FeatureKey  string          `json:"feature_key"`
	Mode        string          `json:"mode"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Decision is the risk agent's verdict on an intent
type Decision struct {
	Approved bool        `json:"approved"`
	Reasons  []string    `json:"reasons,omitempty"` // failed gates, in gate order
	Intent   OrderIntent `json:"intent"`
}

// State tracks the account-level counters the gates read. All mutation
// goes through its methods; the agent never touches fields directly.
type State struct {
	mu sync.Mutex

	equity          decimal.Decimal
	dayStartEquity  decimal.Decimal
	dayStart        time.Time
	rolloverHourUTC int

	openPositions  int
	totalExposure  decimal.Decimal // notional across open positions
	consecutiveLosses int
	tradesToday    int
	realizedToday  decimal.Decimal
}

// NewState seeds the counters at day start
func NewState(equity decimal.Decimal, rolloverHourUTC int, now time.Time) *State {
	return &State{
		equity:          equity,
		dayStartEquity:  equity,
		dayStart:        dayAnchor(now, rolloverHourUTC),
		rolloverHourUTC: rolloverHourUTC,
	}
}

// dayAnchor returns the most recent rollover boundary at or before now
func dayAnchor(now time.Time, hourUTC int) time.Time {
	now = now.UTC()
	anchor := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if anchor.After(now) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	return anchor
}

// Roll resets the daily counters when a new trading day has started.
// Consecutive losses deliberately survive the rollover.
func (s *State) Roll(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	anchor := dayAnchor(now, s.rolloverHourUTC)
	if anchor.After(s.dayStart) {
		s.dayStart = anchor
		s.dayStartEquity = s.equity
		s.tradesToday = 0
		s.realizedToday = decimal.Zero
	}
}

// SetEquity updates current equity
func (s *State) SetEquity(equity decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = equity
}

// Equity returns current equity
func (s *State) Equity() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.equity
}

// DailyDrawdown returns the loss from day-start equity as a fraction.
// A profitable day reports zero, never a negative drawdown.
func (s *State) DailyDrawdown() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dayStartEquity.IsZero() {
		return decimal.Zero
	}
	dd := s.dayStartEquity.Sub(s.equity).Div(s.dayStartEquity)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// PositionOpened bumps the open position and exposure counters
func (s *State) PositionOpened(notional decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openPositions++
	s.totalExposure = s.totalExposure.Add(notional)
	s.tradesToday++
}

// PositionClosed records an outcome and releases exposure
func (s *State) PositionClosed(notional, realizedPnL decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openPositions > 0 {
		s.openPositions--
	}
	s.totalExposure = s.totalExposure.Sub(notional)
	if s.totalExposure.IsNegative() {
		s.totalExposure = decimal.Zero
	}
	s.realizedToday = s.realizedToday.Add(realizedPnL)
	s.equity = s.equity.Add(realizedPnL)
	if realizedPnL.IsNegative() {
		s.consecutiveLosses++
	} else {
		s.consecutiveLosses = 0
	}
}

// OpenPositions returns the open position count
func (s *State) OpenPositions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openPositions
}

// TotalExposure returns the notional across open positions
func (s *State) TotalExposure() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalExposure
}

// ConsecutiveLosses returns the current losing streak
func (s *State) ConsecutiveLosses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveLosses
}

// TradesToday returns the number of entries since the last rollover
func (s *State) TradesToday() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradesToday
}

// RealizedToday returns realized P&L since the last rollover
func (s *State) RealizedToday() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realizedToday
}
