package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/metrics"
)

// StopMove is a requested stop replacement for an open position
type StopMove struct {
	Position *Position
	OldStop  decimal.Decimal
	NewStop  decimal.Decimal
	Trailing bool // false for the break-even move
}

// Exit is a triggered close for an open position
type Exit struct {
	Position *Position
	Reason   CloseReason
	Price    decimal.Decimal
}

// TickResult carries the actions one tick produced
type TickResult struct {
	StopMoves []StopMove
	Exits     []Exit
}

// Manager owns the open position book and the stop management pipeline.
// Each tick runs the same sequence: mark to market, break-even move,
// trailing staircase, exit triggers. Stops only ever tighten.
type Manager struct {
	trading config.TradingConfig
	riskCfg config.RiskConfig
	logger  zerolog.Logger

	mu        sync.Mutex
	positions map[string]*Position // by position id
}

// NewManager creates a position manager
func NewManager(trading config.TradingConfig, riskCfg config.RiskConfig) *Manager {
	return &Manager{
		trading:   trading,
		riskCfg:   riskCfg,
		logger:    config.NewLogger("position"),
		positions: make(map[string]*Position),
	}
}

// Track registers a position with the book
func (m *Manager) Track(p *Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p
	metrics.PositionsOpen.Set(float64(m.openCountLocked()))
}

// Claim takes exclusive ownership of a position for closing. Exactly one
// caller wins: the position transitions to closing under the book mutex,
// so concurrent exit paths holding the same trigger settle it once. The
// claimed position no longer ticks or re-emits exits.
func (m *Manager) Claim(id string) (*Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok || (p.Status != StatusOpen && p.Status != StatusAdjusting) {
		return nil, false
	}
	if err := p.Transition(StatusClosing); err != nil {
		return nil, false
	}
	metrics.PositionsOpen.Set(float64(m.openCountLocked()))
	return p, true
}

// Remove drops a position from the book
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, id)
	metrics.PositionsOpen.Set(float64(m.openCountLocked()))
}

// Get returns a copy of one position
func (m *Manager) Get(id string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Open returns copies of every open position, optionally filtered by
// instrument (empty matches all)
func (m *Manager) Open(instrument string) []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Position
	for _, p := range m.positions {
		if p.Status != StatusOpen && p.Status != StatusAdjusting {
			continue
		}
		if instrument != "" && p.Instrument != instrument {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// OpenFor reports whether an open position exists on the instrument
func (m *Manager) OpenFor(instrument string) bool {
	return len(m.Open(instrument)) > 0
}

func (m *Manager) openCountLocked() int {
	n := 0
	for _, p := range m.positions {
		if p.Status == StatusOpen || p.Status == StatusAdjusting {
			n++
		}
	}
	return n
}

// MarkOpen transitions a position to open after its entry fill
func (m *Manager) MarkOpen(id string, fillPrice decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return fmt.Errorf("unknown position %s", id)
	}
	if err := p.Transition(StatusOpen); err != nil {
		return err
	}
	if fillPrice.IsPositive() {
		p.EntryPrice = fillPrice
	}
	p.OpenedAt = at
	metrics.PositionsOpen.Set(float64(m.openCountLocked()))
	m.logger.Info().
		Str("id", p.ID).
		Str("instrument", p.Instrument).
		Str("side", p.Side).
		Str("entry", p.EntryPrice.String()).
		Int("leverage", p.Leverage).
		Msg("Position opened")
	return nil
}

// Tick runs the stop pipeline over one instrument's candle. high and low
// bound the tick's range; mark is the price used for P&L. Exit checks use
// the candle extremes so an intrabar stop touch is never missed.
func (m *Manager) Tick(instrument string, high, low, mark decimal.Decimal) TickResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res TickResult
	for _, p := range m.positions {
		if p.Instrument != instrument || (p.Status != StatusOpen && p.Status != StatusAdjusting) {
			continue
		}

		p.MarkToMarket(mark)

		if move, ok := m.breakEvenMove(p); ok {
			res.StopMoves = append(res.StopMoves, move)
		}
		if move, ok := m.trailingMove(p); ok {
			res.StopMoves = append(res.StopMoves, move)
		}

		if exit, ok := exitTrigger(p, high, low); ok {
			res.Exits = append(res.Exits, exit)
		}
	}
	return res
}

// breakEvenMove arms the break-even stop once ROI clears the activation
// threshold. The stop lands just past entry so fees are covered. It fires
// at most once and never loosens an existing stop.
func (m *Manager) breakEvenMove(p *Position) (StopMove, bool) {
	if p.BreakEvenSet || m.riskCfg.BreakEvenActivation <= 0 {
		return StopMove{}, false
	}
	if p.CurrentROI.LessThan(decimal.NewFromFloat(m.riskCfg.BreakEvenActivation)) {
		return StopMove{}, false
	}

	buffer := decimal.NewFromFloat(m.riskCfg.BreakEvenBuffer).
		Add(decimal.NewFromFloat(2 * m.trading.FeeRate))
	var newStop decimal.Decimal
	if p.IsLong() {
		newStop = p.EntryPrice.Mul(decimal.NewFromInt(1).Add(buffer))
		if newStop.LessThanOrEqual(p.StopPrice) {
			return StopMove{}, false
		}
	} else {
		newStop = p.EntryPrice.Mul(decimal.NewFromInt(1).Sub(buffer))
		if newStop.GreaterThanOrEqual(p.StopPrice) {
			return StopMove{}, false
		}
	}

	move := StopMove{Position: p, OldStop: p.StopPrice, NewStop: newStop}
	p.StopPrice = newStop
	p.BreakEvenSet = true
	m.logger.Info().
		Str("id", p.ID).
		Str("stop", newStop.String()).
		Str("roi", p.CurrentROI.StringFixed(2)).
		Msg("Break-even stop set")
	return move, true
}

// trailingMove ratchets the stop along the ROI staircase once trailing is
// active. The locked ROI snaps down to the step grid, so the stop moves in
// discrete notches and never follows small wiggles. A notch, once taken,
// is never given back.
func (m *Manager) trailingMove(p *Position) (StopMove, bool) {
	if m.riskCfg.TrailingActivation <= 0 {
		return StopMove{}, false
	}
	// break-even arms first; trailing waits for it when enabled
	if m.riskCfg.BreakEvenActivation > 0 && !p.BreakEvenSet {
		return StopMove{}, false
	}
	activation := decimal.NewFromFloat(m.riskCfg.TrailingActivation)
	if p.HighWaterROI.LessThan(activation) {
		return StopMove{}, false
	}
	p.TrailingOn = true

	distance := decimal.NewFromFloat(m.riskCfg.TrailingDistance)
	step := decimal.NewFromFloat(m.riskCfg.TrailingStep)
	if step.IsZero() {
		step = decimal.NewFromInt(5)
	}

	lockedROI := p.HighWaterROI.Sub(distance)
	if lockedROI.IsNegative() {
		return StopMove{}, false
	}
	// snap down to the staircase
	lockedROI = lockedROI.Div(step).Floor().Mul(step)

	newStop := p.ROIToPrice(lockedROI)
	if p.IsLong() {
		if newStop.LessThanOrEqual(p.StopPrice) {
			return StopMove{}, false // never untrail
		}
	} else {
		if newStop.GreaterThanOrEqual(p.StopPrice) {
			return StopMove{}, false
		}
	}

	move := StopMove{Position: p, OldStop: p.StopPrice, NewStop: newStop, Trailing: true}
	p.StopPrice = newStop
	m.logger.Info().
		Str("id", p.ID).
		Str("stop", newStop.String()).
		Str("locked_roi", lockedROI.StringFixed(2)).
		Str("high_water", p.HighWaterROI.StringFixed(2)).
		Msg("Trailing stop advanced")
	return move, true
}

// exitTrigger checks the candle extremes against the stop and target
func exitTrigger(p *Position, high, low decimal.Decimal) (Exit, bool) {
	if p.IsLong() {
		if low.LessThanOrEqual(p.StopPrice) {
			return Exit{Position: p, Reason: stopReason(p), Price: p.StopPrice}, true
		}
		if high.GreaterThanOrEqual(p.TakeProfit) {
			return Exit{Position: p, Reason: CloseTakeProfit, Price: p.TakeProfit}, true
		}
	} else {
		if high.GreaterThanOrEqual(p.StopPrice) {
			return Exit{Position: p, Reason: stopReason(p), Price: p.StopPrice}, true
		}
		if low.LessThanOrEqual(p.TakeProfit) {
			return Exit{Position: p, Reason: CloseTakeProfit, Price: p.TakeProfit}, true
		}
	}
	return Exit{}, false
}

func stopReason(p *Position) CloseReason {
	if p.TrailingOn {
		return CloseTrailing
	}
	return CloseStopLoss
}

// ReversalExit closes a position when a super-threshold opposite signal
// arrives. The caller supplies the opposing score; the threshold guards
// against flapping on ordinary counter-signals.
func (m *Manager) ReversalExit(instrument, signalSide string, score float64, mark decimal.Decimal) []Exit {
	if m.riskCfg.ReversalScore <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var exits []Exit
	for _, p := range m.positions {
		if p.Instrument != instrument || (p.Status != StatusOpen && p.Status != StatusAdjusting) {
			continue
		}
		opposite := (p.IsLong() && signalSide == "short") || (!p.IsLong() && signalSide == "long")
		if !opposite {
			continue
		}
		if absFloat(score) < m.riskCfg.ReversalScore {
			continue
		}
		exits = append(exits, Exit{Position: p, Reason: CloseReversal, Price: mark})
		m.logger.Warn().
			Str("id", p.ID).
			Float64("score", score).
			Msg("Reversal exit triggered")
	}
	return exits
}

// EmergencyExits returns close actions for every open position. Used by
// the drawdown circuit breaker's market-close fan-out.
func (m *Manager) EmergencyExits(markOf func(instrument string) decimal.Decimal) []Exit {
	m.mu.Lock()
	defer m.mu.Unlock()

	var exits []Exit
	for _, p := range m.positions {
		if p.Status != StatusOpen && p.Status != StatusAdjusting {
			continue
		}
		mark := p.EntryPrice
		if markOf != nil {
			if mk := markOf(p.Instrument); mk.IsPositive() {
				mark = mk
			}
		}
		exits = append(exits, Exit{Position: p, Reason: CloseEmergency, Price: mark})
	}
	return exits
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
