package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/gateway"
	"github.com/quantflow/quantflow/internal/metrics"
	"github.com/quantflow/quantflow/internal/position"
	"github.com/quantflow/quantflow/internal/risk"
	"github.com/quantflow/quantflow/internal/store"
)

// ErrSlippageExceeded is returned when the chosen entry level sits too
// far from mid. The entry is abandoned, never widened.
var ErrSlippageExceeded = errors.New("slippage exceeded")

// ErrDuplicateIntent is returned when the intent's client order id is
// still inside its idempotency TTL
var ErrDuplicateIntent = errors.New("duplicate intent")

// Venue is the slice of the gateway the executor needs. Narrow on purpose
// so tests can stand in a fake.
type Venue interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req *gateway.OrderRequest) (*gateway.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderBook(ctx context.Context, symbol string, depth int) (*gateway.OrderBook, error)
}

// Executor turns approved intents into venue orders. Live entries follow
// a fixed sequence: leverage, entry limit, reduce-only stop, reduce-only
// target. A failure partway through unwinds what was already placed.
// Paper mode fills at the chosen level without touching the venue.
type Executor struct {
	cfg     config.ExecutorConfig
	trading config.TradingConfig
	venue   Venue
	store   *store.Store
	logger  zerolog.Logger
}

// New creates an executor
func New(cfg config.ExecutorConfig, trading config.TradingConfig, venue Venue, st *store.Store) *Executor {
	return &Executor{
		cfg:     cfg,
		trading: trading,
		venue:   venue,
		store:   st,
		logger:  config.NewLogger("executor"),
	}
}

// ClientOid derives a deterministic client order id from the intent's
// identity fields. A regenerated intent for the same setup hashes to the
// same id, so the idempotency store can refuse the duplicate.
func ClientOid(intent risk.OrderIntent) string {
	canonical := fmt.Sprintf("%s|%s|%s|%s|%d|%s|%s",
		intent.Instrument,
		intent.Side,
		intent.Size.String(),
		intent.EntryPrice.String(),
		intent.Leverage,
		intent.StopLoss.String(),
		intent.TakeProfit.String(),
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}

// EntryResult reports a completed entry
type EntryResult struct {
	Position   *position.Position
	EntryPrice decimal.Decimal
	Slippage   decimal.Decimal // |entry - mid| / mid
}

// Enter executes an approved intent. The entry price is the Nth book
// level on the passive side; joining deep in the queue trades immediacy
// for price. Mid-distance above the slippage cap abandons the entry.
func (e *Executor) Enter(ctx context.Context, intent risk.OrderIntent) (*EntryResult, error) {
	clientOid := ClientOid(intent)
	if _, dup := e.store.LookupOrder(clientOid); dup {
		metrics.OrdersRejected.WithLabelValues("duplicate").Inc()
		return nil, fmt.Errorf("intent %s already submitted: %w", clientOid, ErrDuplicateIntent)
	}

	book, err := e.venue.GetOrderBook(ctx, intent.Instrument, e.depthLevel())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch depth for entry: %w", err)
	}
	entryPrice, slippage, err := e.chooseEntry(book, intent.Side)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues("slippage_exceeded").Inc()
		return nil, err
	}

	pos := position.FromIntent(intent, e.trading.ContractMult)
	pos.EntryPrice = entryPrice

	if e.trading.Mode == "live" {
		if err := e.enterLive(ctx, intent, pos, clientOid, entryPrice); err != nil {
			return nil, err
		}
	} else {
		// paper: the entry fills at the chosen level immediately
		pos.EntryOrderID = "paper-" + clientOid
		metrics.OrdersSubmitted.WithLabelValues("paper", "limit").Inc()
	}

	if err := e.store.RememberOrder(clientOid, pos.EntryOrderID, e.orderIDTTL()); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to persist idempotency record")
	}

	e.logger.Info().
		Str("instrument", intent.Instrument).
		Str("side", intent.Side).
		Str("entry", entryPrice.String()).
		Str("slippage", slippage.StringFixed(6)).
		Str("mode", e.trading.Mode).
		Msg("Entry executed")
	return &EntryResult{Position: pos, EntryPrice: entryPrice, Slippage: slippage}, nil
}

// enterLive runs the live order sequence with compensating cancels
func (e *Executor) enterLive(ctx context.Context, intent risk.OrderIntent, pos *position.Position, clientOid string, entryPrice decimal.Decimal) error {
	if e.cfg.LeverageOnOpen {
		if err := e.venue.SetLeverage(ctx, intent.Instrument, intent.Leverage); err != nil {
			return fmt.Errorf("failed to set leverage: %w", err)
		}
	}

	side := "buy"
	stopDir := "down"
	tpDir := "up"
	if intent.Side == "short" {
		side = "sell"
		stopDir = "up"
		tpDir = "down"
	}

	entry, err := e.venue.PlaceOrder(ctx, &gateway.OrderRequest{
		ClientOid: clientOid,
		Symbol:    intent.Instrument,
		Side:      side,
		Type:      "limit",
		Price:     entryPrice,
		Size:      intent.Size,
		Leverage:  intent.Leverage,
	})
	if err != nil {
		return fmt.Errorf("entry order failed: %w", err)
	}
	pos.EntryOrderID = entry.OrderID

	sl, err := e.venue.PlaceOrder(ctx, &gateway.OrderRequest{
		ClientOid:     clientOid + "-sl",
		Symbol:        intent.Instrument,
		Side:          opposite(side),
		Type:          "market",
		Size:          intent.Size,
		ReduceOnly:    true,
		Stop:          stopDir,
		StopPrice:     intent.StopLoss,
		StopPriceType: "TP",
	})
	if err != nil {
		e.compensate(ctx, "stop placement failed", entry.OrderID)
		return fmt.Errorf("stop order failed: %w", err)
	}
	pos.StopOrderID = sl.OrderID

	tp, err := e.venue.PlaceOrder(ctx, &gateway.OrderRequest{
		ClientOid:     clientOid + "-tp",
		Symbol:        intent.Instrument,
		Side:          opposite(side),
		Type:          "market",
		Size:          intent.Size,
		ReduceOnly:    true,
		Stop:          tpDir,
		StopPrice:     intent.TakeProfit,
		StopPriceType: "TP",
	})
	if err != nil {
		e.compensate(ctx, "target placement failed", sl.OrderID, entry.OrderID)
		return fmt.Errorf("take-profit order failed: %w", err)
	}
	pos.TPOrderID = tp.OrderID
	return nil
}

// compensate cancels already-placed orders after a partial failure
func (e *Executor) compensate(ctx context.Context, why string, orderIDs ...string) {
	for _, id := range orderIDs {
		if id == "" {
			continue
		}
		if err := e.venue.CancelOrder(ctx, id); err != nil {
			// a stranded order is an operator problem; log loudly and move on
			e.logger.Error().Err(err).Str("order_id", id).Str("cause", why).Msg("Compensating cancel failed")
		}
	}
}

// chooseEntry picks the Nth passive level and measures its distance to mid
func (e *Executor) chooseEntry(book *gateway.OrderBook, side string) (decimal.Decimal, decimal.Decimal, error) {
	mid := gateway.MidFromBook(book)
	if mid.IsZero() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("empty order book")
	}

	levels := book.Bids
	if side == "short" {
		levels = book.Asks
	}
	n := e.depthLevel()
	if n > len(levels) {
		n = len(levels)
	}
	if n == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("empty order book")
	}
	price := levels[n-1][0]

	slippage := price.Sub(mid).Abs().Div(mid)
	if maxSlip := decimal.NewFromFloat(e.cfg.MaxSlippage); maxSlip.IsPositive() && slippage.GreaterThan(maxSlip) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("level %d is %s from mid: %w", n, slippage.StringFixed(6), ErrSlippageExceeded)
	}
	return price, slippage, nil
}

// MoveStop replaces the working stop order with a tightened one
func (e *Executor) MoveStop(ctx context.Context, pos *position.Position, newStop decimal.Decimal) error {
	if e.trading.Mode != "live" {
		return nil // paper stops live in the position book only
	}
	if pos.StopOrderID != "" {
		if err := e.venue.CancelOrder(ctx, pos.StopOrderID); err != nil {
			return fmt.Errorf("failed to cancel old stop: %w", err)
		}
	}

	side := "sell"
	stopDir := "down"
	if !pos.IsLong() {
		side = "buy"
		stopDir = "up"
	}
	resp, err := e.venue.PlaceOrder(ctx, &gateway.OrderRequest{
		ClientOid:     ClientOid(risk.OrderIntent{Instrument: pos.Instrument, Side: pos.Side, Size: pos.Size, EntryPrice: newStop}) + "-mv",
		Symbol:        pos.Instrument,
		Side:          side,
		Type:          "market",
		Size:          pos.Size,
		ReduceOnly:    true,
		Stop:          stopDir,
		StopPrice:     newStop,
		StopPriceType: "TP",
	})
	if err != nil {
		return fmt.Errorf("failed to place replacement stop: %w", err)
	}
	pos.StopOrderID = resp.OrderID
	return nil
}

// Close exits a position at market, cancelling its working stop and
// target first so the reduce-only close cannot race them.
func (e *Executor) Close(ctx context.Context, pos *position.Position) error {
	if e.trading.Mode != "live" {
		return nil
	}
	e.compensate(ctx, "position close", pos.StopOrderID, pos.TPOrderID)

	side := "sell"
	if !pos.IsLong() {
		side = "buy"
	}
	_, err := e.venue.PlaceOrder(ctx, &gateway.OrderRequest{
		ClientOid:  pos.ID + "-close",
		Symbol:     pos.Instrument,
		Side:       side,
		Type:       "market",
		Size:       pos.Size,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("failed to close position %s: %w", pos.ID, err)
	}
	return nil
}

func (e *Executor) depthLevel() int {
	if e.cfg.DepthLevel <= 0 {
		return 9
	}
	return e.cfg.DepthLevel
}

func (e *Executor) orderIDTTL() time.Duration {
	if e.cfg.OrderIDTTLMS <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(e.cfg.OrderIDTTLMS) * time.Millisecond
}

func opposite(side string) string {
	if side == "buy" {
		return "sell"
	}
	return "buy"
}
