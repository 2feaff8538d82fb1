package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantflow/quantflow/internal/audit"
	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/executor"
	"github.com/quantflow/quantflow/internal/gateway"
	"github.com/quantflow/quantflow/internal/indicators"
	"github.com/quantflow/quantflow/internal/marketstore"
	"github.com/quantflow/quantflow/internal/metrics"
	"github.com/quantflow/quantflow/internal/position"
	"github.com/quantflow/quantflow/internal/risk"
	"github.com/quantflow/quantflow/internal/safety"
	"github.com/quantflow/quantflow/internal/screener"
	"github.com/quantflow/quantflow/internal/signal"
	"github.com/quantflow/quantflow/internal/store"
)

// Supervisor owns the component graph and its lifecycle. Everything runs
// under one errgroup: the first fatal error or a shutdown signal cancels
// the shared context, the screener drains, open work settles, and the
// audit trail flushes.
type Supervisor struct {
	cfg    *config.Config
	logger zerolog.Logger

	client   *gateway.Client
	stream   *gateway.Stream
	market   *marketstore.Store
	engine   *indicators.Engine
	gen      *signal.Generator
	calc     *risk.Calculator
	agent    *risk.Agent
	manager  *position.Manager
	exec     *executor.Executor
	guard    *safety.Guard
	screen   *screener.Screener
	trail    *audit.Trail
	state    *store.Store
	metricsS *metrics.Server

	mode string

	pendMu  sync.Mutex
	pending map[string]*position.Position // submitted, awaiting venue fill

	pauseMu sync.Mutex
	paused  bool
}

// Health is a point-in-time view of the running engine
type Health struct {
	Mode          string   `json:"mode"`
	Paused        bool     `json:"paused"`
	Emergency     bool     `json:"emergency"`
	OpenPositions int      `json:"open_positions"`
	Equity        string   `json:"equity"`
	DailyDrawdown string   `json:"daily_drawdown"`
	Disabled      []string `json:"disabled_features,omitempty"`
}

// New builds the full component graph from configuration
func New(cfg *config.Config) (*Supervisor, error) {
	mode := cfg.Trading.Mode
	if cfg.LiveDemoted() {
		mode = config.ModePaper
	}

	st, err := store.New(cfg.State.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	trail, err := audit.Open(cfg.Audit, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}

	client := gateway.NewClient(cfg.Exchange)
	market := marketstore.NewStore(marketstore.WithCapacity(cfg.Screener.WindowSize * 2))
	indCfg := indicators.DefaultConfig()
	if cfg.Indicator.RSIPeriod > 0 {
		indCfg.RSIPeriod = cfg.Indicator.RSIPeriod
	}
	if cfg.Indicator.ATRPeriod > 0 {
		indCfg.ATRPeriod = cfg.Indicator.ATRPeriod
	}
	if cfg.Indicator.ADXPeriod > 0 {
		indCfg.ADXPeriod = cfg.Indicator.ADXPeriod
	}
	if cfg.Indicator.DivLookback > 0 {
		indCfg.DivLookback = cfg.Indicator.DivLookback
	}
	engine := indicators.NewEngine(indCfg)
	gen := signal.NewGenerator(cfg.Signal, cfg.MTF)

	equity := decimal.NewFromFloat(cfg.Trading.InitialBalance)
	riskState := risk.NewState(equity, cfg.Risk.DayRolloverHourUTC, time.Now())
	calc := risk.NewCalculator(cfg.Trading, cfg.Risk)
	agent := risk.NewAgent(cfg.Risk, calc, riskState)

	manager := position.NewManager(cfg.Trading, cfg.Risk)
	guard := safety.NewGuard(cfg.Safety, st)

	tradingCfg := cfg.Trading
	tradingCfg.Mode = mode
	exec := executor.New(cfg.Executor, tradingCfg, client, st)

	drawdown := func() float64 { return riskState.DailyDrawdown().InexactFloat64() }
	screen := screener.New(cfg.Screener, cfg.MTF, client, market, engine, gen, drawdown)

	s := &Supervisor{
		cfg:     cfg,
		logger:  config.NewLogger("supervisor"),
		client:  client,
		stream:  gateway.NewStream(client, cfg.Exchange, false),
		market:  market,
		engine:  engine,
		gen:     gen,
		calc:    calc,
		agent:   agent,
		manager: manager,
		exec:    exec,
		guard:   guard,
		screen:  screen,
		trail:   trail,
		state:   st,
		mode:    mode,
		pending: make(map[string]*position.Position),
	}
	if cfg.Metrics.Enabled {
		s.metricsS = metrics.NewServer(cfg.Metrics, func() any { return s.Health() })
	}
	return s, nil
}

// Run starts every component and blocks until shutdown
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.LiveDemoted() {
		s.logger.Warn().Msg("MODE=live without ENABLE_LIVE_TRADING, demoted to paper")
	}
	s.logger.Info().
		Str("mode", s.mode).
		Str("timeframe", s.cfg.Screener.PrimaryTimeframe).
		Msg("Engine starting")
	metrics.Equity.Set(s.cfg.Trading.InitialBalance)

	g, gctx := errgroup.WithContext(ctx)

	if s.metricsS != nil {
		g.Go(func() error { return s.metricsS.Start(gctx) })
	}
	g.Go(func() error {
		err := s.screen.Run(gctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error { return s.tradeLoop(gctx) })
	g.Go(func() error { return s.tickLoop(gctx) })
	if s.mode == config.ModeLive {
		g.Go(func() error { return s.fillLoop(gctx) })
	}
	g.Go(func() error {
		err := s.stream.Run(gctx)
		if err == context.Canceled {
			return nil
		}
		// a dead stream degrades stop latency but REST polling still covers exits
		s.logger.Error().Err(err).Msg("Ticker stream gave up, continuing on REST only")
		return nil
	})
	g.Go(func() error { return s.streamLoop(gctx) })

	err := g.Wait()
	if flushErr := s.trail.Close(); flushErr != nil {
		s.logger.Error().Err(flushErr).Msg("Audit trail close failed")
	}
	s.logger.Info().Msg("Engine stopped")
	if err == context.Canceled {
		return nil
	}
	return err
}

// tradeLoop consumes screener candidates and runs them through safety,
// risk and execution
func (s *Supervisor) tradeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case comp, ok := <-s.screen.Candidates():
			if !ok {
				return nil
			}
			s.handleCandidate(ctx, comp)
		}
	}
}

func (s *Supervisor) handleCandidate(ctx context.Context, comp *signal.Composite) {
	now := time.Now()
	metrics.SignalsEmitted.WithLabelValues(comp.Instrument, string(comp.Side)).Inc()
	s.trail.Record(audit.KindSignalEmitted, comp.Instrument, comp)

	// an opposite super-threshold signal closes before it opens
	for _, exit := range s.manager.ReversalExit(comp.Instrument, string(comp.Side), comp.Score, decimal.NewFromFloat(comp.Close)) {
		s.closePosition(ctx, exit)
	}

	if s.manager.OpenFor(comp.Instrument) {
		return // one position per instrument
	}
	if s.isPaused() {
		metrics.SignalsBlocked.WithLabelValues("paused").Inc()
		return
	}

	if reason := s.guard.Allow(comp.FeatureKey, now); reason != "" {
		metrics.SignalsBlocked.WithLabelValues(reason).Inc()
		s.trail.Record(audit.KindGateBlocked, comp.Instrument, map[string]any{"reason": reason, "layer": "safety"})
		return
	}

	sigIn := risk.SignalInput{
		Instrument: comp.Instrument,
		Side:       string(comp.Side),
		Score:      comp.Score,
		Confidence: comp.Confidence,
		FeatureKey: comp.FeatureKey,
		ATRPercent: comp.ATRPercent,
		Price:      decimal.NewFromFloat(comp.Close),
		Mode:       s.mode,
	}
	intent := s.calc.BuildIntent(sigIn, s.agent.State().Equity(), now)
	decision := s.agent.Evaluate(intent, now)
	if !decision.Approved {
		s.trail.Record(audit.KindGateBlocked, intent.ID, map[string]any{"reasons": decision.Reasons, "layer": "risk"})
		return
	}

	res, err := s.exec.Enter(ctx, decision.Intent)
	if err != nil {
		s.logger.Warn().Err(err).Str("instrument", comp.Instrument).Msg("Entry failed")
		return
	}
	s.trail.Record(audit.KindOrderSubmitted, intent.ID, decision.Intent)
	s.guard.RecordEntry(now)

	pos := res.Position
	s.manager.Track(pos)
	if err := pos.Transition(position.StatusSubmitted); err != nil {
		s.logger.Error().Err(err).Msg("Position state error")
		return
	}
	// paper entries fill immediately; live fills arrive via fillLoop
	if s.mode == config.ModeLive {
		s.pendMu.Lock()
		s.pending[pos.ID] = pos
		s.pendMu.Unlock()
	} else {
		if err := s.manager.MarkOpen(pos.ID, res.EntryPrice, now); err != nil {
			s.logger.Error().Err(err).Msg("Position open failed")
			return
		}
		s.agent.State().PositionOpened(pos.Margin)
		s.trail.Record(audit.KindPositionOpened, pos.ID, pos)
	}
	metrics.PositionsOpen.Set(float64(s.agent.State().OpenPositions()))
	s.gen.MarkEmitted(comp.Instrument, comp.Timeframe, now)
}

// tickLoop drives stop management off the freshest stored candle
func (s *Supervisor) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	tf := s.cfg.Screener.PrimaryTimeframe

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, pos := range s.manager.Open("") {
				candles := s.market.Tail(pos.Instrument, tf, 1)
				if len(candles) == 0 {
					continue
				}
				last := candles[0]
				res := s.manager.Tick(pos.Instrument,
					decimal.NewFromFloat(last.High),
					decimal.NewFromFloat(last.Low),
					decimal.NewFromFloat(last.Close))

				for _, move := range res.StopMoves {
					if err := s.exec.MoveStop(ctx, move.Position, move.NewStop); err != nil {
						s.logger.Warn().Err(err).Str("id", move.Position.ID).Msg("Stop replacement failed")
					}
				}
				for _, exit := range res.Exits {
					s.closePosition(ctx, exit)
				}
			}
			s.checkDrawdownBreaker(ctx)
		}
	}
}

// streamLoop keeps ticker subscriptions aligned with the open position
// book and applies intrabar prices to stop management. Bar-level checks
// in tickLoop remain the backstop when the stream is down.
func (s *Supervisor) streamLoop(ctx context.Context) error {
	const topicPrefix = "/contractMarket/tickerV2:"
	subscribed := make(map[string]bool)
	resync := time.NewTicker(10 * time.Second)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-resync.C:
			want := make(map[string]bool)
			for _, pos := range s.manager.Open("") {
				want[pos.Instrument] = true
			}
			for inst := range want {
				if !subscribed[inst] {
					if err := s.stream.Subscribe(topicPrefix + inst); err == nil {
						subscribed[inst] = true
					}
				}
			}
			for inst := range subscribed {
				if !want[inst] {
					_ = s.stream.Unsubscribe(topicPrefix + inst)
					delete(subscribed, inst)
				}
			}
		case msg, ok := <-s.stream.Messages():
			if !ok {
				return nil
			}
			if !strings.HasPrefix(msg.Topic, topicPrefix) {
				continue
			}
			instrument := strings.TrimPrefix(msg.Topic, topicPrefix)
			var tick struct {
				BestBidPrice decimal.Decimal `json:"bestBidPrice"`
				BestAskPrice decimal.Decimal `json:"bestAskPrice"`
			}
			if err := json.Unmarshal(msg.Data, &tick); err != nil {
				continue
			}
			if tick.BestBidPrice.IsZero() || tick.BestAskPrice.IsZero() {
				continue
			}
			mid := tick.BestBidPrice.Add(tick.BestAskPrice).Div(decimal.NewFromInt(2))

			res := s.manager.Tick(instrument, mid, mid, mid)
			for _, move := range res.StopMoves {
				if err := s.exec.MoveStop(ctx, move.Position, move.NewStop); err != nil {
					s.logger.Warn().Err(err).Str("id", move.Position.ID).Msg("Stop replacement failed")
				}
			}
			for _, exit := range res.Exits {
				s.closePosition(ctx, exit)
			}
		}
	}
}

// fillLoop polls the venue for entry-order fills in live mode
func (s *Supervisor) fillLoop(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.pendMu.Lock()
			batch := make([]*position.Position, 0, len(s.pending))
			for _, p := range s.pending {
				batch = append(batch, p)
			}
			s.pendMu.Unlock()

			for _, pos := range batch {
				status, err := s.client.GetOrder(ctx, pos.EntryOrderID)
				if err != nil {
					s.logger.Debug().Err(err).Str("order", pos.EntryOrderID).Msg("Fill poll failed")
					continue
				}
				if status.Status != "done" {
					continue
				}
				s.pendMu.Lock()
				delete(s.pending, pos.ID)
				s.pendMu.Unlock()

				if status.FilledSize.IsZero() {
					// cancelled unfilled, drop the tracked position
					s.manager.Remove(pos.ID)
					continue
				}
				fill := status.Price
				if fill.IsZero() {
					fill = pos.EntryPrice
				}
				if err := s.manager.MarkOpen(pos.ID, fill, time.Now()); err != nil {
					s.logger.Error().Err(err).Msg("Position open failed")
					continue
				}
				s.agent.State().PositionOpened(pos.Margin)
				s.trail.Record(audit.KindPositionOpened, pos.ID, pos)
			}
		}
	}
}

// closePosition settles an exit end to end
func (s *Supervisor) closePosition(ctx context.Context, exit position.Exit) {
	pos, ok := s.manager.Claim(exit.Position.ID)
	if !ok {
		return // another exit path won the claim
	}
	if err := s.exec.Close(ctx, pos); err != nil {
		s.logger.Error().Err(err).Str("id", pos.ID).Msg("Venue close failed")
	}

	pos.Settle(exit.Price, s.cfg.Trading.FeeRate, exit.Reason, time.Now())
	if err := pos.Transition(position.StatusClosed); err != nil {
		s.logger.Error().Err(err).Msg("Close transition failed")
	}
	s.manager.Remove(pos.ID)

	s.agent.State().PositionClosed(pos.Margin, pos.RealizedPnL)
	metrics.Equity.Set(s.agent.State().Equity().InexactFloat64())
	metrics.PositionsOpen.Set(float64(s.agent.State().OpenPositions()))
	s.guard.RecordOutcome(pos.FeatureKey, pos.RealizedPnL, time.Now())

	if err := s.state.AppendTrade(pos); err != nil {
		s.logger.Warn().Err(err).Msg("Trade history append failed")
	}
	s.trail.Record(audit.KindPositionClosed, pos.ID, pos)
	s.logger.Info().
		Str("id", pos.ID).
		Str("instrument", pos.Instrument).
		Str("reason", string(exit.Reason)).
		Str("pnl", pos.RealizedPnL.StringFixed(4)).
		Msg("Position closed")
}

// checkDrawdownBreaker trips the emergency stop and fans out market
// closes when the daily drawdown cap is breached
func (s *Supervisor) checkDrawdownBreaker(ctx context.Context) {
	dd := s.agent.State().DailyDrawdown()
	metrics.DailyDrawdown.Set(dd.InexactFloat64())
	if s.guard.Emergency() {
		return
	}
	if s.cfg.Risk.MaxDailyDrawdown <= 0 || dd.LessThan(decimal.NewFromFloat(s.cfg.Risk.MaxDailyDrawdown)) {
		return
	}

	s.guard.TripEmergency(time.Now())
	s.trail.Record(audit.KindEmergencyStop, "", map[string]any{"drawdown": dd.String()})

	tf := s.cfg.Screener.PrimaryTimeframe
	exits := s.manager.EmergencyExits(func(instrument string) decimal.Decimal {
		if close, ok := s.market.LastClose(instrument, tf); ok {
			return decimal.NewFromFloat(close)
		}
		return decimal.Zero
	})
	for _, exit := range exits {
		s.closePosition(ctx, exit)
	}
}

// Pause stops new entries; open positions keep their stop management
func (s *Supervisor) Pause() {
	s.pauseMu.Lock()
	s.paused = true
	s.pauseMu.Unlock()
	s.logger.Warn().Msg("Entries paused")
}

// Resume re-enables entries
func (s *Supervisor) Resume() {
	s.pauseMu.Lock()
	s.paused = false
	s.pauseMu.Unlock()
	s.logger.Info().Msg("Entries resumed")
}

func (s *Supervisor) isPaused() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	return s.paused
}

// Health aggregates component state for operator checks
func (s *Supervisor) Health() Health {
	state := s.agent.State()
	return Health{
		Mode:          s.mode,
		Paused:        s.isPaused(),
		Emergency:     s.guard.Emergency(),
		OpenPositions: state.OpenPositions(),
		Equity:        state.Equity().StringFixed(2),
		DailyDrawdown: state.DailyDrawdown().StringFixed(4),
		Disabled:      s.guard.Disabled(time.Now()),
	}
}

// Guard exposes the safety guard for operator endpoints
func (s *Supervisor) Guard() *safety.Guard { return s.guard }
