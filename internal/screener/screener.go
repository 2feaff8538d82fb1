package screener

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/gateway"
	"github.com/quantflow/quantflow/internal/indicators"
	"github.com/quantflow/quantflow/internal/marketstore"
	"github.com/quantflow/quantflow/internal/signal"
)

// MarketData is the slice of the gateway the screener consumes
type MarketData interface {
	GetContracts(ctx context.Context) ([]gateway.Contract, error)
	GetKlines(ctx context.Context, symbol string, granularity int, from, to time.Time) ([]gateway.Kline, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*gateway.OrderBook, error)
	GetFundingRate(ctx context.Context, symbol string) (*gateway.FundingRate, error)
}

// Stats summarizes one scan cycle
type Stats struct {
	Cycle      int
	Scanned    int
	Errored    int
	Candidates int
	Elapsed    time.Duration
}

// Screener walks the instrument universe on a fixed cadence, refreshes
// market data into the store, scores every instrument and emits the
// top candidates. Instruments refresh every K cycles and the HTF bundle
// cache every N cycles; both are much slower-moving than primary candles.
type Screener struct {
	cfg      config.ScreenerConfig
	mtfCfg   config.MTFConfig
	market   MarketData
	store    *marketstore.Store
	engine   *indicators.Engine
	gen      *signal.Generator
	drawdown func() float64 // current daily drawdown fraction
	logger   zerolog.Logger

	mu          sync.Mutex
	instruments []string
	htfCache    map[string]map[string]*indicators.Bundle // instrument -> timeframe -> bundle
	cycle       int

	out chan *signal.Composite
}

// New creates a screener. drawdown may be nil when no risk state exists
// (backtest warm-up).
func New(cfg config.ScreenerConfig, mtfCfg config.MTFConfig, market MarketData, st *marketstore.Store, engine *indicators.Engine, gen *signal.Generator, drawdown func() float64) *Screener {
	if drawdown == nil {
		drawdown = func() float64 { return 0 }
	}
	return &Screener{
		cfg:      cfg,
		mtfCfg:   mtfCfg,
		market:   market,
		store:    st,
		engine:   engine,
		gen:      gen,
		drawdown: drawdown,
		logger:   config.NewLogger("screener"),
		htfCache: make(map[string]map[string]*indicators.Bundle),
		out:      make(chan *signal.Composite, 64),
	}
}

// Candidates returns the channel of authorized top-M signals. It closes
// when Run drains and returns.
func (s *Screener) Candidates() <-chan *signal.Composite { return s.out }

// Run drives the scan loop until the context ends. The in-flight cycle
// finishes before Run returns; stopping never abandons half-scanned work.
func (s *Screener) Run(ctx context.Context) error {
	defer close(s.out)

	interval := time.Duration(s.cfg.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// first cycle runs immediately
	s.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Screener stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle scans the whole universe once
func (s *Screener) runCycle(ctx context.Context) Stats {
	start := time.Now()
	s.mu.Lock()
	s.cycle++
	cycle := s.cycle
	s.mu.Unlock()

	if len(s.universe()) == 0 || s.refreshDue(cycle, s.cfg.InstrumentRefresh) {
		if err := s.refreshInstruments(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Instrument refresh failed, keeping previous universe")
		}
	}
	refreshHTF := s.refreshDue(cycle, s.cfg.HTFRefreshCycles)

	universe := s.universe()
	var scanned, errored, emitted int64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := s.cfg.BatchSize
	if limit <= 0 {
		limit = 10
	}
	g.SetLimit(limit)

	candidates := make([]*signal.Composite, 0, len(universe))
	for _, instrument := range universe {
		instrument := instrument
		g.Go(func() error {
			comp, err := s.scanOne(gctx, instrument, refreshHTF)
			mu.Lock()
			defer mu.Unlock()
			scanned++
			if err != nil {
				errored++
				if gctx.Err() == nil {
					s.logger.Debug().Err(err).Str("instrument", instrument).Msg("Scan failed")
				}
				return nil // one bad instrument never aborts the cycle
			}
			if comp != nil {
				candidates = append(candidates, comp)
			}
			return nil
		})
	}
	_ = g.Wait()

	// rank by absolute score, emit the top M
	sort.Slice(candidates, func(i, j int) bool {
		return absFloat(candidates[i].Score) > absFloat(candidates[j].Score)
	})
	topM := s.cfg.TopM
	if topM <= 0 || topM > len(candidates) {
		topM = len(candidates)
	}
	for _, comp := range candidates[:topM] {
		select {
		case s.out <- comp:
			emitted++
		case <-ctx.Done():
		}
	}

	stats := Stats{
		Cycle:      cycle,
		Scanned:    int(scanned),
		Errored:    int(errored),
		Candidates: int(emitted),
		Elapsed:    time.Since(start),
	}
	s.logger.Info().
		Int("cycle", stats.Cycle).
		Int("scanned", stats.Scanned).
		Int("errored", stats.Errored).
		Int("candidates", stats.Candidates).
		Dur("elapsed", stats.Elapsed).
		Msg("Scan cycle complete")
	return stats
}

// scanOne refreshes one instrument's data and scores it. Returns nil when
// the signal is unauthorized or in cooldown.
func (s *Screener) scanOne(ctx context.Context, instrument string, refreshHTF bool) (*signal.Composite, error) {
	tf := s.cfg.PrimaryTimeframe
	if err := s.refreshCandles(ctx, instrument, tf); err != nil {
		return nil, err
	}
	if refreshHTF {
		s.refreshHTFBundles(ctx, instrument)
	}

	candles := s.store.Tail(instrument, tf, s.cfg.WindowSize)
	if len(candles) == 0 {
		return nil, nil
	}
	bundle := s.engine.Compute(candles)

	snap := s.refreshSnapshot(ctx, instrument)

	in := signal.Input{
		Instrument: instrument,
		Timeframe:  tf,
		Bundle:     bundle,
		Snapshot:   snap,
		Drawdown:   s.drawdown(),
	}
	s.mu.Lock()
	if cached, ok := s.htfCache[instrument]; ok {
		in.HTF = make(map[string]*indicators.Bundle, len(cached))
		for k, v := range cached {
			in.HTF[k] = v
		}
	}
	s.mu.Unlock()

	comp := s.gen.Generate(in)
	if !comp.Authorized || s.gen.InCooldown(instrument, tf, time.Now()) {
		return nil, nil
	}
	return comp, nil
}

// refreshCandles pulls the latest primary-timeframe window into the store
func (s *Screener) refreshCandles(ctx context.Context, instrument, tf string) error {
	granularity := GranularityMinutes(tf)
	span := time.Duration(s.cfg.WindowSize+5) * time.Duration(granularity) * time.Minute
	klines, err := s.market.GetKlines(ctx, instrument, granularity, time.Now().Add(-span), time.Now())
	if err != nil {
		return err
	}
	for _, k := range klines {
		candle := marketstore.Candle{
			Time:   time.UnixMilli(k.Time).UTC(),
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Volume,
		}
		if err := s.store.Ingest(instrument, tf, candle); err != nil {
			s.logger.Debug().Err(err).Str("instrument", instrument).Msg("Candle rejected")
		}
	}
	return nil
}

// refreshHTFBundles recomputes the higher-timeframe bundles for one
// instrument. Failures leave the previous cache entry in place.
func (s *Screener) refreshHTFBundles(ctx context.Context, instrument string) {
	bundles := make(map[string]*indicators.Bundle)
	for _, tf := range s.mtfCfg.HTFTimeframes {
		if err := s.refreshCandles(ctx, instrument, tf); err != nil {
			continue
		}
		candles := s.store.Tail(instrument, tf, s.cfg.WindowSize)
		if len(candles) == 0 {
			continue
		}
		bundles[tf] = s.engine.Compute(candles)
	}
	if len(bundles) == 0 {
		return
	}
	s.mu.Lock()
	s.htfCache[instrument] = bundles
	s.mu.Unlock()
}

// refreshSnapshot builds a microstructure snapshot from depth and funding
func (s *Screener) refreshSnapshot(ctx context.Context, instrument string) *marketstore.Snapshot {
	book, err := s.market.GetOrderBook(ctx, instrument, 20)
	if err != nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return nil
	}

	snap := &marketstore.Snapshot{
		Instrument: instrument,
		BestBid:    book.Bids[0][0],
		BestAsk:    book.Asks[0][0],
		Spread:     book.Asks[0][0].Sub(book.Bids[0][0]),
		Taken:      time.Now(),
	}
	var bidQty, askQty decimal.Decimal
	for _, lvl := range book.Bids {
		snap.Bids = append(snap.Bids, marketstore.Level{Price: lvl[0], Size: lvl[1]})
		bidQty = bidQty.Add(lvl[1])
	}
	for _, lvl := range book.Asks {
		snap.Asks = append(snap.Asks, marketstore.Level{Price: lvl[0], Size: lvl[1]})
		askQty = askQty.Add(lvl[1])
	}
	if total := bidQty.Add(askQty); total.IsPositive() {
		snap.DepthImbalance = bidQty.Sub(askQty).Div(total).InexactFloat64()
	}

	if funding, err := s.market.GetFundingRate(ctx, instrument); err == nil {
		snap.FundingRate = funding.Value
	}

	s.store.PutSnapshot(snap)
	return snap
}

// refreshInstruments rebuilds the tradable universe. An explicit
// allowlist wins; otherwise open contracts above the turnover floor.
func (s *Screener) refreshInstruments(ctx context.Context) error {
	if len(s.cfg.Instruments) > 0 {
		s.mu.Lock()
		s.instruments = append([]string(nil), s.cfg.Instruments...)
		s.mu.Unlock()
		return nil
	}

	contracts, err := s.market.GetContracts(ctx)
	if err != nil {
		return err
	}
	floor := decimal.NewFromFloat(s.cfg.MinVolumeUSD)
	var universe []string
	for _, c := range contracts {
		if !strings.EqualFold(c.Status, "Open") {
			continue
		}
		if floor.IsPositive() && c.TurnoverOf24h.LessThan(floor) {
			continue
		}
		universe = append(universe, c.Symbol)
	}
	sort.Strings(universe)

	s.mu.Lock()
	s.instruments = universe
	s.mu.Unlock()
	s.logger.Info().Int("count", len(universe)).Msg("Instrument universe refreshed")
	return nil
}

func (s *Screener) universe() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.instruments...)
}

func (s *Screener) refreshDue(cycle, every int) bool {
	if every <= 0 {
		return false
	}
	return cycle == 1 || cycle%every == 0
}

// GranularityMinutes maps a timeframe label to the venue's kline
// granularity in minutes
func GranularityMinutes(tf string) int {
	switch strings.ToLower(tf) {
	case "1m", "1min":
		return 1
	case "5m", "5min":
		return 5
	case "15m", "15min":
		return 15
	case "30m", "30min":
		return 30
	case "1h", "1hour":
		return 60
	case "2h", "2hour":
		return 120
	case "4h", "4hour":
		return 240
	case "8h", "8hour":
		return 480
	case "12h", "12hour":
		return 720
	case "1d", "1day":
		return 1440
	default:
		return 15
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
