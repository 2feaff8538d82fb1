package marketstore

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantflow/quantflow/internal/config"
)

// DefaultCapacity is the minimum ring size per (instrument, timeframe)
const DefaultCapacity = 1000

// ErrCorruptCandle is returned when a zero-OHLC bar arrives from the feed
var ErrCorruptCandle = errors.New("marketstore: corrupt candle with zero OHLC")

// ErrStaleAppend is returned when a bar older than the current head arrives
var ErrStaleAppend = errors.New("marketstore: candle older than current bar")

// Snapshot holds top-of-book microstructure for one instrument. Snapshots
// are immutable once stored; consumers must treat stale snapshots as absent.
type Snapshot struct {
	Instrument   string
	BestBid      decimal.Decimal
	BestAsk      decimal.Decimal
	Spread       decimal.Decimal
	Bids         []Level // descending price
	Asks         []Level // ascending price
	DepthImbalance float64 // (bidQty - askQty) / (bidQty + askQty) over top N
	BuySellRatio   float64 // taker buy volume / total over recent trades
	FundingRate    float64
	LastTrade      time.Time
	Taken          time.Time
}

// Level is one price level of a depth snapshot
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Mid returns the midpoint of best bid and ask
func (s *Snapshot) Mid() decimal.Decimal {
	two := decimal.NewFromInt(2)
	return s.BestBid.Add(s.BestAsk).Div(two)
}

// Store keeps per-instrument, per-timeframe candle rings plus the latest
// microstructure snapshot. Writers (the stream ingest path) decide
// append-vs-update by boundary timestamp; readers always receive copies.
type Store struct {
	mu        sync.RWMutex
	buffers   map[string]map[string]*CandleBuffer // instrument -> timeframe -> ring
	snapshots map[string]*Snapshot
	capacity  int
	freshness time.Duration
	log       zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithCapacity overrides the per-buffer ring capacity
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > s.capacity {
			s.capacity = n
		}
	}
}

// WithFreshness overrides the snapshot freshness bound
func WithFreshness(d time.Duration) Option {
	return func(s *Store) { s.freshness = d }
}

// NewStore creates an empty market store
func NewStore(opts ...Option) *Store {
	s := &Store{
		buffers:   make(map[string]map[string]*CandleBuffer),
		snapshots: make(map[string]*Snapshot),
		capacity:  DefaultCapacity,
		freshness: 10 * time.Second,
		log:       config.NewLogger("marketstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest routes a candle to the right buffer, appending when the boundary
// advanced and updating the current bar in place otherwise. A single bar's
// update is atomic from a reader's perspective.
func (s *Store) Ingest(instrument, timeframe string, c Candle) error {
	if c.IsZero() {
		s.log.Debug().
			Str("instrument", instrument).
			Str("timeframe", timeframe).
			Time("bar", c.Time).
			Msg("Dropped zero-OHLC candle")
		return ErrCorruptCandle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.buffer(instrument, timeframe)
	last, ok := buf.Last()
	switch {
	case !ok || c.Time.After(last.Time):
		buf.Append(c)
	case c.Time.Equal(last.Time):
		buf.SetLast(c)
	default:
		return ErrStaleAppend
	}
	return nil
}

// AppendCandle appends a closed historical bar. Bars at or before the
// current head are ignored so historical backfill cannot split live bars.
func (s *Store) AppendCandle(instrument, timeframe string, c Candle) error {
	if c.IsZero() {
		return ErrCorruptCandle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.buffer(instrument, timeframe)
	if last, ok := buf.Last(); ok && !c.Time.After(last.Time) {
		return ErrStaleAppend
	}
	buf.Append(c)
	return nil
}

// UpdateLastCandle replaces the current bar in place
func (s *Store) UpdateLastCandle(instrument, timeframe string, c Candle) error {
	if c.IsZero() {
		return ErrCorruptCandle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.buffer(instrument, timeframe)
	last, ok := buf.Last()
	if !ok || !last.Time.Equal(c.Time) {
		return ErrStaleAppend
	}
	buf.SetLast(c)
	return nil
}

// Tail returns a copy of the most recent n candles in chronological order
func (s *Store) Tail(instrument, timeframe string, n int) []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tfs, ok := s.buffers[instrument]
	if !ok {
		return nil
	}
	buf, ok := tfs[timeframe]
	if !ok {
		return nil
	}
	return buf.Tail(n)
}

// Len returns the number of bars held for (instrument, timeframe)
func (s *Store) Len(instrument, timeframe string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tfs, ok := s.buffers[instrument]; ok {
		if buf, ok := tfs[timeframe]; ok {
			return buf.Len()
		}
	}
	return 0
}

// LastClose returns the latest close price for the instrument's timeframe
func (s *Store) LastClose(instrument, timeframe string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tfs, ok := s.buffers[instrument]; ok {
		if buf, ok := tfs[timeframe]; ok {
			if last, ok := buf.Last(); ok {
				return last.Close, true
			}
		}
	}
	return 0, false
}

// PutSnapshot stores the latest microstructure snapshot for an instrument
func (s *Store) PutSnapshot(snap *Snapshot) {
	if snap.Taken.IsZero() {
		snap.Taken = time.Now()
	}
	s.mu.Lock()
	s.snapshots[snap.Instrument] = snap
	s.mu.Unlock()
}

// GetSnapshot returns the current snapshot, or nil when none exists or the
// stored one is older than the freshness bound. Staleness means absent,
// never a neutral value.
func (s *Store) GetSnapshot(instrument string) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[instrument]
	if !ok || time.Since(snap.Taken) > s.freshness {
		return nil
	}
	return snap
}

// Instruments returns every instrument with at least one buffer
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.buffers))
	for inst := range s.buffers {
		out = append(out, inst)
	}
	return out
}

// buffer returns (creating if needed) the ring for (instrument, timeframe).
// Caller must hold the write lock.
func (s *Store) buffer(instrument, timeframe string) *CandleBuffer {
	tfs, ok := s.buffers[instrument]
	if !ok {
		tfs = make(map[string]*CandleBuffer)
		s.buffers[instrument] = tfs
	}
	buf, ok := tfs[timeframe]
	if !ok {
		buf = NewCandleBuffer(s.capacity)
		tfs[timeframe] = buf
	}
	return buf
}
