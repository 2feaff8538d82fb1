package marketstore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(minute int, close float64) Candle {
	return Candle{
		Time:   time.Date(2026, 1, 1, 0, minute, 0, 0, time.UTC),
		Open:   close - 0.5,
		High:   close + 1,
		Low:    close - 1,
		Close:  close,
		Volume: 100,
	}
}

func TestIngestAppendsOnNewBoundary(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Ingest("XBTUSDTM", "15m", bar(0, 100)))
	require.NoError(t, s.Ingest("XBTUSDTM", "15m", bar(15, 101)))
	assert.Equal(t, 2, s.Len("XBTUSDTM", "15m"))

	close, ok := s.LastClose("XBTUSDTM", "15m")
	require.True(t, ok)
	assert.Equal(t, 101.0, close)
}

func TestIngestUpdatesCurrentBarInPlace(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Ingest("XBTUSDTM", "15m", bar(0, 100)))
	require.NoError(t, s.Ingest("XBTUSDTM", "15m", bar(0, 100.7)))
	assert.Equal(t, 1, s.Len("XBTUSDTM", "15m"))

	close, ok := s.LastClose("XBTUSDTM", "15m")
	require.True(t, ok)
	assert.Equal(t, 100.7, close)
}

func TestIngestRejectsStaleAndCorrupt(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Ingest("XBTUSDTM", "15m", bar(15, 101)))
	assert.ErrorIs(t, s.Ingest("XBTUSDTM", "15m", bar(0, 100)), ErrStaleAppend)
	assert.ErrorIs(t, s.Ingest("XBTUSDTM", "15m", Candle{Time: bar(30, 0).Time}), ErrCorruptCandle)
	assert.Equal(t, 1, s.Len("XBTUSDTM", "15m"))
}

func TestTailChronologicalCopies(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Ingest("XBTUSDTM", "15m", bar(i*15, 100+float64(i))))
	}

	tail := s.Tail("XBTUSDTM", "15m", 3)
	require.Len(t, tail, 3)
	assert.Equal(t, 102.0, tail[0].Close)
	assert.Equal(t, 104.0, tail[2].Close)

	// mutating the returned slice must not affect the store
	tail[2].Close = 999
	close, _ := s.LastClose("XBTUSDTM", "15m")
	assert.Equal(t, 104.0, close)
}

func TestRingEvictsOldest(t *testing.T) {
	b := NewCandleBuffer(3)
	for i := 0; i < 5; i++ {
		b.Append(bar(i*15, 100+float64(i)))
	}

	assert.Equal(t, 3, b.Len())
	tail := b.Tail(10)
	require.Len(t, tail, 3)
	assert.Equal(t, 102.0, tail[0].Close)
	assert.Equal(t, 104.0, tail[2].Close)
}

func TestTimeframesAreIsolated(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Ingest("XBTUSDTM", "15m", bar(0, 100)))
	require.NoError(t, s.Ingest("XBTUSDTM", "1h", bar(0, 200)))
	require.NoError(t, s.Ingest("ETHUSDTM", "15m", bar(0, 300)))

	assert.Equal(t, 1, s.Len("XBTUSDTM", "15m"))
	assert.Equal(t, 1, s.Len("XBTUSDTM", "1h"))
	assert.ElementsMatch(t, []string{"XBTUSDTM", "ETHUSDTM"}, s.Instruments())
}

func TestSnapshotFreshness(t *testing.T) {
	s := NewStore(WithFreshness(50 * time.Millisecond))

	snap := &Snapshot{
		Instrument: "XBTUSDTM",
		BestBid:    decimal.NewFromInt(99),
		BestAsk:    decimal.NewFromInt(101),
	}
	s.PutSnapshot(snap)

	got := s.GetSnapshot("XBTUSDTM")
	require.NotNil(t, got)
	assert.True(t, got.Mid().Equal(decimal.NewFromInt(100)))

	// stale snapshots read as absent
	got.Taken = time.Now().Add(-time.Second)
	assert.Nil(t, s.GetSnapshot("XBTUSDTM"))
	assert.Nil(t, s.GetSnapshot("UNKNOWN"))
}

func TestCandleValidity(t *testing.T) {
	assert.True(t, bar(0, 100).Valid())
	assert.False(t, Candle{Open: 100, High: 99, Low: 98, Close: 100}.Valid())
	assert.True(t, Candle{}.IsZero())
	assert.False(t, bar(0, 100).IsZero())
}
