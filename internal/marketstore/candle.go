package marketstore

import "time"

// Candle is a single OHLCV bar. The bar at the head of a buffer is mutable
// until its boundary elapses; everything behind it is immutable.
type Candle struct {
	Time   time.Time `json:"time"` // bar boundary timestamp
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// IsZero reports whether all OHLC fields are zero. Such bars are corrupt
// rows from the feed and are dropped at ingest.
func (c Candle) IsZero() bool {
	return c.Open == 0 && c.High == 0 && c.Low == 0 && c.Close == 0
}

// Valid reports whether the bar satisfies low <= min(open,close) and
// max(open,close) <= high with non-negative volume.
func (c Candle) Valid() bool {
	lo, hi := c.Open, c.Open
	if c.Close < lo {
		lo = c.Close
	}
	if c.Close > hi {
		hi = c.Close
	}
	return c.Low <= lo && hi <= c.High && c.Volume >= 0
}

// TypicalPrice returns (high+low+close)/3
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}
