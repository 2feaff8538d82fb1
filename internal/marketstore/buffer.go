package marketstore

// CandleBuffer is a bounded ring of candles for one (instrument, timeframe).
// Appends evict the oldest bar once capacity is reached. Not safe for
// concurrent use; the Store serializes access.
type CandleBuffer struct {
	data  []Candle
	start int // index of oldest element
	count int
}

// NewCandleBuffer creates a ring with the given capacity
func NewCandleBuffer(capacity int) *CandleBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &CandleBuffer{data: make([]Candle, capacity)}
}

// Len returns the number of stored candles
func (b *CandleBuffer) Len() int { return b.count }

// Cap returns the buffer capacity
func (b *CandleBuffer) Cap() int { return len(b.data) }

// Append adds a candle at the head, evicting the oldest when full
func (b *CandleBuffer) Append(c Candle) {
	idx := (b.start + b.count) % len(b.data)
	b.data[idx] = c
	if b.count < len(b.data) {
		b.count++
	} else {
		b.start = (b.start + 1) % len(b.data)
	}
}

// Last returns the most recent candle
func (b *CandleBuffer) Last() (Candle, bool) {
	if b.count == 0 {
		return Candle{}, false
	}
	return b.at(b.count - 1), true
}

// SetLast replaces the most recent candle in place
func (b *CandleBuffer) SetLast(c Candle) bool {
	if b.count == 0 {
		return false
	}
	b.data[(b.start+b.count-1)%len(b.data)] = c
	return true
}

// Tail copies the most recent n candles in chronological order. When fewer
// than n are stored the full contents are returned.
func (b *CandleBuffer) Tail(n int) []Candle {
	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Candle, n)
	for i := 0; i < n; i++ {
		out[i] = b.at(b.count - n + i)
	}
	return out
}

func (b *CandleBuffer) at(i int) Candle {
	return b.data[(b.start+i)%len(b.data)]
}
