package gateway

import (
	"golang.org/x/time/rate"

	"github.com/quantflow/quantflow/internal/metrics"
)

// limiter wraps a token bucket with fail-fast semantics. A drained bucket
// returns ErrRateLimited immediately; the screener treats that as "skip
// this instrument this cycle" rather than queueing work behind the limit.
type limiter struct {
	bucket *rate.Limiter
}

func newLimiter(refillPerSec float64, capacity int) *limiter {
	if refillPerSec <= 0 {
		refillPerSec = 10
	}
	if capacity <= 0 {
		capacity = 30
	}
	return &limiter{bucket: rate.NewLimiter(rate.Limit(refillPerSec), capacity)}
}

// take consumes one token or fails fast
func (l *limiter) take() error {
	if !l.bucket.Allow() {
		metrics.RateLimited.Inc()
		return ErrRateLimited
	}
	return nil
}
