package gateway

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/quantflow/quantflow/internal/metrics"
)

// newBreaker builds the venue circuit breaker. It trips on consecutive
// failures; after the reset timeout a single half-open probe decides
// whether to close again.
func newBreaker(failures uint32, reset time.Duration, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 5
	}
	if reset <= 0 {
		reset = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "venue",
		MaxRequests: 1, // one probe in half-open
		Timeout:     reset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Terminal 4xx rejections are request bugs, not venue health;
		// they must not block unrelated traffic. 429 and 5xx count as
		// failures, as do transport errors.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.HTTPStatus < 500 && apiErr.HTTPStatus != 429
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.Set(breakerStateValue(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// mapBreakerErr converts gobreaker sentinels to the gateway taxonomy
func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBreakerOpen
	}
	return err
}
