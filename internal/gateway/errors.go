package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRateLimited is returned when the local token bucket is empty.
	// The caller skips the cycle instead of queuing.
	ErrRateLimited = errors.New("rate limited")

	// ErrBreakerOpen is returned without touching the network while the
	// circuit breaker is open
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrNotConnected is returned by stream operations before Connect
	ErrNotConnected = errors.New("websocket not connected")

	// ErrAuth is returned when a signed request is attempted without
	// complete credentials. Misconfiguration, never retried.
	ErrAuth = errors.New("missing venue credentials")

	// ErrRetryExhausted wraps the last failure once the retry budget is
	// spent; errors.Is matches it alongside the underlying cause
	ErrRetryExhausted = errors.New("retry budget exhausted")
)

// APIError is a structured venue rejection. Code and Msg are passed through
// verbatim from the venue response so operators can match them against the
// venue's published error table.
type APIError struct {
	HTTPStatus int
	Code       string
	Msg        string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue error %s (http %d) on %s: %s", e.Code, e.HTTPStatus, e.Endpoint, e.Msg)
}

// venue code for a signature timestamp outside the accepted window
const codeClockSkew = "400002"

// IsClockSkew reports a signing timestamp rejection. These are retried
// after a server-time resync rather than treated as terminal.
func IsClockSkew(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeClockSkew
}

// IsRetryable classifies an error for the retry loop. Venue 429 and 5xx
// responses, clock skew and transport failures retry; every other 4xx is
// terminal because resubmitting a rejected order cannot succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrBreakerOpen) {
		return false // fail fast, the caller skips the cycle
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatus == 429 || apiErr.HTTPStatus >= 500 {
			return true
		}
		return IsClockSkew(err)
	}

	// transport-level failures
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "EOF")
}
