package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/quantflow/internal/config"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(config.ExchangeConfig{
		BaseURL:          srv.URL,
		APIKey:           "key",
		APISecret:        "secret",
		APIPassphrase:    "pass",
		BucketCapacity:   100,
		BucketRefillRate: 100,
		BreakerFailures:  5,
		MaxRetries:       2,
	})
	return c, srv
}

func envelopeJSON(code string, data any) []byte {
	raw, _ := json.Marshal(data)
	out, _ := json.Marshal(map[string]any{"code": code, "msg": "", "data": json.RawMessage(raw)})
	return out
}

func TestSignerHeaders(t *testing.T) {
	s := newSigner("key", "secret", "phrase", "")
	req, err := http.NewRequest(http.MethodPost, "https://example.com/api/v1/orders", nil)
	require.NoError(t, err)

	s.sign(req, http.MethodPost, "/api/v1/orders", []byte(`{"symbol":"XBTUSDTM"}`))

	assert.Equal(t, "key", req.Header.Get("KC-API-KEY"))
	assert.Equal(t, "2", req.Header.Get("KC-API-KEY-VERSION"))
	assert.NotEmpty(t, req.Header.Get("KC-API-SIGN"))
	assert.NotEmpty(t, req.Header.Get("KC-API-TIMESTAMP"))
	// passphrase header is the signed digest, never the raw passphrase
	assert.NotEqual(t, "phrase", req.Header.Get("KC-API-PASSPHRASE"))
}

func TestSignerClockOffset(t *testing.T) {
	s := newSigner("key", "secret", "phrase", "2")
	serverNow := time.Now().Add(90 * time.Second).UnixMilli()
	s.setServerTime(serverNow)
	assert.InDelta(t, serverNow, s.timestampMS(), 1000)
}

func TestGetTickerDecodesEnvelope(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ticker", r.URL.Path)
		assert.Equal(t, "XBTUSDTM", r.URL.Query().Get("symbol"))
		w.Write(envelopeJSON("200000", map[string]any{
			"symbol": "XBTUSDTM", "bestBidPrice": "50000.1", "bestAskPrice": "50000.5", "price": "50000.3",
		}))
	}))

	tk, err := c.GetTicker(context.Background(), "XBTUSDTM")
	require.NoError(t, err)
	assert.Equal(t, "XBTUSDTM", tk.Symbol)
	assert.Equal(t, "50000.1", tk.BestBidPrice.String())
}

func TestVenueErrorSurfacedVerbatim(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"code":"300003","msg":"Balance insufficient","data":null}`))
	}))

	_, err := c.GetTicker(context.Background(), "XBTUSDTM")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "300003", apiErr.Code)
	assert.Equal(t, "Balance insufficient", apiErr.Msg)
}

func TestRetryOn500ThenSuccess(t *testing.T) {
	calls := 0
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"code":"500000","msg":"internal error"}`))
			return
		}
		w.Write(envelopeJSON("200000", map[string]any{"symbol": "XBTUSDTM"}))
	}))

	_, err := c.GetTicker(context.Background(), "XBTUSDTM")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestNoRetryOn4xx(t *testing.T) {
	calls := 0
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"100001","msg":"bad parameter"}`))
	}))

	_, err := c.GetTicker(context.Background(), "XBTUSDTM")
	require.Error(t, err)
	assert.Equal(t, 1, calls, "4xx rejections must not retry")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":"500000","msg":"down"}`))
	}))

	// each call burns through its retries, racking up breaker failures
	for i := 0; i < 3; i++ {
		_, err := c.GetTicker(context.Background(), "XBTUSDTM")
		require.Error(t, err)
	}

	_, err := c.GetTicker(context.Background(), "XBTUSDTM")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestTerminalRejectionsDoNotTripBreaker(t *testing.T) {
	calls := 0
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"100001","msg":"bad parameter"}`))
	}))

	// a streak of 4xx rejections is a request bug, not venue trouble
	for i := 0; i < 6; i++ {
		_, err := c.GetTicker(context.Background(), "XBTUSDTM")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBreakerOpen)
	}
	assert.Equal(t, 6, calls, "every rejection must reach the venue")
}

func TestSignerConcurrentResync(t *testing.T) {
	s := newSigner("key", "secret", "phrase", "2")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.setServerTime(time.Now().UnixMilli() + int64(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			req, err := http.NewRequest(http.MethodGet, "https://example.com/api/v1/ticker", nil)
			if err != nil {
				t.Error(err)
				return
			}
			s.sign(req, http.MethodGet, "/api/v1/ticker", nil)
		}
	}()
	wg.Wait()

	assert.NotZero(t, s.timestampMS())
}

func TestRateLimiterFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(envelopeJSON("200000", map[string]any{"symbol": "XBTUSDTM"}))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(config.ExchangeConfig{
		BaseURL:          srv.URL,
		BucketCapacity:   1,
		BucketRefillRate: 0.001,
	})

	_, err := c.GetTicker(context.Background(), "XBTUSDTM")
	require.NoError(t, err)

	_, err = c.GetTicker(context.Background(), "XBTUSDTM")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestIsRetryableTaxonomy(t *testing.T) {
	assert.True(t, IsRetryable(&APIError{HTTPStatus: 429, Code: "429000"}))
	assert.True(t, IsRetryable(&APIError{HTTPStatus: 502, Code: "502000"}))
	assert.True(t, IsRetryable(&APIError{HTTPStatus: 400, Code: codeClockSkew}))
	assert.False(t, IsRetryable(&APIError{HTTPStatus: 400, Code: "100001"}))
	assert.False(t, IsRetryable(ErrRateLimited))
	assert.False(t, IsRetryable(ErrBreakerOpen))
	assert.False(t, IsRetryable(nil))
}

func TestSignedCallWithoutCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unauthenticated signed call must never reach the wire")
	}))
	t.Cleanup(srv.Close)
	c := NewClient(config.ExchangeConfig{
		BaseURL:          srv.URL,
		BucketCapacity:   10,
		BucketRefillRate: 10,
	})

	_, err := c.GetAccountOverview(context.Background(), "USDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.False(t, IsRetryable(err))
}

func TestRetryExhaustedWrapsLastFailure(t *testing.T) {
	calls := 0
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"code":"502000","msg":"upstream down"}`))
	}))

	_, err := c.GetTicker(context.Background(), "XBTUSDTM")
	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.ErrorIs(t, err, ErrRetryExhausted)
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr, "underlying venue rejection stays matchable")
}

func TestKlineRowsDecode(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(envelopeJSON("200000", [][]float64{
			{1700000000000, 100, 110, 95, 105, 1234},
			{1700000300000, 105, 108, 101, 102, 987},
		}))
	}))

	klines, err := c.GetKlines(context.Background(), "XBTUSDTM", 5, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, int64(1700000000000), klines[0].Time)
	assert.InDelta(t, 105.0, klines[0].Close, 0.001)
}
