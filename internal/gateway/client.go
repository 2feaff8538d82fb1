package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/metrics"
)

const (
	defaultBaseURL = "https://api-futures.kucoin.com"
	codeSuccess    = "200000"
)

// Client is the signed REST client for the venue. Every call flows through
// the same chain: token bucket, circuit breaker, venue call, retry with
// jittered backoff on 429/5xx. Rejected 4xx responses never retry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *signer
	limiter    *limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	logger     zerolog.Logger
}

// NewClient builds a venue client from configuration
func NewClient(cfg config.ExchangeConfig) *Client {
	logger := config.NewLogger("gateway")
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		signer:     newSigner(cfg.APIKey, cfg.APISecret, cfg.APIPassphrase, cfg.KeyVersion),
		limiter:    newLimiter(cfg.BucketRefillRate, cfg.BucketCapacity),
		breaker:    newBreaker(cfg.BreakerFailures, time.Duration(cfg.BreakerResetMS)*time.Millisecond, logger),
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// do runs one venue call through the limiter, breaker and retry chain and
// decodes the envelope's data field into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, signed bool, out any) error {
	if err := c.limiter.take(); err != nil {
		return err
	}
	if signed && (c.signer.key == "" || c.signer.secret == "" || c.signer.passphrase == "") {
		return fmt.Errorf("%w for signed call to %s", ErrAuth, path)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	pathWithQuery := path
	if len(query) > 0 {
		pathWithQuery = path + "?" + query.Encode()
	}

	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request cancelled: %w", ctx.Err())
		default:
		}

		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.roundTrip(ctx, method, pathWithQuery, payload, signed, out)
		})
		err = mapBreakerErr(err)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsClockSkew(err) {
			c.resyncClock(ctx)
		} else if !IsRetryable(err) {
			return err
		}
		if attempt == c.maxRetries {
			break
		}

		// full jitter keeps concurrent retries from stampeding the venue
		sleep := time.Duration(rand.Int63n(int64(backoff)) + int64(backoff)/2)
		c.logger.Warn().
			Err(err).
			Str("path", path).
			Int("attempt", attempt+1).
			Dur("backoff", sleep).
			Msg("Venue request failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("request cancelled during backoff: %w", ctx.Err())
		case <-time.After(sleep):
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, c.maxRetries+1, lastErr)
}

// roundTrip performs a single HTTP exchange and envelope decode
func (c *Client) roundTrip(ctx context.Context, method, pathWithQuery string, payload []byte, signed bool, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathWithQuery, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if signed {
		c.signer.sign(req, method, pathWithQuery, payload)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APILatency.WithLabelValues(pathOnly(pathWithQuery)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequests.WithLabelValues(pathOnly(pathWithQuery), "transport_error").Inc()
		return fmt.Errorf("venue request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read venue response: %w", err)
	}
	metrics.APIRequests.WithLabelValues(pathOnly(pathWithQuery), strconv.Itoa(resp.StatusCode)).Inc()

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{HTTPStatus: resp.StatusCode, Code: strconv.Itoa(resp.StatusCode), Msg: string(raw), Endpoint: pathOnly(pathWithQuery)}
		}
		return fmt.Errorf("failed to decode venue response: %w", err)
	}
	if env.Code != codeSuccess {
		return &APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Msg: env.Msg, Endpoint: pathOnly(pathWithQuery)}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode venue payload: %w", err)
		}
	}
	return nil
}

func pathOnly(pathWithQuery string) string {
	for i := 0; i < len(pathWithQuery); i++ {
		if pathWithQuery[i] == '?' {
			return pathWithQuery[:i]
		}
	}
	return pathWithQuery
}

// resyncClock recalibrates the signing timestamp from the venue clock
func (c *Client) resyncClock(ctx context.Context) {
	var serverMS int64
	if err := c.roundTrip(ctx, http.MethodGet, "/api/v1/timestamp", nil, false, &serverMS); err != nil {
		c.logger.Warn().Err(err).Msg("Server time resync failed")
		return
	}
	c.signer.setServerTime(serverMS)
	c.logger.Info().Int64("server_ms", serverMS).Msg("Clock resynced against venue")
}

// ==================== MARKET DATA ====================

// GetContracts lists all active perpetual contracts
func (c *Client) GetContracts(ctx context.Context) ([]Contract, error) {
	var out []Contract
	if err := c.do(ctx, http.MethodGet, "/api/v1/contracts/active", nil, nil, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTicker returns the level-1 quote for one symbol
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	q := url.Values{"symbol": {symbol}}
	var out Ticker
	if err := c.do(ctx, http.MethodGet, "/api/v1/ticker", q, nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrderBook returns the top of the depth snapshot
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	path := "/api/v1/level2/depth20"
	if depth > 20 {
		path = "/api/v1/level2/depth100"
	}
	q := url.Values{"symbol": {symbol}}
	var out OrderBook
	if err := c.do(ctx, http.MethodGet, path, q, nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetKlines fetches candles; granularity is in minutes per the venue API
func (c *Client) GetKlines(ctx context.Context, symbol string, granularity int, from, to time.Time) ([]Kline, error) {
	q := url.Values{
		"symbol":      {symbol},
		"granularity": {strconv.Itoa(granularity)},
	}
	if !from.IsZero() {
		q.Set("from", strconv.FormatInt(from.UnixMilli(), 10))
	}
	if !to.IsZero() {
		q.Set("to", strconv.FormatInt(to.UnixMilli(), 10))
	}

	var rows [][]float64
	if err := c.do(ctx, http.MethodGet, "/api/v1/kline/query", q, nil, false, &rows); err != nil {
		return nil, err
	}
	klines := make([]Kline, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		klines = append(klines, Kline{
			Time:   int64(r[0]),
			Open:   r[1],
			High:   r[2],
			Low:    r[3],
			Close:  r[4],
			Volume: r[5],
		})
	}
	return klines, nil
}

// GetFundingRate returns the current funding rate for one symbol
func (c *Client) GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	var out FundingRate
	path := "/api/v1/funding-rate/" + symbol + "/current"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ==================== TRADING ====================

// PlaceOrder submits a new order. The client order id makes resubmission
// after a transport failure idempotent on the venue side.
func (c *Client) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	var out OrderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", nil, req, true, &out); err != nil {
		return nil, err
	}
	metrics.OrdersSubmitted.WithLabelValues("live", req.Type).Inc()
	return &out, nil
}

// CancelOrder cancels a working order by venue order id
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/orders/"+orderID, nil, nil, true, nil)
}

// GetOrder returns the status of one order
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	var out OrderStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+orderID, nil, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPosition returns the venue-side position for one symbol
func (c *Client) GetPosition(ctx context.Context, symbol string) (*PositionInfo, error) {
	q := url.Values{"symbol": {symbol}}
	var out PositionInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/position", q, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAccountOverview returns the margin account summary
func (c *Client) GetAccountOverview(ctx context.Context, currency string) (*AccountOverview, error) {
	if currency == "" {
		currency = "USDT"
	}
	q := url.Values{"currency": {currency}}
	var out AccountOverview
	if err := c.do(ctx, http.MethodGet, "/api/v1/account-overview", q, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetLeverage changes the position leverage ahead of an entry order
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]any{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	}
	return c.do(ctx, http.MethodPost, "/api/v2/changeCrossUserLeverage", nil, body, true, nil)
}

// wsConnectInfo fetches a stream token; private streams need a signed call
func (c *Client) wsConnectInfo(ctx context.Context, private bool) (*wsToken, error) {
	path := "/api/v1/bullet-public"
	if private {
		path = "/api/v1/bullet-private"
	}
	var out wsToken
	if err := c.do(ctx, http.MethodPost, path, nil, nil, private, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MidFromBook returns the midpoint of the best bid and ask
func MidFromBook(book *OrderBook) decimal.Decimal {
	if book == nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return decimal.Zero
	}
	return book.Bids[0][0].Add(book.Asks[0][0]).Div(decimal.NewFromInt(2))
}
