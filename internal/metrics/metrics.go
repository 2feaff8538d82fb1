package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantflow/quantflow/internal/config"
)

// Collectors for the trading pipeline. Registered once on the default
// registry; every component imports this package rather than declaring
// its own.
var (
	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantflow_signals_emitted_total",
		Help: "Authorized composite signals by side",
	}, []string{"instrument", "side"})

	SignalsBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantflow_signals_blocked_total",
		Help: "Signals stopped by an entry gate",
	}, []string{"reason"})

	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantflow_orders_submitted_total",
		Help: "Orders sent to the venue by type",
	}, []string{"mode", "type"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantflow_orders_rejected_total",
		Help: "Orders rejected before or by the venue",
	}, []string{"reason"})

	PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quantflow_positions_open",
		Help: "Currently open positions",
	})

	Equity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quantflow_equity_usd",
		Help: "Account equity in USD",
	})

	DailyDrawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quantflow_daily_drawdown_fraction",
		Help: "Drawdown from day-start equity",
	})

	RiskGateBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantflow_risk_gate_blocks_total",
		Help: "Order intents denied by a risk gate",
	}, []string{"gate"})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantflow_api_requests_total",
		Help: "Venue REST requests by endpoint and outcome",
	}, []string{"endpoint", "status"})

	APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quantflow_api_request_seconds",
		Help:    "Venue REST request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantflow_rate_limited_total",
		Help: "Requests refused by the local token bucket",
	})

	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quantflow_circuit_breaker_state",
		Help: "Venue circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	WSReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantflow_ws_reconnects_total",
		Help: "Websocket reconnection attempts",
	})

	KillSwitchActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quantflow_killswitch_active",
		Help: "Per-feature kill switch state (1 disabled)",
	}, []string{"feature"})

	EmergencyMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quantflow_emergency_mode",
		Help: "Drawdown circuit breaker engaged",
	})
)

// Server exposes the default registry over HTTP
type Server struct {
	srv    *http.Server
	health func() any
}

// NewServer builds the /metrics endpoint plus a health probe. health may be
// nil, in which case /healthz answers with a bare ok.
func NewServer(cfg config.MetricsConfig, health func() any) *Server {
	s := &Server{health: health}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if s.health == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.health())
	})
	s.srv = &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Start serves until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	logger := config.NewLogger("metrics")
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.srv.Addr).Msg("Metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}
