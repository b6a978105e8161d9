// Package metrics provides Prometheus instrumentation for the trade desk.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts recorded trades, partitioned by action.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradedesk_trades_total",
		Help: "Total number of paper trades recorded",
	}, []string{"action"})

	// TradeLatency tracks end-to-end trade recording latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradedesk_trade_latency_seconds",
		Help:    "Trade recording latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// ClampedSells counts SELLs whose quantity exceeded the open position.
	ClampedSells = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradedesk_clamped_sells_total",
		Help: "SELL trades clamped to the held quantity",
	})

	// PositionsClosed counts position closes by reason.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradedesk_positions_closed_total",
		Help: "Positions closed, by close reason",
	}, []string{"reason"})

	// OracleFailures counts price lookups that failed during a refresh.
	OracleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradedesk_oracle_failures_total",
		Help: "Failed price oracle lookups",
	})

	// LimitRejections counts BUYs rejected by the exposure limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradedesk_limit_rejections_total",
		Help: "Trades rejected by exposure limits",
	})

	// ChatMessages counts posted chat messages by type.
	ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradedesk_chat_messages_total",
		Help: "Chat messages posted",
	}, []string{"type"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradedesk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradedesk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradedesk_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern, not raw path, keeps user ids out of label values.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
