// Package metrics provides Prometheus instrumentation for the tournament engine.
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
	// TradesTotal counts applied trades by trade type and position side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attn_trades_total",
		Help: "Total number of trades applied",
	}, []string{"trade_type", "side"})

	// TradeLatency tracks end-to-end trade execution, score lookup included.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attn_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"trade_type"})

	// TradeRejections counts rejected trades by error code.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attn_trade_rejections_total",
		Help: "Trades rejected, by error code",
	}, []string{"code"})

	// StakeVolume tracks cumulative committed currency moved by trades.
	StakeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attn_stake_volume_total",
		Help: "Cumulative stake moved by trades",
	}, []string{"trade_type"})

	// ScoreLookups counts score fetches by result.
	ScoreLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attn_score_lookups_total",
		Help: "Attention score lookups, by result",
	}, []string{"result"})

	// EntriesTotal counts tournament joins.
	EntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attn_tournament_entries_total",
		Help: "Tournament entries created",
	})

	// ActiveTournaments tracks tournaments currently open for trading.
	ActiveTournaments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attn_active_tournaments",
		Help: "Number of tournaments in the active state",
	})

	// SettlementsTotal counts settlement runs by result.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attn_settlements_total",
		Help: "Tournament settlement attempts, by result",
	}, []string{"result"})

	// SettlementDuration tracks how long a settlement takes, payouts included.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attn_settlement_duration_seconds",
		Help:    "Tournament settlement duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})

	// PayoutsTotal counts prize payouts by final status.
	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attn_payouts_total",
		Help: "Prize payouts, by status",
	}, []string{"status"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attn_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attn_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attn_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps the path label low-cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
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

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is needed for WebSocket upgrades behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
