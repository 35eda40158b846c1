// Package metrics exposes Prometheus instrumentation for the payment engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec

	PaymentsInitiated    prometheus.Counter
	SettlementsCompleted prometheus.Counter
	SettlementsDuplicate prometheus.Counter
	SettlementsFailed    prometheus.Counter
	RewardCoinsIssued    prometheus.Counter
	LedgerWriteFailures  prometheus.Counter
}

// New creates and registers the engine collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coinpay_http_request_duration_seconds",
			Help:    "HTTP request duration by method, path and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		PaymentsInitiated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinpay_payments_initiated_total",
			Help: "Gateway orders opened.",
		}),
		SettlementsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinpay_settlements_completed_total",
			Help: "Settlements applied to wallets and ledger.",
		}),
		SettlementsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinpay_settlements_duplicate_total",
			Help: "Duplicate gateway callbacks suppressed by the idempotency gate.",
		}),
		SettlementsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinpay_settlements_failed_total",
			Help: "Settlement callbacks that failed before completion.",
		}),
		RewardCoinsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinpay_reward_coins_issued_total",
			Help: "Reward coins minted to customer wallets.",
		}),
		LedgerWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinpay_ledger_write_failures_total",
			Help: "Ledger appends that failed and were logged as telemetry loss.",
		}),
	}

	registry.MustRegister(
		m.RequestDuration,
		m.PaymentsInitiated,
		m.SettlementsCompleted,
		m.SettlementsDuplicate,
		m.SettlementsFailed,
		m.RewardCoinsIssued,
		m.LedgerWriteFailures,
	)

	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request durations.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		m.RequestDuration.WithLabelValues(
			r.Method,
			r.URL.Path,
			strconv.Itoa(ww.Status()),
		).Observe(time.Since(start).Seconds())
	})
}
