package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Intake
	TransactionsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_submitted_total",
			Help: "Transactions accepted in PENDING state",
		},
		[]string{"type"}, // DEBIT|CREDIT
	)

	// Settlement
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Transactions moved to a terminal state",
		},
		[]string{"type", "status"},
	)
	SettlementAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_attempts_total",
			Help: "Settlement attempts by outcome",
		},
		[]string{"outcome"}, // settled|noop|retryable|error
	)
	SettlementRetriesExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_retries_exhausted_total",
			Help: "Transactions left PENDING after the retry budget ran out",
		},
	)
	SettlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_duration_seconds",
			Help:    "Duration of one settlement attempt, lock wait included",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP
	HTTPRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	HTTPInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served",
		},
	)

	// Worker queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)

	initOnce sync.Once
)

// Handler serves /metrics.
var Handler = promhttp.Handler

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			TransactionsSubmitted,
			SettlementsTotal,
			SettlementAttempts,
			SettlementRetriesExhausted,
			SettlementDuration,
			WorkerQueueDepth,
			HTTPRequestLatency,
			HTTPInFlight,
		)
	})
}
