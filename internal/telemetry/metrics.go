package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "gamewallet"

// Metrics counts wallet operations and HTTP requests.
type Metrics struct {
	operations       *prometheus.CounterVec
	conflictAttempts *prometheus.CounterVec
	amounts          *prometheus.CounterVec
	requests         *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
}

// NewMetrics registers collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Wallet operations by operation, status and error class.",
		}, []string{"operation", "status", "class"}),
		conflictAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "conflict_retries_total",
			Help:      "Extra attempts spent on optimistic concurrency conflicts.",
		}, []string{"operation"}),
		amounts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "settled_amount_cents_total",
			Help:      "Cents moved by successful operations.",
		}, []string{"operation", "currency"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (metrics *Metrics) LogOperation(_ context.Context, entry ledger.OperationLog) {
	class := string(ledger.Classify(entry.Error))
	if class == "" {
		class = "none"
	}
	metrics.operations.WithLabelValues(entry.Operation, entry.Status, class).Inc()
	if entry.Attempts > 1 {
		metrics.conflictAttempts.WithLabelValues(entry.Operation).Add(float64(entry.Attempts - 1))
	}
	if entry.Error == nil && !entry.Amount.IsZero() {
		moved := entry.Amount.Int64()
		if moved < 0 {
			moved = -moved
		}
		metrics.amounts.WithLabelValues(entry.Operation, entry.Currency.String()).Add(float64(moved))
	}
}

// ObserveRequest records one served HTTP request.
func (metrics *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	metrics.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	metrics.requestLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}
