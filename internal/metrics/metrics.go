// Package metrics exposes credit service counters in Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/inglespareto/credits/pkg/credits"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "credits"

// Recorder implements credits.OperationLogger on top of a private registry.
type Recorder struct {
	registry        *prometheus.Registry
	operations      *prometheus.CounterVec
	amounts         *prometheus.CounterVec
	attempts        *prometheus.HistogramVec
	criticalEvents  prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// NewRecorder registers the credit collectors plus the Go and process collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Credit ledger operations by operation and status.",
		}, []string{"operation", "status"}),
		amounts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amount_cents_total",
			Help:      "Credit cents moved by successful operations.",
		}, []string{"operation"}),
		attempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "executor_attempts",
			Help:      "Executor attempts per settled activity.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"activity_type"}),
		criticalEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "critical_events_total",
			Help:      "Financial-integrity incidents such as failed restorations.",
		}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
}

// LogOperation counts one service operation.
func (recorder *Recorder) LogOperation(ctx context.Context, entry credits.OperationLog) {
	recorder.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Error == nil && entry.Amount > 0 {
		recorder.amounts.WithLabelValues(entry.Operation).Add(float64(entry.Amount.Int64()))
	}
	if entry.Attempts > 0 {
		recorder.attempts.WithLabelValues(string(entry.ActivityType)).Observe(float64(entry.Attempts))
	}
	if entry.Critical() {
		recorder.criticalEvents.Inc()
	}
}

// ObserveRequest records one HTTP request.
func (recorder *Recorder) ObserveRequest(method string, route string, code int, elapsed time.Duration) {
	recorder.requestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (recorder *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{Registry: recorder.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (recorder *Recorder) Registry() *prometheus.Registry {
	return recorder.registry
}
