// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline and the HTTP read surface, on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dieselwatch"

type Metrics struct {
	registry *prometheus.Registry

	fetchesTotal   *prometheus.CounterVec
	recordsApplied prometheus.Counter
	rowsSkipped    prometheus.Counter
	fetchDuration  prometheus.Histogram
	httpRequests   *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		fetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Ingestion attempts by source and terminal status.",
		}, []string{"source", "status"}),
		recordsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_applied_total",
			Help:      "Observation rows applied to storage (inserted or updated).",
		}),
		rowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Observation rows the store skipped with a reason.",
		}),
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of one selector's fetch-and-store pipeline.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by endpoint and response code.",
		}, []string{"endpoint", "code"}),
	}
}

// ObserveFetch records one completed selector pipeline. Nil-safe so callers
// can run unmetered.
func (m *Metrics) ObserveFetch(source, status string, duration time.Duration, applied, skipped int) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(source, status).Inc()
	m.recordsApplied.Add(float64(applied))
	m.rowsSkipped.Add(float64(skipped))
	m.fetchDuration.Observe(duration.Seconds())
}

func (m *Metrics) ObserveRequest(endpoint string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
