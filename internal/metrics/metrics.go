// Package metrics defines the Prometheus collectors for a tier
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors recorded by the tier service.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	QueriesTotal        *prometheus.CounterVec
	DocsIngestedTotal   prometheus.Counter
	VectorsIndexed      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers the collectors on a private registry, so
// multiple tiers in one process do not collide.
func New(tierName string) *Metrics {
	labels := prometheus.Labels{"tier": tierName}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "policyrag_http_requests_total",
				Help:        "Total number of HTTP requests by method, path, and status.",
				ConstLabels: labels,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "policyrag_http_request_duration_seconds",
				Help:        "HTTP request latency in seconds.",
				Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
				ConstLabels: labels,
			},
			[]string{"method", "path"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "policyrag_queries_total",
				Help:        "Total number of answered queries by outcome.",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		DocsIngestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "policyrag_documents_ingested_total",
				Help:        "Total number of documents ingested.",
				ConstLabels: labels,
			},
		),
		VectorsIndexed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "policyrag_vectors_indexed",
				Help:        "Current number of vectors in the tier index.",
				ConstLabels: labels,
			},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.QueriesTotal,
		m.DocsIngestedTotal,
		m.VectorsIndexed,
	)
	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
