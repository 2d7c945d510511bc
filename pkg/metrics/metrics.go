// Package metrics defines the Prometheus collectors used across the service
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes recorded on SubmissionsTotal.
const (
	OutcomeEnqueued         = "enqueued"
	OutcomePersistenceError = "persistence_error"
	OutcomeQueueUnavailable = "queue_unavailable"
	OutcomeEncodingError    = "encoding_error"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SubmissionsTotal     *prometheus.CounterVec
	EnqueueDuration      prometheus.Histogram
	ArticlesDeleted      prometheus.Counter
	QueueDepth           prometheus.Gauge
	StalePending         prometheus.Gauge
	ResultsApplied       *prometheus.CounterVec
	EventsDropped        prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates all collectors and registers them with reg. A nil reg gets a
// private registry, which keeps tests independent of the global one.
func New(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route", "code"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "article_submissions_total",
				Help: "Article submissions by outcome.",
			},
			[]string{"outcome"},
		),
		EnqueueDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "article_enqueue_duration_seconds",
				Help:    "Latency of pushing a task message onto the channel.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 3},
			},
		),
		ArticlesDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "article_deletes_total",
				Help: "Articles deleted.",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "article_queue_depth",
				Help: "Task messages waiting on the channel at last observation.",
			},
		),
		StalePending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "article_stale_pending",
				Help: "Pending articles older than the staleness threshold at last sweep.",
			},
		),
		ResultsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "article_results_total",
				Help: "Worker results consumed, by status and whether a pending row was updated.",
			},
			[]string{"status", "applied"},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "article_events_dropped_total",
				Help: "Lifecycle events dropped because the event stream was unavailable.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SubmissionsTotal,
		m.EnqueueDuration,
		m.ArticlesDeleted,
		m.QueueDepth,
		m.StalePending,
		m.ResultsApplied,
		m.EventsDropped,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for m's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
