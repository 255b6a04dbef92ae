// Package metrics holds the Prometheus instruments of one pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gridflow"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics records session and request activity on a private registry, so
// several pipelines in one process never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	sessions        *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	requests        *prometheus.CounterVec
}

// New creates the instruments for the named pipeline.
func New(pipeline string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"pipeline": pipeline}

	return &Metrics{
		registry: reg,
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "sessions_total",
			Help:        "Node sessions executed, by node and outcome.",
			ConstLabels: labels,
		}, []string{"node", "outcome"}),
		sessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "session_duration_seconds",
			Help:        "Time from dispatching a node session to handling its completion event, including pool queueing.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"node"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "requests_in_flight",
			Help:        "Requests currently traversing the pipeline.",
			ConstLabels: labels,
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "requests_total",
			Help:        "Requests finished, by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
	}
}

// ObserveSession records one executed node session. took spans dispatch to
// completion handling, not only the compute step.
func (m *Metrics) ObserveSession(node string, took time.Duration, err error) {
	m.sessions.WithLabelValues(node, outcome(err)).Inc()
	m.sessionDuration.WithLabelValues(node).Observe(took.Seconds())
}

// RequestStarted marks a request as in flight and returns the function that
// finishes it.
func (m *Metrics) RequestStarted() func(err error) {
	m.inFlight.Inc()
	return func(err error) {
		m.inFlight.Dec()
		m.requests.WithLabelValues(outcome(err)).Inc()
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
