package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3leaps/vigil/pkg/job"
)

const metricsNamespace = "vigil"

// Metrics holds the engine collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	alertsEmitted prometheus.Counter
}

// NewMetrics creates and registers the engine collectors together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted for execution.",
		}, []string{"kind", "strategy"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state.",
		}, []string{"kind", "status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_running",
			Help:      "Jobs currently executing a strategy.",
		}),
		alertsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_emitted_total",
			Help:      "Alerts raised by confident detections.",
		}),
	}

	m.registry.MustRegister(
		m.jobsSubmitted,
		m.jobsFinished,
		m.jobsRunning,
		m.alertsEmitted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) JobSubmitted(kind job.Kind, strategyID string) {
	m.jobsSubmitted.WithLabelValues(string(kind), strategyID).Inc()
}

func (m *Metrics) JobStarted(job.Kind) {
	m.jobsRunning.Inc()
}

// JobFinished counts a terminal job. Jobs cancelled while pending never
// started, so they do not touch the running gauge.
func (m *Metrics) JobFinished(kind job.Kind, status job.Status, started bool) {
	m.jobsFinished.WithLabelValues(string(kind), string(status)).Inc()
	if started {
		m.jobsRunning.Dec()
	}
}

func (m *Metrics) AlertEmitted() {
	m.alertsEmitted.Inc()
}
