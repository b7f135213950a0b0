package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "camera"

// Metrics holds Prometheus counters and gauges for the camera gateway.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     *prometheus.CounterVec
	errorsTotal       prometheus.Counter
	activeSessions    prometheus.Gauge
	sessionsCreated   prometheus.Counter
	sessionsDestroyed *prometheus.CounterVec
	connectFailures   *prometheus.CounterVec
	reaperSweeps      prometheus.Counter
	reapedSessions    prometheus.Counter
}

// New creates and registers Prometheus metrics for the gateway.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method"})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_errors_total",
		Help:      "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of camera sessions currently streaming",
	})
	sessionsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Total number of camera sessions created",
	})
	sessionsDestroyed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_destroyed_total",
		Help:      "Total number of camera sessions destroyed, by reason",
	}, []string{"reason"})
	connectFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_failures_total",
		Help:      "Total number of rejected connect attempts, by error kind",
	}, []string{"kind"})
	reaperSweeps := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaper_sweeps_total",
		Help:      "Total number of session reaper sweeps",
	})
	reapedSessions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaper_reclaimed_sessions_total",
		Help:      "Total number of expired or crashed sessions reclaimed by the reaper",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		activeSessions,
		sessionsCreated,
		sessionsDestroyed,
		connectFailures,
		reaperSweeps,
		reapedSessions,
	)

	return &Metrics{
		registry:          registry,
		requestsTotal:     requestsTotal,
		errorsTotal:       errorsTotal,
		activeSessions:    activeSessions,
		sessionsCreated:   sessionsCreated,
		sessionsDestroyed: sessionsDestroyed,
		connectFailures:   connectFailures,
		reaperSweeps:      reaperSweeps,
		reapedSessions:    reapedSessions,
	}
}

// IncRequests increments the request counter for method.
func (m *Metrics) IncRequests(method string) {
	m.requestsTotal.WithLabelValues(method).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// SessionCreated implements camera.Recorder.
func (m *Metrics) SessionCreated() {
	m.sessionsCreated.Inc()
}

// SessionDestroyed implements camera.Recorder.
func (m *Metrics) SessionDestroyed(reason string) {
	m.sessionsDestroyed.WithLabelValues(reason).Inc()
}

// ConnectFailed implements camera.Recorder.
func (m *Metrics) ConnectFailed(kind string) {
	m.connectFailures.WithLabelValues(kind).Inc()
}

// SweepCompleted implements camera.Recorder.
func (m *Metrics) SweepCompleted(expired, crashed int) {
	m.reaperSweeps.Inc()
	m.reapedSessions.Add(float64(expired + crashed))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
