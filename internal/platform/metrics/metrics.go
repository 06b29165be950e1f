package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the playback engine and
// its admin HTTP surface. A nil *Metrics is a no-op.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	sessionsOpened    prometheus.Counter
	sessionsClosed    prometheus.Counter
	activeSessions    prometheus.Gauge
	controlRejected   *prometheus.CounterVec
	framesSentTotal   prometheus.Counter
	bytesSentTotal    prometheus.Counter
	partialSendsTotal prometheus.Counter
	forcedStopsTotal  *prometheus.CounterVec
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nvr_http_requests_total",
		Help: "Total number of admin HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nvr_http_errors_total",
		Help: "Total number of admin HTTP responses with error status (4xx or 5xx)",
	})
	sessionsOpened := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nvr_playback_sessions_opened_total",
		Help: "Total number of playback sessions allocated",
	})
	sessionsClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nvr_playback_sessions_closed_total",
		Help: "Total number of playback sessions cleared and freed",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nvr_playback_active_sessions",
		Help: "Number of busy playback session slots",
	})
	controlRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_playback_control_rejected_total",
		Help: "Control calls rejected synchronously, by reason",
	}, []string{"reason"})
	framesSentTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nvr_playback_frames_sent_total",
		Help: "Total number of frames fully delivered to clients",
	})
	bytesSentTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nvr_playback_bytes_sent_total",
		Help: "Total number of header and payload bytes delivered to clients",
	})
	partialSendsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nvr_playback_partial_sends_total",
		Help: "Send attempts that left part of a frame pending",
	})
	forcedStopsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_playback_forced_stops_total",
		Help: "Streams stopped by the engine, by reason",
	}, []string{"reason"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		sessionsOpened,
		sessionsClosed,
		activeSessions,
		controlRejected,
		framesSentTotal,
		bytesSentTotal,
		partialSendsTotal,
		forcedStopsTotal,
	)

	return &Metrics{
		registry:          registry,
		requestsTotal:     requestsTotal,
		errorsTotal:       errorsTotal,
		sessionsOpened:    sessionsOpened,
		sessionsClosed:    sessionsClosed,
		activeSessions:    activeSessions,
		controlRejected:   controlRejected,
		framesSentTotal:   framesSentTotal,
		bytesSentTotal:    bytesSentTotal,
		partialSendsTotal: partialSendsTotal,
		forcedStopsTotal:  forcedStopsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// IncSessionsOpened increments the allocated sessions counter.
func (m *Metrics) IncSessionsOpened() {
	if m != nil {
		m.sessionsOpened.Inc()
	}
}

// IncSessionsClosed increments the freed sessions counter.
func (m *Metrics) IncSessionsClosed() {
	if m != nil {
		m.sessionsClosed.Inc()
	}
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}

// IncControlRejected counts a rejected control call.
func (m *Metrics) IncControlRejected(reason string) {
	if m != nil {
		m.controlRejected.WithLabelValues(reason).Inc()
	}
}

// AddFrameSent counts one delivered frame of n bytes.
func (m *Metrics) AddFrameSent(n int) {
	if m != nil {
		m.framesSentTotal.Inc()
		m.bytesSentTotal.Add(float64(n))
	}
}

// IncPartialSends counts a send attempt that left bytes pending.
func (m *Metrics) IncPartialSends() {
	if m != nil {
		m.partialSendsTotal.Inc()
	}
}

// IncForcedStops counts a stream stopped by the engine.
func (m *Metrics) IncForcedStops(reason string) {
	if m != nil {
		m.forcedStopsTotal.WithLabelValues(reason).Inc()
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
