// Package monitor exposes the gateway's Prometheus collectors.
package monitor

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "oms_gateway"

// Metrics groups every collector the gateway records. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	commands         *prometheus.CounterVec
	commandLatency   *prometheus.HistogramVec
	droppedEnvelopes prometheus.Counter
	sessions         prometheus.Gauge
	authenticated    prometheus.Gauge
	streamEvents     *prometheus.CounterVec
	streamReconnects *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "commands_total",
			Help:      "Commands handled, by action and result status.",
		}, []string{"action", "status"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "command_duration_seconds",
			Help:      "Command handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		droppedEnvelopes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dropped_envelopes_total",
			Help:      "Inbound messages dropped as malformed.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "sessions",
			Help:      "Tenant sessions held by the registry.",
		}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "authenticated_sessions",
			Help:      "Tenant sessions currently logged in.",
		}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Push events received, by venue and kind.",
		}, []string{"venue", "kind"}),
		streamReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Streaming reconnect attempts, by venue.",
		}, []string{"venue"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin API requests.",
		}, []string{"method", "path", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin API latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.commands, m.commandLatency, m.droppedEnvelopes,
			m.sessions, m.authenticated,
			m.streamEvents, m.streamReconnects,
			m.httpRequests, m.httpLatency,
		)
	}
	return m
}

// ObserveCommand records one handled command.
func (m *Metrics) ObserveCommand(action, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(action, status).Inc()
	m.commandLatency.WithLabelValues(action).Observe(d.Seconds())
}

// EnvelopeDropped counts a malformed inbound message.
func (m *Metrics) EnvelopeDropped() {
	if m == nil {
		return
	}
	m.droppedEnvelopes.Inc()
}

// SessionCreated counts a new registry entry.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// LoggedIn and LoggedOut track authenticated sessions.
func (m *Metrics) LoggedIn() {
	if m == nil {
		return
	}
	m.authenticated.Inc()
}

func (m *Metrics) LoggedOut() {
	if m == nil {
		return
	}
	m.authenticated.Dec()
}

// StreamEvent counts a push event of the given kind (order, duplicate, tick, system).
func (m *Metrics) StreamEvent(venue, kind string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(venue, kind).Inc()
}

// StreamReconnect counts a reconnect attempt.
func (m *Metrics) StreamReconnect(venue string) {
	if m == nil {
		return
	}
	m.streamReconnects.WithLabelValues(venue).Inc()
}

// ObserveHTTP records one admin API request.
func (m *Metrics) ObserveHTTP(method, path string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(method, path).Observe(d.Seconds())
}
