// Package metrics exposes relay runtime counters to Prometheus.
//
// All methods are safe to call on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "speaklink"

// Metrics holds the relay collectors.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions   prometheus.Gauge
	onlineUsers      prometheus.Gauge
	events           *prometheus.CounterVec
	rejectedEvents   *prometheus.CounterVec
	routingMisses    *prometheus.CounterVec
	cooldown         *prometheus.CounterVec
	inferenceDropped prometheus.Counter
	callRecords      *prometheus.CounterVec
	slowConsumers    prometheus.Counter
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Open transport sessions.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users present in the registry.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events by name.",
		}, []string{"event"}),
		rejectedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Inbound events dropped by the relay.",
		}, []string{"event", "reason"}),
		routingMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_misses_total",
			Help:      "Events whose destination user was offline.",
		}, []string{"event"}),
		cooldown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cooldown_decisions_total",
			Help:      "Sign notification cooldown decisions.",
		}, []string{"decision"}),
		inferenceDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_dropped_total",
			Help:      "Accessibility tasks dropped because all inference slots were busy.",
		}),
		callRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_records_total",
			Help:      "Call log writes by outcome.",
		}, []string{"outcome"}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_consumers_total",
			Help:      "Sessions closed because their outbound queue was full.",
		}),
	}

	m.registry.MustRegister(
		m.activeSessions,
		m.onlineUsers,
		m.events,
		m.rejectedEvents,
		m.routingMisses,
		m.cooldown,
		m.inferenceDropped,
		m.callRecords,
		m.slowConsumers,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m != nil {
		m.onlineUsers.Set(float64(n))
	}
}

func (m *Metrics) EventReceived(event string) {
	if m != nil {
		m.events.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) EventRejected(event, reason string) {
	if m != nil {
		m.rejectedEvents.WithLabelValues(event, reason).Inc()
	}
}

func (m *Metrics) RoutingMiss(event string) {
	if m != nil {
		m.routingMisses.WithLabelValues(event).Inc()
	}
}

// CooldownDecision records one sign notification gate result.
func (m *Metrics) CooldownDecision(notified bool) {
	if m == nil {
		return
	}
	decision := "suppressed"
	if notified {
		decision = "notified"
	}
	m.cooldown.WithLabelValues(decision).Inc()
}

func (m *Metrics) InferenceDropped() {
	if m != nil {
		m.inferenceDropped.Inc()
	}
}

// CallRecordWritten records the outcome of a call log write ("ok", "error", "dropped").
func (m *Metrics) CallRecordWritten(outcome string) {
	if m != nil {
		m.callRecords.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SlowConsumer() {
	if m != nil {
		m.slowConsumers.Inc()
	}
}
