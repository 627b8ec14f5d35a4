package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tcpchat/internal/protocol"
)

const metricsNamespace = "tcpchat"

// Metrics holds the server's Prometheus collectors. Collectors are safe to
// scrape from another goroutine; only the engine updates them.
type Metrics struct {
	connectionsAccepted   prometheus.Counter
	connectionsRejected   prometheus.Counter
	sessionsActive        prometheus.Gauge
	sessionsAuthenticated prometheus.Gauge
	messagesReceived      *prometheus.CounterVec
	messagesSent          *prometheus.CounterVec
	framesRejected        prometheus.Counter
	joinFailures          *prometheus.CounterVec
	pollerErrors          *prometheus.CounterVec
	sessionDuration       prometheus.Histogram
}

// NewMetrics registers the server collectors with reg. A nil reg gets a
// private registry so several servers can coexist in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted client connections",
		}),
		connectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_rejected_total",
			Help:      "Connections closed on accept because the server was full or setup failed",
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of connected sessions",
		}),
		sessionsAuthenticated: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_authenticated",
			Help:      "Number of sessions that completed JOIN",
		}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Frames decoded from clients by type",
		}, []string{"type"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Frames delivered to clients by type",
		}, []string{"type"}),
		framesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_rejected_total",
			Help:      "Frames whose announced payload exceeded the limit",
		}),
		joinFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "join_failures_total",
			Help:      "Rejected JOIN requests by reason",
		}, []string{"reason"}),
		pollerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "poller_errors_total",
			Help:      "Failed poller operations",
		}, []string{"op"}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of closed sessions",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (m *Metrics) received(t protocol.MessageType) {
	m.messagesReceived.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) sent(t protocol.MessageType, n int) {
	if n > 0 {
		m.messagesSent.WithLabelValues(t.String()).Add(float64(n))
	}
}

func (m *Metrics) sessions(r *Registry) {
	m.sessionsActive.Set(float64(r.Len()))
	m.sessionsAuthenticated.Set(float64(r.Authenticated()))
}
