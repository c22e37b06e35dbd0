// Package metrics holds the Prometheus collectors for the handshake,
// integrity checks, the gateway and the relay.
//
// A nil *Metrics is valid and records nothing, so packages can be used in
// tests without a registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vaultline"

// Metrics groups every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	sessionsIssued      prometheus.Counter
	sessionsRevoked     prometheus.Counter
	integrityChecks     *prometheus.CounterVec
	privilegedIssued    prometheus.Counter
	dpopResults         *prometheus.CounterVec
	gatewayConnections  *prometheus.GaugeVec
	gatewayRejected     *prometheus.CounterVec
	gatewayDeliveries   *prometheus.CounterVec
	gatewayDropped      prometheus.Counter
	relayDrainedEntries prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "shiv", Name: "sessions_issued_total",
			Help: "Sessions established through the SHIV handshake.",
		}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "shiv", Name: "sessions_revoked_total",
			Help: "Sessions explicitly revoked.",
		}),
		integrityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "shiv", Name: "integrity_checks_total",
			Help: "Integrity tag verifications by outcome.",
		}, []string{"outcome"}),
		privilegedIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "shiv", Name: "privileged_tokens_total",
			Help: "Privileged tokens minted.",
		}),
		dpopResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dpop", Name: "verifications_total",
			Help: "DPoP verifications by result code.",
		}, []string{"code"}),
		gatewayConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "connections",
			Help: "Live gateway connections by state.",
		}, []string{"state"}),
		gatewayRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "rejected_total",
			Help: "Connections closed with an error code.",
		}, []string{"reason"}),
		gatewayDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "deliveries_total",
			Help: "Relay frames by delivery path.",
		}, []string{"path"}),
		gatewayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "dropped_frames_total",
			Help: "Frames queued for a connection that closed before writing them.",
		}),
		relayDrainedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "drained_entries_total",
			Help: "Entries delivered from the offline relay on reconnect.",
		}),
	}
	m.registry.MustRegister(
		m.sessionsIssued,
		m.sessionsRevoked,
		m.integrityChecks,
		m.privilegedIssued,
		m.dpopResults,
		m.gatewayConnections,
		m.gatewayRejected,
		m.gatewayDeliveries,
		m.gatewayDropped,
		m.relayDrainedEntries,
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

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionIssued() {
	if m != nil {
		m.sessionsIssued.Inc()
	}
}

func (m *Metrics) SessionRevoked() {
	if m != nil {
		m.sessionsRevoked.Inc()
	}
}

// IntegrityChecked records "valid", "invalid" or "unknown_session".
func (m *Metrics) IntegrityChecked(outcome string) {
	if m != nil {
		m.integrityChecks.WithLabelValues(outcome).Inc()
	}
}

// PrivilegedIssued counts a minted privileged token. Scopes come from
// clients, so they are not used as a label.
func (m *Metrics) PrivilegedIssued() {
	if m != nil {
		m.privilegedIssued.Inc()
	}
}

// DPoPVerified records "ok" or a DPoP error code.
func (m *Metrics) DPoPVerified(code string) {
	if m != nil {
		m.dpopResults.WithLabelValues(code).Inc()
	}
}

// SetConnections publishes directory sizes.
func (m *Metrics) SetConnections(pending, verified int) {
	if m != nil {
		m.gatewayConnections.WithLabelValues("pending").Set(float64(pending))
		m.gatewayConnections.WithLabelValues("verified").Set(float64(verified))
	}
}

func (m *Metrics) ConnectionRejected(reason string) {
	if m != nil {
		m.gatewayRejected.WithLabelValues(reason).Inc()
	}
}

// Delivered records "direct" or "relayed".
func (m *Metrics) Delivered(path string) {
	if m != nil {
		m.gatewayDeliveries.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) FramesDropped(n int) {
	if m != nil {
		m.gatewayDropped.Add(float64(n))
	}
}

func (m *Metrics) Drained(n int) {
	if m != nil {
		m.relayDrainedEntries.Add(float64(n))
	}
}
