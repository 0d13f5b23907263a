package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the protection and audit pipeline.
// All methods are nil-safe so components can run without metrics in tests.
type Metrics struct {
	// Cipher operations by kind ("encrypt", "decrypt") and result
	CipherOps *prometheus.CounterVec

	// Audit events flushed to the durable store vs diverted to fallback
	AuditFlushed  prometheus.Counter
	AuditFallback prometheus.Counter

	// Current unflushed queue depth
	AuditQueueDepth prometheus.Gauge

	// Alerts raised by rule type
	AlertsRaised *prometheus.CounterVec

	// Gateway operations by table, operation and status
	GatewayOps *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		CipherOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultrail_cipher_operations_total",
			Help: "Total field cipher operations by kind and result",
		}, []string{"kind", "result"}),

		AuditFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultrail_audit_events_flushed_total",
			Help: "Audit events durably written to the store",
		}),

		AuditFallback: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultrail_audit_events_fallback_total",
			Help: "Audit events diverted to the local fallback log",
		}),

		AuditQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vaultrail_audit_queue_depth",
			Help: "Unflushed audit events currently queued",
		}),

		AlertsRaised: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultrail_alerts_raised_total",
			Help: "Security alerts raised by rule type",
		}, []string{"type"}),

		GatewayOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultrail_gateway_operations_total",
			Help: "Encrypted record gateway operations by table, op and status",
		}, []string{"table", "op", "status"}),
	}
}

// IncCipherOp records one cipher operation.
func (m *Metrics) IncCipherOp(kind, result string) {
	if m != nil {
		m.CipherOps.WithLabelValues(kind, result).Inc()
	}
}

// ObserveFlush records n events flushed to the store.
func (m *Metrics) ObserveFlush(n int) {
	if m != nil {
		m.AuditFlushed.Add(float64(n))
	}
}

// ObserveFallback records n events written to the fallback log.
func (m *Metrics) ObserveFallback(n int) {
	if m != nil {
		m.AuditFallback.Add(float64(n))
	}
}

// SetQueueDepth tracks the current unflushed queue size.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.AuditQueueDepth.Set(float64(n))
	}
}

// IncAlert records one raised alert.
func (m *Metrics) IncAlert(alertType string) {
	if m != nil {
		m.AlertsRaised.WithLabelValues(alertType).Inc()
	}
}

// IncGatewayOp records one gateway operation outcome.
func (m *Metrics) IncGatewayOp(table, op, status string) {
	if m != nil {
		m.GatewayOps.WithLabelValues(table, op, status).Inc()
	}
}
