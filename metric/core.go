package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the feed-level metrics shared by every component
type Metrics struct {
	// ConnectionStatus is 0=disconnected, 1=connecting, 2=connected, 3=reconnecting
	ConnectionStatus prometheus.Gauge
	MessagesIngested *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all feed metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syris",
			Subsystem: "feed",
			Name:      "connection_status",
			Help:      "Connection status (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		}),

		MessagesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syris",
			Subsystem: "feed",
			Name:      "messages_ingested_total",
			Help:      "Total server messages ingested by type",
		}, []string{"type"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syris",
			Subsystem: "feed",
			Name:      "errors_total",
			Help:      "Total errors by component and type",
		}, []string{"component", "type"}),
	}
}

// RecordIngest increments the ingested counter for a message type
func (m *Metrics) RecordIngest(msgType string) {
	m.MessagesIngested.WithLabelValues(msgType).Inc()
}

// RecordError increments the error counter for a component
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// SetConnectionStatus records the numeric connection status
func (m *Metrics) SetConnectionStatus(status float64) {
	m.ConnectionStatus.Set(status)
}
