package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/domody/syris/metric"
)

type transportMetrics struct {
	framesReceived    prometheus.Counter
	framesSent        prometheus.Counter
	sendErrors        prometheus.Counter
	connectionsTotal  prometheus.Counter
	dialFailures      prometheus.Counter
	reconnectAttempts prometheus.Counter
	backoffSeconds    prometheus.Gauge
	core              *metric.Metrics
}

func newTransportMetrics(registry *metric.MetricsRegistry) (*transportMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syris",
			Subsystem: "transport",
			Name:      name,
			Help:      help,
		})
	}

	m := &transportMetrics{
		framesReceived:    counter("frames_received_total", "Frames read from the feed connection"),
		framesSent:        counter("frames_sent_total", "Frames written to the feed connection"),
		sendErrors:        counter("send_errors_total", "Failed frame writes"),
		connectionsTotal:  counter("connections_total", "Successful connections"),
		dialFailures:      counter("dial_failures_total", "Failed connection attempts"),
		reconnectAttempts: counter("reconnect_attempts_total", "Reconnect timers fired"),
		backoffSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syris",
			Subsystem: "transport",
			Name:      "backoff_seconds",
			Help:      "Delay of the pending reconnect timer",
		}),
		core: registry.CoreMetrics(),
	}

	counters := map[string]prometheus.Counter{
		"frames_received":    m.framesReceived,
		"frames_sent":        m.framesSent,
		"send_errors":        m.sendErrors,
		"connections":        m.connectionsTotal,
		"dial_failures":      m.dialFailures,
		"reconnect_attempts": m.reconnectAttempts,
	}
	for name, c := range counters {
		if err := registry.RegisterCounter("transport", name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge("transport", "backoff", m.backoffSeconds); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *transportMetrics) frameReceived() {
	if m != nil {
		m.framesReceived.Inc()
	}
}

func (m *transportMetrics) frameSent() {
	if m != nil {
		m.framesSent.Inc()
	}
}

func (m *transportMetrics) sendFailed() {
	if m != nil {
		m.sendErrors.Inc()
		m.core.RecordError("transport", "send")
	}
}

func (m *transportMetrics) connected() {
	if m != nil {
		m.connectionsTotal.Inc()
		m.backoffSeconds.Set(0)
	}
}

func (m *transportMetrics) dialFailed() {
	if m != nil {
		m.dialFailures.Inc()
		m.core.RecordError("transport", "dial")
	}
}

func (m *transportMetrics) reconnecting() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *transportMetrics) backoff(seconds float64) {
	if m != nil {
		m.backoffSeconds.Set(seconds)
	}
}

func (m *transportMetrics) status(s Status) {
	if m != nil {
		m.core.SetConnectionStatus(s.Value())
	}
}
