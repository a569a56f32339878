package store

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/domody/syris/metric"
)

type storeMetrics struct {
	eventsIndexed  prometheus.Counter
	eventsRetained prometheus.Gauge
	droppedNotices prometheus.Counter
	droppedEvents  prometheus.Counter
}

func newStoreMetrics(registry *metric.MetricsRegistry) (*storeMetrics, error) {
	m := &storeMetrics{
		eventsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syris",
			Subsystem: "store",
			Name:      "events_indexed_total",
			Help:      "Events stored by id and indexed",
		}),
		eventsRetained: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syris",
			Subsystem: "store",
			Name:      "events_retained",
			Help:      "Events currently resolvable by id",
		}),
		droppedNotices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syris",
			Subsystem: "store",
			Name:      "dropped_notices_total",
			Help:      "Gap notices received from the server",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syris",
			Subsystem: "store",
			Name:      "dropped_events_total",
			Help:      "Events the server reported as dropped",
		}),
	}

	if err := registry.RegisterCounter("store", "events_indexed", m.eventsIndexed); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("store", "events_retained", m.eventsRetained); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("store", "dropped_notices", m.droppedNotices); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("store", "dropped_events", m.droppedEvents); err != nil {
		return nil, err
	}
	return m, nil
}
