// Package metric provides the Prometheus metrics registry shared by the feed
// components.
//
// The registry owns a private prometheus.Registry preloaded with the core feed
// metrics (connection status, ingested messages, errors) and the Go runtime
// collectors. Components register their own collectors under a
// "component.metric" key so duplicate registration is reported as an invalid
// error instead of a panic.
//
//	registry := metric.NewMetricsRegistry()
//	registry.RegisterCounter("transport", "frames_received", counter)
//	mux.Handle("/metrics", registry.Handler())
//
// Every component accepts a nil registry and then skips metrics entirely.
package metric
