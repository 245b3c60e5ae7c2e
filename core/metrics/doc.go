// Package metrics defines the recorder interfaces used to observe the
// telemetry pipeline, the realtime feed, offer negotiation and the emergency
// trigger. A MetricsSink must at least record sends; the other recorders are
// optional and detected by type assertion. Sinks are built from configuration
// through a registry and combined with NewMultiSink when several are set.
package metrics
