// Package metrics holds the MetricsSink implementations: Prometheus counters
// and gauges, an InfluxDB writer, and the collector that turns session bus
// events into recorder calls. Importing the package registers the "nop",
// "prometheus" and "influx" sink types.
package metrics
