// Package infra holds the adapters that connect the driverlink core to the
// outside world: the MQTT broker (device bridge, feed, telemetry), the REST
// backend, the WebSocket feed, Redis, metrics backends, Sentry and logging.
// Core packages never import infra; app wires the two together.
package infra
