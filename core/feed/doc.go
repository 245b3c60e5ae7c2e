// Package feed consumes the realtime event feed for one agent session.
//
// A Transport (MQTT or WebSocket) delivers raw frames and connectivity changes
// to the Consumer. The Consumer decodes each frame, drops duplicates by event id
// and events older than the last one seen for the same kind and key, then calls
// the registered handlers synchronously in arrival order and republishes the
// event on a typed bus. Transports resubscribe to the current channels after a
// reconnect; no replay is expected.
package feed
