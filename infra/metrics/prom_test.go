package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/driverlink/core/metrics"
)

func TestPromSink_RecordSend(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordSend(coremetrics.SendEvent{Kind: "single", Result: "ok", Latency: 50 * time.Millisecond}))
	require.NoError(t, sink.RecordSend(coremetrics.SendEvent{Kind: "single", Result: "network", Buffered: 1}))
	require.NoError(t, sink.RecordSend(coremetrics.SendEvent{Kind: "batch", Result: "ok"}))

	expected := `
# HELP driverlink_telemetry_requests_total Telemetry requests by kind and result
# TYPE driverlink_telemetry_requests_total counter
driverlink_telemetry_requests_total{kind="batch",result="ok"} 1
driverlink_telemetry_requests_total{kind="single",result="network"} 1
driverlink_telemetry_requests_total{kind="single",result="ok"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(sink.sends, strings.NewReader(expected)))
	assert.Equal(t, 2, testutil.CollectAndCount(sink.sendLatency))
	assert.Equal(t, float64(0), testutil.ToFloat64(sink.pending))
}

func TestPromSink_Gauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordSyncState(coremetrics.SyncStateEvent{Degraded: true, Pending: 5, Evicted: 3}))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.degraded))
	assert.Equal(t, float64(5), testutil.ToFloat64(sink.pending))
	assert.Equal(t, float64(3), testutil.ToFloat64(sink.evicted))

	require.NoError(t, sink.RecordSyncState(coremetrics.SyncStateEvent{}))
	assert.Equal(t, float64(0), testutil.ToFloat64(sink.degraded))

	require.NoError(t, sink.RecordFeedStatus(coremetrics.FeedStatusEvent{Connected: true}))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.feedUp))
}

func TestPromSink_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordFeedDrop(coremetrics.FeedDropEvent{Reason: "bad json"}))
	require.NoError(t, sink.RecordOffer(coremetrics.OfferEvent{Outcome: "accepted"}))
	require.NoError(t, sink.RecordOffer(coremetrics.OfferEvent{Outcome: "accepted"}))
	require.NoError(t, sink.RecordEmergency(coremetrics.EmergencyEvent{Result: "timeout"}))

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.feedDrops.WithLabelValues("unknown")))
	assert.Equal(t, float64(2), testutil.ToFloat64(sink.offers.WithLabelValues("accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.sos.WithLabelValues("timeout")))
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	second, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, first.RecordOffer(coremetrics.OfferEvent{Outcome: "declined"}))
	require.NoError(t, second.RecordOffer(coremetrics.OfferEvent{Outcome: "declined"}))
	assert.Equal(t, float64(2), testutil.ToFloat64(second.offers.WithLabelValues("declined")))
}
