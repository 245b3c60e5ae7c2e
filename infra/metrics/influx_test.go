package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/driverlink/core/factory"
	coremetrics "github.com/kilianp07/driverlink/core/metrics"
)

type lineServer struct {
	*httptest.Server
	mu    sync.Mutex
	lines []string
}

func newLineServer(t *testing.T) *lineServer {
	ls := &lineServer{}
	ls.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		ls.mu.Lock()
		ls.lines = append(ls.lines, strings.TrimSpace(string(data)))
		ls.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ls.Close)
	return ls
}

func (ls *lineServer) bodies() []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]string(nil), ls.lines...)
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordSend(t *testing.T) {
	srv := newLineServer(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()

	now := time.Now()
	require.NoError(t, sink.RecordSend(coremetrics.SendEvent{
		AgentID:  "drv-1",
		Kind:     "batch",
		Count:    5,
		Result:   coremetrics.ResultOK,
		Latency:  120 * time.Millisecond,
		Buffered: 0,
		Time:     now,
	}))

	p := write.NewPointWithMeasurement("telemetry_request").
		AddTag("agent_id", "drv-1").
		AddTag("kind", "batch").
		AddTag("result", "ok").
		AddField("count", 5).
		AddField("latency_ms", int64(120)).
		AddField("buffered", 0).
		SetTime(now)
	assert.Equal(t, []string{line(p)}, srv.bodies())
}

func TestInfluxSink_RecordOfferAndEmergency(t *testing.T) {
	srv := newLineServer(t)
	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	defer sink.Close()

	now := time.Now()
	require.NoError(t, sink.RecordOffer(coremetrics.OfferEvent{RideID: "r1", Outcome: "accepted", Time: now}))
	require.NoError(t, sink.RecordEmergency(coremetrics.EmergencyEvent{AgentID: "drv-1", IncidentID: "inc-9", Result: "ok", Time: now}))

	offer := write.NewPointWithMeasurement("offer_resolved").
		AddTag("outcome", "accepted").
		AddField("ride_id", "r1").
		SetTime(now)
	sos := write.NewPointWithMeasurement("emergency_submitted").
		AddTag("agent_id", "drv-1").
		AddTag("result", "ok").
		AddField("incident_id", "inc-9").
		SetTime(now)
	assert.Equal(t, []string{line(offer), line(sos)}, srv.bodies())
}

func TestInfluxSink_RecordSyncState(t *testing.T) {
	srv := newLineServer(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()

	now := time.Now()
	require.NoError(t, sink.RecordSyncState(coremetrics.SyncStateEvent{AgentID: "drv-1", Degraded: true, Pending: 5, Evicted: 2, Time: now}))
	p := write.NewPointWithMeasurement("sync_state").
		AddTag("agent_id", "drv-1").
		AddField("degraded", true).
		AddField("pending", 5).
		AddField("evicted", 2).
		SetTime(now)
	assert.Equal(t, []string{line(p)}, srv.bodies())
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	_, isInflux := sink.(*InfluxSink)
	assert.False(t, isInflux, "expected NopSink on failing health check")
	assert.True(t, called, "health endpoint not called")
}

func TestInfluxFactoryRequiresURLAndBucket(t *testing.T) {
	_, err := coremetrics.NewMetricsSink([]factory.ModuleConfig{{Type: "influx", Conf: map[string]any{"org": "o"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url and bucket")
}
