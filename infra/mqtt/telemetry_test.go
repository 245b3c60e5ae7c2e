package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/driverlink/core/model"
)

var at = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestTelemetryPublisherSingle(t *testing.T) {
	cli, mc := newTestClient(t, Config{TopicPrefix: "dl"})
	p := NewTelemetryPublisher(cli)

	s := model.PositionSample{Latitude: 48.8584, Longitude: 2.2945, CapturedAt: at}
	require.NoError(t, p.SendSingle(context.Background(), "drv-1", s))

	pubs := mc.publishedCopy()
	require.Len(t, pubs, 1)
	assert.Equal(t, "dl/telemetry/drv-1/position", pubs[0].topic)
	var got model.PositionReport
	require.NoError(t, json.Unmarshal(pubs[0].payload, &got))
	assert.Equal(t, "drv-1", got.AgentID)
	assert.Equal(t, s.Geohash(0), got.Geohash)
	assert.True(t, got.CapturedAt.Equal(at))
}

func TestTelemetryPublisherBatchIsOneMessage(t *testing.T) {
	cli, mc := newTestClient(t, Config{})
	p := NewTelemetryPublisher(cli)

	batch := []model.PositionSample{{CapturedAt: at}, {CapturedAt: at.Add(time.Second)}, {CapturedAt: at.Add(2 * time.Second)}}
	require.NoError(t, p.SendBatch(context.Background(), "drv-1", batch))
	require.NoError(t, p.SendBatch(context.Background(), "drv-1", nil))

	pubs := mc.publishedCopy()
	require.Len(t, pubs, 1)
	assert.Equal(t, "driverlink/telemetry/drv-1/batch", pubs[0].topic)
	var got batchMessage
	require.NoError(t, json.Unmarshal(pubs[0].payload, &got))
	require.Len(t, got.Samples, 3)
	for i := range batch {
		assert.True(t, got.Samples[i].CapturedAt.Equal(batch[i].CapturedAt))
	}
}

func TestTelemetryPublisherAvailabilityRetained(t *testing.T) {
	cli, mc := newTestClient(t, Config{})
	p := NewTelemetryPublisher(cli)
	p.now = func() time.Time { return at }

	require.NoError(t, p.SetAvailability(context.Background(), "drv-1", true))
	require.NoError(t, p.Heartbeat(context.Background(), "drv-1", 1.5, 2.5))

	pubs := mc.publishedCopy()
	require.Len(t, pubs, 2)
	assert.True(t, pubs[0].retained)
	assert.JSONEq(t, `{"agent_id":"drv-1","available":true,"ts":"2026-03-01T10:00:00Z"}`, string(pubs[0].payload))
	assert.False(t, pubs[1].retained)
	assert.JSONEq(t, `{"agent_id":"drv-1","lat":1.5,"lng":2.5,"ts":"2026-03-01T10:00:00Z"}`, string(pubs[1].payload))
}

func TestTelemetryPublisherOfflineIsNetworkFailure(t *testing.T) {
	cli, mc := newTestClient(t, Config{})
	mc.setOffline(true)
	p := NewTelemetryPublisher(cli)
	err := p.SendSingle(context.Background(), "drv-1", model.PositionSample{CapturedAt: at})
	assert.ErrorIs(t, err, model.ErrNetworkFailure)
}
