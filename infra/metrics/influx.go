package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/driverlink/core/metrics"
	"github.com/kilianp07/driverlink/infra/logger"
)

// InfluxSink writes session events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

func withAgent(p *write.Point, agentID string) *write.Point {
	if agentID != "" {
		p = p.AddTag("agent_id", agentID)
	}
	return p
}

// RecordSend writes one telemetry request.
func (s *InfluxSink) RecordSend(ev coremetrics.SendEvent) error {
	p := withAgent(write.NewPointWithMeasurement("telemetry_request"), ev.AgentID).
		AddTag("kind", ev.Kind).
		AddTag("result", ev.Result).
		AddField("count", ev.Count).
		AddField("latency_ms", ev.Latency.Milliseconds()).
		AddField("buffered", ev.Buffered).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordSyncState writes the retry buffer health.
func (s *InfluxSink) RecordSyncState(ev coremetrics.SyncStateEvent) error {
	p := withAgent(write.NewPointWithMeasurement("sync_state"), ev.AgentID).
		AddField("degraded", ev.Degraded).
		AddField("pending", ev.Pending).
		AddField("evicted", ev.Evicted).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordFeedStatus writes a connectivity change.
func (s *InfluxSink) RecordFeedStatus(ev coremetrics.FeedStatusEvent) error {
	p := withAgent(write.NewPointWithMeasurement("feed_status"), ev.AgentID).
		AddField("connected", ev.Connected).
		AddField("channels", ev.Channels).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordFeedDrop writes a malformed feed message.
func (s *InfluxSink) RecordFeedDrop(ev coremetrics.FeedDropEvent) error {
	p := withAgent(write.NewPointWithMeasurement("feed_dropped"), ev.AgentID)
	if ev.Kind != "" {
		p = p.AddTag("kind", ev.Kind)
	}
	p = p.AddField("reason", ev.Reason).SetTime(ev.Time)
	return s.write(p)
}

// RecordOffer writes an offer resolution.
func (s *InfluxSink) RecordOffer(ev coremetrics.OfferEvent) error {
	p := withAgent(write.NewPointWithMeasurement("offer_resolved"), ev.AgentID).
		AddTag("outcome", ev.Outcome).
		AddField("ride_id", ev.RideID).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordEmergency writes an SOS submission.
func (s *InfluxSink) RecordEmergency(ev coremetrics.EmergencyEvent) error {
	p := withAgent(write.NewPointWithMeasurement("emergency_submitted"), ev.AgentID).
		AddTag("result", ev.Result).
		AddField("incident_id", ev.IncidentID).
		SetTime(ev.Time)
	return s.write(p)
}
