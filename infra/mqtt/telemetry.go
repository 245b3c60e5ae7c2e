package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/core/tracking"
)

var _ tracking.TelemetryService = (*TelemetryPublisher)(nil)

// TelemetryPublisher implements the telemetry service by publishing on
// "<prefix>/telemetry/<agent>/<kind>". A batch is a single message so the
// broker accepts it as a whole or not at all.
type TelemetryPublisher struct {
	client *Client
	prefix string
	now    func() time.Time
}

// NewTelemetryPublisher creates a publisher on top of an established client.
func NewTelemetryPublisher(c *Client) *TelemetryPublisher {
	return &TelemetryPublisher{client: c, prefix: c.Config().TopicPrefix, now: time.Now}
}

type batchMessage struct {
	AgentID string                 `json:"agent_id"`
	Samples []model.PositionReport `json:"samples"`
}

type availabilityMessage struct {
	AgentID   string    `json:"agent_id"`
	Available bool      `json:"available"`
	Timestamp time.Time `json:"ts"`
}

type heartbeatMessage struct {
	AgentID   string    `json:"agent_id"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Timestamp time.Time `json:"ts"`
}

func (p *TelemetryPublisher) topic(agentID, kind string) string {
	return fmt.Sprintf("%s/telemetry/%s/%s", p.prefix, agentID, kind)
}

func (p *TelemetryPublisher) publish(ctx context.Context, topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidationFailure, err)
	}
	return p.client.Publish(ctx, topic, "telemetry", retained, payload)
}

// SendSingle publishes one position.
func (p *TelemetryPublisher) SendSingle(ctx context.Context, agentID string, s model.PositionSample) error {
	return p.publish(ctx, p.topic(agentID, "position"), false, model.NewPositionReport(agentID, s))
}

// SendBatch publishes the buffered positions in one message.
func (p *TelemetryPublisher) SendBatch(ctx context.Context, agentID string, samples []model.PositionSample) error {
	if len(samples) == 0 {
		return nil
	}
	return p.publish(ctx, p.topic(agentID, "batch"), false, batchMessage{AgentID: agentID, Samples: model.NewPositionReports(samples)})
}

// SetAvailability publishes a retained availability flag so late subscribers
// see the current state.
func (p *TelemetryPublisher) SetAvailability(ctx context.Context, agentID string, available bool) error {
	return p.publish(ctx, p.topic(agentID, "availability"), true, availabilityMessage{
		AgentID:   agentID,
		Available: available,
		Timestamp: p.now().UTC(),
	})
}

// Heartbeat publishes a liveness ping with the last known coordinates.
func (p *TelemetryPublisher) Heartbeat(ctx context.Context, agentID string, lat, lng float64) error {
	return p.publish(ctx, p.topic(agentID, "heartbeat"), false, heartbeatMessage{
		AgentID:   agentID,
		Latitude:  lat,
		Longitude: lng,
		Timestamp: p.now().UTC(),
	})
}
