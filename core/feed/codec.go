package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/model"
)

// Envelope is the wire format shared by every feed message.
type Envelope struct {
	ID      string          `json:"id"`
	Type    events.Kind     `json:"type"`
	Channel string          `json:"channel,omitempty"`
	TS      time.Time       `json:"ts"`
	Data    json.RawMessage `json:"data"`
}

type cancelledPayload struct {
	RideID string `json:"ride_id"`
	Reason string `json:"reason,omitempty"`
}

type geofencePayload struct {
	RideID  string              `json:"ride_id"`
	AgentID string              `json:"agent_id,omitempty"`
	Type    events.GeofenceType `json:"type"`
}

type emergencyPayload struct {
	IncidentID string `json:"incident_id"`
	AgentID    string `json:"agent_id,omitempty"`
	RideID     string `json:"ride_id,omitempty"`
}

// Encode wraps data in an envelope.
func Encode(id string, kind events.Kind, channel string, ts time.Time, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{ID: id, Type: kind, Channel: channel, TS: ts, Data: raw})
}

// Decode parses a feed message. receivedAt stamps offers and replaces a missing
// envelope timestamp. Every failure wraps model.ErrValidationFailure.
func Decode(payload []byte, receivedAt time.Time) (events.FeedEvent, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", model.ErrValidationFailure, err)
	}
	if !env.Type.Known() {
		return nil, fmt.Errorf("%w: unknown event type %q", model.ErrValidationFailure, env.Type)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s without data", model.ErrValidationFailure, env.Type)
	}
	if env.TS.IsZero() {
		env.TS = receivedAt
	}
	meta := events.Meta{ID: env.ID, Channel: env.Channel, Time: env.TS}

	switch env.Type {
	case events.KindPositionBroadcast:
		var p model.PeerPosition
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		if p.AgentID == "" {
			return nil, fmt.Errorf("%w: position broadcast without agent id", model.ErrValidationFailure)
		}
		if err := p.Position.Validate(); err != nil {
			return nil, err
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = env.TS
		}
		return events.PositionBroadcast{M: meta, Peer: p}, nil

	case events.KindDispatchOffer:
		var o model.DispatchOffer
		if err := unmarshal(env, &o); err != nil {
			return nil, err
		}
		if err := o.Validate(); err != nil {
			return nil, err
		}
		o.ReceivedAt = receivedAt
		o.RespondedAt = nil
		return events.OfferReceived{M: meta, Offer: o}, nil

	case events.KindDispatchCancelled:
		var c cancelledPayload
		if err := unmarshal(env, &c); err != nil {
			return nil, err
		}
		if c.RideID == "" {
			return nil, fmt.Errorf("%w: cancellation without ride id", model.ErrValidationFailure)
		}
		return events.OfferCancelled{M: meta, RideID: c.RideID, Reason: c.Reason}, nil

	case events.KindGeofenceAlert:
		var g geofencePayload
		if err := unmarshal(env, &g); err != nil {
			return nil, err
		}
		if g.Type != events.ArrivedAtPickup && g.Type != events.ArrivedAtDestination {
			return nil, fmt.Errorf("%w: unknown geofence %q", model.ErrValidationFailure, g.Type)
		}
		return events.GeofenceAlert{M: meta, RideID: g.RideID, AgentID: g.AgentID, Type: g.Type}, nil

	default:
		var e emergencyPayload
		if err := unmarshal(env, &e); err != nil {
			return nil, err
		}
		if e.IncidentID == "" {
			return nil, fmt.Errorf("%w: emergency without incident id", model.ErrValidationFailure)
		}
		return events.EmergencyTriggered{M: meta, IncidentID: e.IncidentID, AgentID: e.AgentID, RideID: e.RideID}, nil
	}
}

func unmarshal(env Envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", model.ErrValidationFailure, env.Type, err)
	}
	return nil
}
