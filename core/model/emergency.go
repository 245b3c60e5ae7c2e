package model

import "time"

// TriggerState enumerates the emergency trigger states.
type TriggerState int

const (
	TriggerIdle TriggerState = iota
	TriggerArming
	TriggerAwaitingConfirmation
	TriggerSubmitting
	TriggerSubmitted
)

func (s TriggerState) String() string {
	switch s {
	case TriggerIdle:
		return "idle"
	case TriggerArming:
		return "arming"
	case TriggerAwaitingConfirmation:
		return "awaiting_confirmation"
	case TriggerSubmitting:
		return "submitting"
	case TriggerSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// DeviceInfo describes the reporting device.
type DeviceInfo struct {
	DeviceID   string `json:"device_id,omitempty"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	Battery    *int   `json:"battery_pct,omitempty"`
}

// NetworkInfo describes connectivity at trigger time.
type NetworkInfo struct {
	Online         bool   `json:"online"`
	FeedConnected  bool   `json:"feed_connected"`
	ConnectionType string `json:"connection_type,omitempty"`
}

// EmergencyEvent is the SOS report submitted to the emergency service. It is built
// once per trigger cycle and never modified.
type EmergencyEvent struct {
	RequestID    string         `json:"request_id"`
	AgentID      string         `json:"agent_id"`
	IncidentType string         `json:"incident_type"`
	Severity     string         `json:"severity"`
	Location     PositionSample `json:"location"`
	// LocationStale is set when the one-shot fix failed and the last known
	// sample was used instead.
	LocationStale bool        `json:"location_stale,omitempty"`
	DeviceInfo    DeviceInfo  `json:"device_info"`
	NetworkInfo   NetworkInfo `json:"network_info"`
	RideID        string      `json:"ride_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

func (s TriggerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
