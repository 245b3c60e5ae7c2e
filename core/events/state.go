package events

import (
	"fmt"
	"time"

	"github.com/kilianp07/driverlink/core/model"
)

// SessionChanged is published when tracking starts, stops or changes cadence.
type SessionChanged struct {
	Session model.TrackingSession
}

// SampleRecorded is published for every accepted reading. Sent tells whether the
// reading passed the throttle.
type SampleRecorded struct {
	Sample model.PositionSample
	Sent   bool
}

// SamplerFailed surfaces a geolocation error once per occurrence.
type SamplerFailed struct {
	Err *model.SamplerError
}

// SendKind distinguishes telemetry requests.
type SendKind string

const (
	SendSingle    SendKind = "single"
	SendBatch     SendKind = "batch"
	SendHeartbeat SendKind = "heartbeat"
)

// SendCompleted reports one telemetry request.
type SendCompleted struct {
	Kind     SendKind
	Count    int
	Err      error
	Latency  time.Duration
	Buffered int
}

// SyncDegraded is raised when a batch flush failed; Degraded=false clears it.
type SyncDegraded struct {
	Degraded bool
	Pending  int
	// Evicted counts samples dropped from the full retry buffer, oldest first.
	Evicted int
	Err     error
}

// String is the status line shown to the driver.
func (e SyncDegraded) String() string {
	if !e.Degraded {
		return "telemetry sync restored"
	}
	msg := fmt.Sprintf("telemetry sync degraded: %d pending", e.Pending)
	if e.Evicted > 0 {
		msg += fmt.Sprintf(", %d oldest dropped", e.Evicted)
	}
	return msg
}

// OfferChanged reports a negotiator transition. Offer is nil once back to idle.
type OfferChanged struct {
	State   model.OfferState
	Outcome model.OfferState
	RideID  string
	Offer   *model.DispatchOffer
}

// TriggerChanged reports an emergency trigger transition.
type TriggerChanged struct {
	State              model.TriggerState
	CountdownRemaining time.Duration
	CooldownRemaining  time.Duration
	IncidentID         string
}

// EmergencySubmitted is published once per accepted SOS submission.
type EmergencySubmitted struct {
	IncidentID string
	RequestID  string
}

// EmergencyFailed surfaces a failed SOS submission. It is never dropped silently:
// the UI must show Err.Fallback.
type EmergencyFailed struct {
	Err *model.SubmissionError
}

// FeedStatus reports realtime feed connectivity.
type FeedStatus struct {
	Connected bool
	Channels  []string
}

// FeedDropped reports a feed payload that could not be decoded.
type FeedDropped struct {
	Kind   Kind
	Reason string
}
