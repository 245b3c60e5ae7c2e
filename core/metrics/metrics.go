package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/driverlink/core/model"
)

// SendEvent describes one telemetry request.
type SendEvent struct {
	AgentID  string
	Kind     string
	Count    int
	Result   string
	Latency  time.Duration
	Buffered int
	Time     time.Time
}

// MetricsSink records telemetry sends for observability purposes.
type MetricsSink interface {
	RecordSend(ev SendEvent) error
}

// SyncStateEvent is emitted whenever a batch flush fails or recovers.
type SyncStateEvent struct {
	AgentID  string
	Degraded bool
	Pending  int
	Evicted  int
	Time     time.Time
}

// SyncStateRecorder records retry buffer health.
type SyncStateRecorder interface {
	RecordSyncState(ev SyncStateEvent) error
}

// FeedStatusEvent captures realtime feed connectivity.
type FeedStatusEvent struct {
	AgentID   string
	Connected bool
	Channels  int
	Time      time.Time
}

// FeedStatusRecorder records feed connectivity changes.
type FeedStatusRecorder interface {
	RecordFeedStatus(ev FeedStatusEvent) error
}

// FeedDropEvent captures a feed message rejected by the decoder.
type FeedDropEvent struct {
	AgentID string
	Kind    string
	Reason  string
	Time    time.Time
}

// FeedDropRecorder records malformed feed messages.
type FeedDropRecorder interface {
	RecordFeedDrop(ev FeedDropEvent) error
}

// OfferEvent records how a dispatch offer was resolved.
type OfferEvent struct {
	AgentID string
	RideID  string
	Outcome string
	Time    time.Time
}

// OfferRecorder records offer resolutions.
type OfferRecorder interface {
	RecordOffer(ev OfferEvent) error
}

// EmergencyEvent records an SOS submission attempt.
type EmergencyEvent struct {
	AgentID    string
	IncidentID string
	Result     string
	Time       time.Time
}

// EmergencyRecorder records SOS submissions.
type EmergencyRecorder interface {
	RecordEmergency(ev EmergencyEvent) error
}

// Result labels.
const (
	ResultOK         = "ok"
	ResultTimeout    = "timeout"
	ResultNetwork    = "network"
	ResultValidation = "validation"
	ResultError      = "error"
)

// ResultOf maps a request error to a low cardinality label.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, model.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return ResultTimeout
	case errors.Is(err, model.ErrNetworkFailure):
		return ResultNetwork
	case errors.Is(err, model.ErrValidationFailure):
		return ResultValidation
	default:
		return ResultError
	}
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordSend(SendEvent) error { return nil }

func (NopSink) RecordSyncState(SyncStateEvent) error   { return nil }
func (NopSink) RecordFeedStatus(FeedStatusEvent) error { return nil }
func (NopSink) RecordFeedDrop(FeedDropEvent) error     { return nil }
func (NopSink) RecordOffer(OfferEvent) error           { return nil }
func (NopSink) RecordEmergency(EmergencyEvent) error   { return nil }
