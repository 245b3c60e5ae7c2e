package model

import (
	"fmt"
	"time"

	"github.com/mmcloughlin/geohash"
)

// DefaultGeohashPrecision is the number of geohash characters attached to outgoing
// position payloads (~150m cells).
const DefaultGeohashPrecision = 7

// PositionSample is a single reading produced by a geolocation source. Samples are
// plain values and are never mutated once created.
type PositionSample struct {
	Latitude       float64   `json:"lat"`
	Longitude      float64   `json:"lng"`
	HeadingDegrees float64   `json:"heading"`
	SpeedKmh       float64   `json:"speed_kmh"`
	AccuracyMeters float64   `json:"accuracy_m"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Validate checks that the coordinates are inside the WGS84 range and that the
// capture time is set.
func (p PositionSample) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrValidationFailure, p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrValidationFailure, p.Longitude)
	}
	if p.CapturedAt.IsZero() {
		return fmt.Errorf("%w: missing capture time", ErrValidationFailure)
	}
	if p.AccuracyMeters < 0 {
		return fmt.Errorf("%w: negative accuracy", ErrValidationFailure)
	}
	return nil
}

// Geohash returns the geohash cell containing the sample.
func (p PositionSample) Geohash(precision uint) string {
	if precision == 0 {
		precision = DefaultGeohashPrecision
	}
	return geohash.EncodeWithPrecision(p.Latitude, p.Longitude, precision)
}

// PositionReport is the outgoing wire form of a sample. The geohash lets the
// backend bucket positions without decoding coordinates.
type PositionReport struct {
	AgentID string `json:"agent_id,omitempty"`
	PositionSample
	Geohash string `json:"geohash"`
}

// NewPositionReport wraps a sample for transmission.
func NewPositionReport(agentID string, s PositionSample) PositionReport {
	return PositionReport{AgentID: agentID, PositionSample: s, Geohash: s.Geohash(0)}
}

// NewPositionReports wraps a batch, keeping its order.
func NewPositionReports(samples []PositionSample) []PositionReport {
	out := make([]PositionReport, len(samples))
	for i, s := range samples {
		out[i] = NewPositionReport("", s)
	}
	return out
}

// LocationRef identifies a place referenced by an offer.
type LocationRef struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Address   string  `json:"address,omitempty"`
}

// PeerPosition is the latest known position of another agent as broadcast on the
// realtime feed. ETASeconds is nil when the broadcast carried no estimate.
type PeerPosition struct {
	AgentID    string         `json:"agent_id"`
	RideID     string         `json:"ride_id,omitempty"`
	Position   PositionSample `json:"position"`
	ETASeconds *int           `json:"eta_seconds,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
