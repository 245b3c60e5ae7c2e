package events

import (
	"time"

	"github.com/kilianp07/driverlink/core/model"
)

// Kind is the wire name of a feed event.
type Kind string

const (
	KindPositionBroadcast  Kind = "position-broadcast"
	KindDispatchOffer      Kind = "dispatch-offer"
	KindDispatchCancelled  Kind = "dispatch-cancelled"
	KindGeofenceAlert      Kind = "geofence-alert"
	KindEmergencyTriggered Kind = "emergency-triggered"
)

// Known reports whether k is one of the decoded kinds.
func (k Kind) Known() bool {
	switch k {
	case KindPositionBroadcast, KindDispatchOffer, KindDispatchCancelled, KindGeofenceAlert, KindEmergencyTriggered:
		return true
	}
	return false
}

// Meta carries the envelope fields common to every feed event.
type Meta struct {
	ID      string
	Channel string
	Time    time.Time
}

// FeedEvent is implemented by every decoded feed event.
type FeedEvent interface {
	Kind() Kind
	Meta() Meta
	// Key scopes ordering: two events of the same kind and key are applied in
	// timestamp order.
	Key() string
}

type PositionBroadcast struct {
	M    Meta
	Peer model.PeerPosition
}

func (e PositionBroadcast) Kind() Kind  { return KindPositionBroadcast }
func (e PositionBroadcast) Meta() Meta  { return e.M }
func (e PositionBroadcast) Key() string { return e.Peer.AgentID }

type OfferReceived struct {
	M     Meta
	Offer model.DispatchOffer
}

func (e OfferReceived) Kind() Kind  { return KindDispatchOffer }
func (e OfferReceived) Meta() Meta  { return e.M }
func (e OfferReceived) Key() string { return e.Offer.RideID }

// OfferCancelled withdraws an offer. Reason is "expired" or "timeout" when the
// upstream TTL elapsed, anything else for a withdrawal.
type OfferCancelled struct {
	M      Meta
	RideID string
	Reason string
}

func (e OfferCancelled) Kind() Kind  { return KindDispatchCancelled }
func (e OfferCancelled) Meta() Meta  { return e.M }
func (e OfferCancelled) Key() string { return e.RideID }

// Expired reports whether the cancellation stems from the offer timing out.
func (e OfferCancelled) Expired() bool { return ExpiredReason(e.Reason) }

// ExpiredReason reports whether a cancellation reason denotes a timeout.
func ExpiredReason(reason string) bool {
	return reason == "expired" || reason == "timeout"
}

// GeofenceType names the geofence crossed.
type GeofenceType string

const (
	ArrivedAtPickup      GeofenceType = "arrived-at-pickup"
	ArrivedAtDestination GeofenceType = "arrived-at-destination"
)

type GeofenceAlert struct {
	M       Meta
	RideID  string
	AgentID string
	Type    GeofenceType
}

func (e GeofenceAlert) Kind() Kind  { return KindGeofenceAlert }
func (e GeofenceAlert) Meta() Meta  { return e.M }
func (e GeofenceAlert) Key() string { return e.RideID + "/" + string(e.Type) }

type EmergencyTriggered struct {
	M          Meta
	IncidentID string
	AgentID    string
	RideID     string
}

func (e EmergencyTriggered) Kind() Kind  { return KindEmergencyTriggered }
func (e EmergencyTriggered) Meta() Meta  { return e.M }
func (e EmergencyTriggered) Key() string { return e.IncidentID }
