package model

import (
	"fmt"
	"time"
)

// OfferState enumerates the negotiator states.
type OfferState int

const (
	OfferIdle OfferState = iota
	OfferPending
	// OfferAccepting is held while an accept request is in flight.
	OfferAccepting
	OfferAccepted
	OfferDeclined
	OfferExpired
	OfferCancelled
	// OfferDiscarded closes an offer whose accept failed twice.
	OfferDiscarded
)

func (s OfferState) String() string {
	switch s {
	case OfferIdle:
		return "idle"
	case OfferPending:
		return "pending"
	case OfferAccepting:
		return "accepting"
	case OfferAccepted:
		return "accepted"
	case OfferDeclined:
		return "declined"
	case OfferExpired:
		return "expired"
	case OfferCancelled:
		return "cancelled"
	case OfferDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// DispatchOffer is a proposed assignment awaiting a response from the agent.
type DispatchOffer struct {
	RideID        string      `json:"ride_id"`
	Pickup        LocationRef `json:"pickup"`
	Destination   LocationRef `json:"destination"`
	EstimatedFare float64     `json:"estimated_fare,omitempty"`
	// ExpiresAt is informational; expiry is enforced upstream by the feed.
	ExpiresAt   time.Time  `json:"expires_at,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// Validate rejects offers the negotiator cannot act on.
func (o DispatchOffer) Validate() error {
	if o.RideID == "" {
		return fmt.Errorf("%w: offer without ride id", ErrValidationFailure)
	}
	return nil
}

func (s OfferState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
