// Package events defines the events exchanged inside a driverlink session.
//
// Feed events are decoded from the realtime feed:
//   - PositionBroadcast: another agent's position and optional ETA
//   - OfferReceived: a dispatch offer for this agent
//   - OfferCancelled: an offer withdrawn or expired upstream
//   - GeofenceAlert: arrival at pickup or destination
//   - EmergencyTriggered: an emergency raised on the ride or agent channel
//
// State events are published on the UI bus whenever a component changes state:
// SessionChanged, SampleRecorded, SamplerFailed, SendCompleted, SyncDegraded,
// OfferChanged, TriggerChanged, EmergencyFailed and FeedStatus.
package events
