package model

import "time"

// TrackingSession describes the sampling pipeline state for one agent. An empty
// AssignmentID means the agent is idle.
type TrackingSession struct {
	AgentID      string    `json:"agent_id"`
	AssignmentID string    `json:"assignment_id,omitempty"`
	IsActive     bool      `json:"is_active"`
	LastSentAt   time.Time `json:"last_sent_at"`
	StartedAt    time.Time `json:"started_at"`
}

// HasAssignment reports whether the session runs with the active-ride cadence.
func (s TrackingSession) HasAssignment() bool {
	return s.AssignmentID != ""
}
