// Package journal keeps an append-only record of offer resolutions and
// emergency submissions so they can be audited after the fact.
package journal

import (
	"context"
	"time"
)

// Kind tells which component wrote a record.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindEmergency Kind = "emergency"
)

// Record captures one resolution.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Kind       Kind      `json:"kind"`
	AgentID    string    `json:"agent_id"`
	RideID     string    `json:"ride_id,omitempty"`
	Outcome    string    `json:"outcome"`
	IncidentID string    `json:"incident_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Query defines filters for retrieving records. Zero values match everything.
type Query struct {
	Start   time.Time
	End     time.Time
	Kind    Kind
	AgentID string
	RideID  string
	Limit   int
}

func (q Query) matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.AgentID != "" && r.AgentID != q.AgentID {
		return false
	}
	if q.RideID != "" && r.RideID != q.RideID {
		return false
	}
	return true
}

// limit keeps the newest q.Limit records.
func (q Query) limit(res []Record) []Record {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[len(res)-q.Limit:]
	}
	return res
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards every record.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
