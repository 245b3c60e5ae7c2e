// Package peerstate keeps the latest position broadcast by other agents for
// local display.
package peerstate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
)

// Filter narrows a listing. MaxAge drops positions not updated recently.
type Filter struct {
	RideID string
	MaxAge time.Duration
}

// Store holds one position per agent. Upsert keeps whichever of the stored and
// the new position has the latest UpdatedAt.
type Store interface {
	Upsert(ctx context.Context, p model.PeerPosition) error
	List(ctx context.Context, f Filter) ([]model.PeerPosition, error)
	Remove(ctx context.Context, agentID string) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.PeerPosition
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]model.PeerPosition{}, now: time.Now}
}

func (s *MemoryStore) Upsert(_ context.Context, p model.PeerPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.data[p.AgentID]; ok && p.UpdatedAt.Before(cur.UpdatedAt) {
		return nil
	}
	s.data[p.AgentID] = p
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, agentID string) error {
	s.mu.Lock()
	delete(s.data, agentID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]model.PeerPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.PeerPosition, 0, len(s.data))
	now := s.now()
	for _, p := range s.data {
		if !f.Match(p, now) {
			continue
		}
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].AgentID < res[j].AgentID })
	return res, nil
}

// Match reports whether p passes the filter at time now.
func (f Filter) Match(p model.PeerPosition, now time.Time) bool {
	if f.RideID != "" && p.RideID != f.RideID {
		return false
	}
	if f.MaxAge > 0 && now.Sub(p.UpdatedAt) > f.MaxAge {
		return false
	}
	return true
}

// Apply returns a feed handler storing position broadcasts in s.
func Apply(s Store, timeout time.Duration, log logger.Logger) func(events.FeedEvent) {
	return func(ev events.FeedEvent) {
		pb, ok := ev.(events.PositionBroadcast)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Upsert(ctx, pb.Peer); err != nil {
			log.Warnf("store peer position %s: %v", pb.Peer.AgentID, err)
		}
	}
}
