package peerstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/infra/logger"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func peer(id, ride string, at time.Time) model.PeerPosition {
	return model.PeerPosition{
		AgentID:   id,
		RideID:    ride,
		Position:  model.PositionSample{Latitude: 48.85, Longitude: 2.35, CapturedAt: at},
		UpdatedAt: at,
	}
}

func TestMemoryStoreKeepsNewest(t *testing.T) {
	s := NewMemoryStore()
	s.now = func() time.Time { return t0.Add(time.Minute) }
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, peer("b", "r1", t0.Add(10*time.Second))))
	require.NoError(t, s.Upsert(ctx, peer("b", "r1", t0)))
	require.NoError(t, s.Upsert(ctx, peer("a", "r2", t0)))

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].AgentID)
	assert.Equal(t, t0.Add(10*time.Second), all[1].UpdatedAt)

	byRide, _ := s.List(ctx, Filter{RideID: "r1"})
	assert.Len(t, byRide, 1)
	fresh, _ := s.List(ctx, Filter{MaxAge: 55 * time.Second})
	assert.Len(t, fresh, 1)

	require.NoError(t, s.Remove(ctx, "b"))
	all, _ = s.List(ctx, Filter{})
	assert.Len(t, all, 1)
}

func TestApplyStoresBroadcasts(t *testing.T) {
	s := NewMemoryStore()
	h := Apply(s, time.Second, logger.NopLogger{})
	h(events.PositionBroadcast{Peer: peer("c", "", t0)})
	h(events.GeofenceAlert{RideID: "r"})
	all, _ := s.List(context.Background(), Filter{})
	require.Len(t, all, 1)
	assert.Equal(t, "c", all[0].AgentID)
}
