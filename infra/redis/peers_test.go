package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/core/peerstate"
	"github.com/kilianp07/driverlink/internal/testutil"
)

func TestPeerStoreIntegration(t *testing.T) {
	testutil.RequireDocker(t)
	ctx := context.Background()
	addr, cleanup, err := testutil.StartRedis(ctx)
	require.NoError(t, err)
	defer cleanup()

	client, err := NewClient(ctx, Config{Addr: addr})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	s := NewPeerStore(client, "test")
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0.Add(time.Minute) }

	eiffel := model.PeerPosition{AgentID: "a1", RideID: "r1", UpdatedAt: t0.Add(time.Second),
		Position: model.PositionSample{Latitude: 48.8584, Longitude: 2.2945, CapturedAt: t0}}
	louvre := model.PeerPosition{AgentID: "a2", UpdatedAt: t0,
		Position: model.PositionSample{Latitude: 48.8606, Longitude: 2.3376, CapturedAt: t0}}
	older := eiffel
	older.UpdatedAt = t0
	older.Position.Latitude = 10

	require.NoError(t, s.Upsert(ctx, eiffel))
	require.NoError(t, s.Upsert(ctx, louvre))
	require.NoError(t, s.Upsert(ctx, older))

	all, err := s.List(ctx, peerstate.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a1", all[0].AgentID)
	assert.InDelta(t, 48.8584, all[0].Position.Latitude, 1e-9)

	near, err := s.Near(ctx, 48.8584, 2.2945, 1)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, "a1", near[0].AgentID)

	require.NoError(t, s.Remove(ctx, "a1"))
	all, err = s.List(ctx, peerstate.Filter{RideID: "r1"})
	require.NoError(t, err)
	assert.Empty(t, all)
}
