// Package redis stores peer positions in Redis so several processes can share
// the display state.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/core/peerstate"
)

const (
	defaultPrefix = "driverlink"
	geoSuffix     = ":peers:geo"
	dataSuffix    = ":peers"
)

// Config holds the connection settings.
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// NewClient creates a client and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Nearby is one result of a radius search.
type Nearby struct {
	AgentID    string
	DistanceKm float64
}

// PeerStore keeps peer positions in a geo index plus a hash of JSON documents.
type PeerStore struct {
	client *redis.Client
	geoKey string
	key    string
	now    func() time.Time
}

var _ peerstate.Store = (*PeerStore)(nil)

// NewPeerStore creates a PeerStore using keys under prefix.
func NewPeerStore(client *redis.Client, prefix string) *PeerStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &PeerStore{client: client, geoKey: prefix + geoSuffix, key: prefix + dataSuffix, now: time.Now}
}

// upsertScript writes the document only when it is not older than the stored
// one, then indexes the position.
var upsertScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local ok, doc = pcall(cjson.decode, cur)
  if ok and doc['updated_at_unix_ms'] and tonumber(doc['updated_at_unix_ms']) > tonumber(ARGV[3]) then
    return 0
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('GEOADD', KEYS[2], ARGV[4], ARGV[5], ARGV[1])
return 1
`)

type document struct {
	model.PeerPosition
	UpdatedAtUnixMs int64 `json:"updated_at_unix_ms"`
}

// Upsert stores p unless a newer position is already known.
func (s *PeerStore) Upsert(ctx context.Context, p model.PeerPosition) error {
	b, err := json.Marshal(document{PeerPosition: p, UpdatedAtUnixMs: p.UpdatedAt.UnixMilli()})
	if err != nil {
		return err
	}
	return upsertScript.Run(ctx, s.client, []string{s.key, s.geoKey},
		p.AgentID, string(b), p.UpdatedAt.UnixMilli(), p.Position.Longitude, p.Position.Latitude).Err()
}

// List returns the stored positions matching f, sorted by agent id.
func (s *PeerStore) List(ctx context.Context, f peerstate.Filter) ([]model.PeerPosition, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	now := s.now()
	res := make([]model.PeerPosition, 0, len(raw))
	for _, v := range raw {
		var d document
		if err := json.Unmarshal([]byte(v), &d); err != nil {
			continue
		}
		if f.Match(d.PeerPosition, now) {
			res = append(res, d.PeerPosition)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].AgentID < res[j].AgentID })
	return res, nil
}

// Remove deletes the agent from both keys.
func (s *PeerStore) Remove(ctx context.Context, agentID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.key, agentID)
		pipe.ZRem(ctx, s.geoKey, agentID)
		return nil
	})
	return err
}

// Near returns the agents within radiusKm of the point, closest first.
func (s *PeerStore) Near(ctx context.Context, lat, lng, radiusKm float64) ([]Nearby, error) {
	results, err := s.client.GeoSearchLocation(ctx, s.geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, 0, len(results))
	for _, r := range results {
		out = append(out, Nearby{AgentID: r.Name, DistanceKm: r.Dist})
	}
	return out, nil
}
