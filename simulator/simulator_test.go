package simulator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/feed"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/infra/logger"
)

type published struct {
	topic   string
	payload []byte
}

type fakeBroker struct {
	mu       sync.Mutex
	handlers map[string]paho.MessageHandler
	out      []published
	sent     chan published
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: map[string]paho.MessageHandler{}, sent: make(chan published, 16)}
}

func (b *fakeBroker) Subscribe(_ context.Context, topic, _ string, h paho.MessageHandler) error {
	b.mu.Lock()
	b.handlers[topic] = h
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, topic, _ string, _ bool, payload []byte) error {
	p := published{topic: topic, payload: payload}
	b.mu.Lock()
	b.out = append(b.out, p)
	b.mu.Unlock()
	select {
	case b.sent <- p:
	default:
	}
	return nil
}

func (b *fakeBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	h(nil, message{topic: topic, p: payload})
}

func (b *fakeBroker) next(t *testing.T, topic string) []byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-b.sent:
			if p.topic == topic {
				return p.payload
			}
		case <-deadline:
			t.Fatalf("nothing published on %s", topic)
			return nil
		}
	}
}

type message struct {
	topic string
	p     []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 0 }
func (m message) Payload() []byte   { return m.p }
func (m message) Ack()              {}

var straight = Route{
	{Latitude: 0, Longitude: 0},
	{Latitude: 0, Longitude: 0.01},
}

func TestRouteAt(t *testing.T) {
	leg := distance(straight[0], straight[1])
	require.InDelta(t, 1112, leg, 2)
	assert.InDelta(t, 2*leg, straight.Length(), 1e-6)

	start := straight.At(0, 36)
	assert.Equal(t, 0.0, start.Longitude)
	assert.InDelta(t, 90, start.HeadingDegrees, 1e-6)

	// 36 km/h is 10 m/s; after half the leg the device is midway.
	half := time.Duration(leg/2/10*float64(time.Second))
	mid := straight.At(half, 36)
	assert.InDelta(t, 0.005, mid.Longitude, 1e-5)
	assert.Equal(t, 36.0, mid.SpeedKmh)

	back := straight.At(time.Duration(leg*1.5/10*float64(time.Second)), 36)
	assert.InDelta(t, 0.005, back.Longitude, 1e-5)
	assert.InDelta(t, 270, back.HeadingDegrees, 1e-6)

	parked := straight.At(time.Hour, 0)
	assert.Equal(t, 0.0, parked.Longitude)
}

func TestLoadRoute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "route.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- {lat: 48.85, lng: 2.35, name: hotel de ville}\n- {lat: 48.86, lng: 2.33}\n"), 0o600))
	r, err := LoadRoute(path)
	require.NoError(t, err)
	require.Len(t, r, 2)
	assert.Equal(t, "hotel de ville", r[0].Address)

	short := filepath.Join(dir, "short.yaml")
	require.NoError(t, os.WriteFile(short, []byte("- {lat: 1, lng: 1}\n"), 0o600))
	_, err = LoadRoute(short)
	assert.Error(t, err)
}

func TestFaultDecide(t *testing.T) {
	var nilFault *Fault
	assert.Equal(t, Reply, nilFault.Decide())
	assert.Equal(t, Drop, NewFault(0, 1, 0, 1).Decide())
	assert.Equal(t, Deny, NewFault(0, 0, 1, 1).Decide())
	assert.Equal(t, Reply, NewFault(0, 0, 0, 1).Decide())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, NewFault(time.Hour, 0, 0, 1).Wait(ctx))
}

func newDevice(b Broker, fault *Fault) *Device {
	d := NewDevice(b, DeviceConfig{
		LocationTopic: "dl/device/location",
		LocateTopic:   "dl/device/locate",
		Route:         straight,
		SpeedKmh:      36,
		Interval:      time.Hour,
		Fault:         fault,
	}, logger.NopLogger{})
	fixed := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }
	return d
}

func TestDeviceStreamsAndAnswersLocate(t *testing.T) {
	b := newFakeBroker()
	d := newDevice(b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	var reading model.PositionSample
	require.NoError(t, json.Unmarshal(b.next(t, "dl/device/location"), &reading))
	assert.Equal(t, 15.0, reading.AccuracyMeters)
	assert.False(t, reading.CapturedAt.IsZero())

	b.deliver("dl/device/locate", []byte(`{"request_id":"q1","high_accuracy":true}`))
	var reply locateReply
	require.NoError(t, json.Unmarshal(b.next(t, "dl/device/locate/reply"), &reply))
	assert.Equal(t, "q1", reply.RequestID)
	require.NotNil(t, reply.Position)
	assert.Equal(t, 5.0, reply.Position.AccuracyMeters)

	cancel()
	require.NoError(t, <-done)
}

func TestDeviceDeniesLocate(t *testing.T) {
	b := newFakeBroker()
	d := newDevice(b, NewFault(0, 0, 1, 1))
	b.handlers["dl/device/locate"] = d.onLocate(context.Background())

	b.deliver("dl/device/locate", []byte(`{"request_id":"q2"}`))
	var reply locateReply
	require.NoError(t, json.Unmarshal(b.next(t, "dl/device/locate/reply"), &reply))
	assert.Equal(t, "permission_denied", reply.Error)
	assert.Nil(t, reply.Position)
	d.wg.Wait()
}

func TestDispatcherOfferAndArrival(t *testing.T) {
	b := newFakeBroker()
	d := NewDispatcher(b, DispatchConfig{TopicPrefix: "dl", AgentID: "drv-1", Route: straight}, logger.NopLogger{})

	rideID, err := d.Offer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sim-0001", rideID)

	ev, err := feed.Decode(b.next(t, "dl/feed/agent/drv-1"), time.Now())
	require.NoError(t, err)
	offer, ok := ev.(events.OfferReceived)
	require.True(t, ok)
	assert.Equal(t, "sim-0001", offer.Offer.RideID)
	assert.Equal(t, straight[1], offer.Offer.Destination)
	assert.Equal(t, "agent:drv-1", offer.Meta().Channel)

	require.NoError(t, d.Arrive(context.Background(), rideID))
	ev, err = feed.Decode(b.next(t, "dl/feed/ride/sim-0001"), time.Now())
	require.NoError(t, err)
	alert, ok := ev.(events.GeofenceAlert)
	require.True(t, ok)
	assert.Equal(t, events.ArrivedAtDestination, alert.Type)
	assert.Equal(t, "drv-1", alert.AgentID)
}
