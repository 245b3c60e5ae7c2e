package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/infra/logger"
)

type recordSink struct {
	mu       sync.Mutex
	readings []model.PositionSample
	errs     []error
}

func (r *recordSink) OnReading(p model.PositionSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, p)
}

func (r *recordSink) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// answer makes the fake device reply to locate requests.
func answer(mc *mockClient, reply func(req locateRequest) locateReply) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.onPublish = func(topic string, payload []byte) {
		if topic != "driverlink/device/locate" {
			return
		}
		var req locateRequest
		if json.Unmarshal(payload, &req) != nil {
			return
		}
		b, _ := json.Marshal(reply(req))
		go mc.deliver("driverlink/device/locate/reply", b)
	}
}

func TestWatchSourceStream(t *testing.T) {
	cli, mc := newTestClient(t, Config{})
	loc, err := NewLocator(context.Background(), cli, logger.NopLogger{})
	require.NoError(t, err)
	w := NewWatchSource(cli, loc, logger.NopLogger{})
	sink := &recordSink{}

	require.NoError(t, w.Start(context.Background(), sink))
	assert.ErrorIs(t, w.Start(context.Background(), sink), model.ErrAlreadyStarted)

	mc.deliver("driverlink/device/location", []byte(`{"lat":1,"lng":2,"captured_at":"2026-03-01T10:00:00Z"}`))
	mc.deliver("driverlink/device/location", []byte(`{"error":"permission_denied"}`))
	mc.deliver("driverlink/device/location", []byte(`{"error":"gps_off"}`))
	mc.deliver("driverlink/device/location", []byte(`garbage`))

	require.Len(t, sink.readings, 1)
	assert.Equal(t, 2.0, sink.readings[0].Longitude)
	require.Len(t, sink.errs, 2)
	assert.ErrorIs(t, sink.errs[0], model.ErrPermissionDenied)
	assert.ErrorIs(t, sink.errs[1], model.ErrSignalUnavailable)

	require.NoError(t, w.Stop())
	assert.Contains(t, mc.unsubscribedCopy(), "driverlink/device/location")
	mc.deliver("driverlink/device/location", []byte(`{"lat":1,"lng":3,"captured_at":"2026-03-01T10:00:05Z"}`))
	assert.Len(t, sink.readings, 1)

	require.NoError(t, w.Start(context.Background(), sink), "restart after stop")
}

func TestLocatorRoundTrip(t *testing.T) {
	cli, mc := newTestClient(t, Config{})
	loc, err := NewLocator(context.Background(), cli, logger.NopLogger{})
	require.NoError(t, err)

	var seenHigh bool
	answer(mc, func(req locateRequest) locateReply {
		seenHigh = req.HighAccuracy
		return locateReply{RequestID: req.RequestID, Position: &model.PositionSample{Latitude: 5, CapturedAt: at}}
	})

	w := NewWatchSource(cli, loc, logger.NopLogger{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fix, err := w.Fix(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, fix.Latitude)
	assert.True(t, seenHigh)
}

func TestLocatorErrors(t *testing.T) {
	cli, mc := newTestClient(t, Config{})
	loc, err := NewLocator(context.Background(), cli, logger.NopLogger{})
	require.NoError(t, err)

	answer(mc, func(req locateRequest) locateReply {
		return locateReply{RequestID: req.RequestID, Error: "timeout"}
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = loc.Locate(ctx, false)
	assert.ErrorIs(t, err, model.ErrRequestTimeout)

	answer(mc, func(req locateRequest) locateReply { return locateReply{RequestID: req.RequestID} })
	_, err = loc.Locate(ctx, false)
	assert.ErrorIs(t, err, model.ErrSignalUnavailable)

	// nobody answers
	answer(mc, func(req locateRequest) locateReply { return locateReply{RequestID: "other"} })
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err = loc.Locate(short, false)
	assert.ErrorIs(t, err, model.ErrRequestTimeout)
}
