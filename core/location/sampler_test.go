package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/infra/logger"
	"github.com/kilianp07/driverlink/internal/eventbus"
)

// fakeSource hands its sink to the test so readings can be pushed manually.
type fakeSource struct {
	mu      sync.Mutex
	sink    Sink
	started int
	stopped int
	fix     model.PositionSample
	fixErr  error
}

func (f *fakeSource) Start(_ context.Context, sink Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
	f.started++
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeSource) Fix(context.Context) (model.PositionSample, error) { return f.fix, f.fixErr }

func (f *fakeSource) current() Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink
}

type collector struct {
	mu  sync.Mutex
	got []model.PositionSample
}

func (c *collector) add(p model.PositionSample) {
	c.mu.Lock()
	c.got = append(c.got, p)
	c.mu.Unlock()
}

func (c *collector) samples() []model.PositionSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.PositionSample(nil), c.got...)
}

func at(sec int) model.PositionSample {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return model.PositionSample{Latitude: 48.85, Longitude: 2.35, CapturedAt: base.Add(time.Duration(sec) * time.Second)}
}

func TestSamplerDeliversInCaptureOrder(t *testing.T) {
	src := &fakeSource{}
	col := &collector{}
	s := NewSampler(src, col.add, nil, logger.NopLogger{})
	require.NoError(t, s.Start(context.Background(), "agent-1"))

	sink := src.current()
	sink.OnReading(at(0))
	sink.OnReading(at(5))
	sink.OnReading(at(3)) // older than last accepted
	sink.OnReading(at(5)) // duplicate capture time
	sink.OnReading(at(10))
	sink.OnReading(model.PositionSample{Latitude: 100, CapturedAt: at(11).CapturedAt})

	got := col.samples()
	require.Len(t, got, 3)
	assert.Equal(t, at(0).CapturedAt, got[0].CapturedAt)
	assert.Equal(t, at(5).CapturedAt, got[1].CapturedAt)
	assert.Equal(t, at(10).CapturedAt, got[2].CapturedAt)

	last, ok := s.LastKnown()
	assert.True(t, ok)
	assert.Equal(t, at(10).CapturedAt, last.CapturedAt)
}

func TestSamplerStartTwice(t *testing.T) {
	src := &fakeSource{}
	s := NewSampler(src, func(model.PositionSample) {}, nil, logger.NopLogger{})
	require.NoError(t, s.Start(context.Background(), "a"))
	assert.ErrorIs(t, s.Start(context.Background(), "a"), model.ErrAlreadyStarted)
	require.NoError(t, s.Stop())
	assert.Equal(t, 1, src.stopped)
	require.NoError(t, s.Stop())
	assert.Equal(t, 1, src.stopped, "second stop is a no-op")
}

func TestSamplerIgnoresReadingsAfterStop(t *testing.T) {
	src := &fakeSource{}
	col := &collector{}
	s := NewSampler(src, col.add, nil, logger.NopLogger{})
	require.NoError(t, s.Start(context.Background(), "a"))
	stale := src.current()
	require.NoError(t, s.Stop())
	stale.OnReading(at(1))
	assert.Empty(t, col.samples())

	require.NoError(t, s.Start(context.Background(), "a"))
	stale.OnReading(at(2))
	assert.Empty(t, col.samples(), "sink from the previous run stays detached")
	src.current().OnReading(at(3))
	assert.Len(t, col.samples(), 1)
}

func TestSamplerSurfacesErrorsOncePerOccurrence(t *testing.T) {
	src := &fakeSource{}
	bus := eventbus.New()
	defer bus.Close()
	sub := bus.Subscribe()
	col := &collector{}
	s := NewSampler(src, col.add, bus, logger.NopLogger{})
	require.NoError(t, s.Start(context.Background(), "a"))
	sink := src.current()

	sink.OnError(model.ErrPermissionDenied)
	sink.OnError(model.ErrPermissionDenied)
	sink.OnError(errors.New("no fix"))
	sink.OnReading(at(1))
	sink.OnError(errors.New("no fix"))

	var kinds []error
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub:
			kinds = append(kinds, ev.(events.SamplerFailed).Err.Kind)
		case <-time.After(time.Second):
			t.Fatalf("expected 3 sampler errors, got %d", len(kinds))
		}
	}
	assert.Equal(t, []error{model.ErrPermissionDenied, model.ErrSignalUnavailable, model.ErrSignalUnavailable}, kinds)
	select {
	case ev := <-sub:
		t.Fatalf("unexpected extra event %#v", ev)
	default:
	}
	assert.True(t, s.Running(), "errors never stop the sampler")
	assert.Len(t, col.samples(), 1)
}

func TestPollSourceLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	n := 0
	loc := LocatorFunc(func(ctx context.Context, high bool) (model.PositionSample, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n == 2 {
			return model.PositionSample{}, model.ErrSignalUnavailable
		}
		return at(n), nil
	})
	src := NewPollSource(loc, 5*time.Millisecond, logger.NopLogger{})
	col := &collector{}
	s := NewSampler(src, col.add, nil, logger.NopLogger{})
	require.NoError(t, s.Start(context.Background(), "a"))
	require.Eventually(t, func() bool { return len(col.samples()) >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())

	got := col.samples()
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].CapturedAt.After(got[i-1].CapturedAt))
	}
}

func TestPollSourceFixUsesHighAccuracy(t *testing.T) {
	var high bool
	src := NewPollSource(LocatorFunc(func(_ context.Context, h bool) (model.PositionSample, error) {
		high = h
		return at(1), nil
	}), 0, logger.NopLogger{})
	p, err := src.Fix(context.Background())
	require.NoError(t, err)
	assert.True(t, high)
	assert.Equal(t, at(1).CapturedAt, p.CapturedAt)
	require.NoError(t, src.Start(context.Background(), nopSink{}))
	assert.ErrorIs(t, src.Start(context.Background(), nopSink{}), model.ErrAlreadyStarted)
	require.NoError(t, src.Stop())
}

type nopSink struct{}

func (nopSink) OnReading(model.PositionSample) {}
func (nopSink) OnError(error)                  {}
