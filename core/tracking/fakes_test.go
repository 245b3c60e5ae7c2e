package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kilianp07/driverlink/core/location"
	"github.com/kilianp07/driverlink/core/model"
)

var (
	base       = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	errOffline = errors.New("telemetry unreachable")
)

func reading(sec int) model.PositionSample {
	return model.PositionSample{
		Latitude:   48.8566 + float64(sec)/1e5,
		Longitude:  2.3522,
		SpeedKmh:   30,
		CapturedAt: base.Add(time.Duration(sec) * time.Second),
	}
}

// fakeService records successful requests and fails on demand.
type fakeService struct {
	mu           sync.Mutex
	failSingle   bool
	failBatch    bool
	singles      []model.PositionSample
	attempts     int
	batches      [][]model.PositionSample
	batchTries   int
	availability []bool
	heartbeats   int
}

func (f *fakeService) SendSingle(_ context.Context, _ string, s model.PositionSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failSingle {
		return errOffline
	}
	f.singles = append(f.singles, s)
	return nil
}

func (f *fakeService) SendBatch(_ context.Context, _ string, samples []model.PositionSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchTries++
	if f.failBatch {
		return errOffline
	}
	f.batches = append(f.batches, samples)
	return nil
}

func (f *fakeService) SetAvailability(_ context.Context, _ string, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availability = append(f.availability, online)
	return nil
}

func (f *fakeService) Heartbeat(context.Context, string, float64, float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeService) set(single, batch bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSingle, f.failBatch = single, batch
}

func (f *fakeService) sent() []model.PositionSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.PositionSample(nil), f.singles...)
}

func (f *fakeService) batchesCopy() [][]model.PositionSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]model.PositionSample(nil), f.batches...)
}

// pushSource lets tests push readings into whichever sink is registered.
type pushSource struct {
	mu   sync.Mutex
	sink location.Sink
}

func (p *pushSource) Start(_ context.Context, sink location.Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
	return nil
}

func (p *pushSource) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = nil
	return nil
}

func (p *pushSource) Fix(context.Context) (model.PositionSample, error) {
	return reading(0), nil
}

func (p *pushSource) emit(s model.PositionSample) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.OnReading(s)
	}
}

// deniedSource refuses to start, like a device without location permission.
type deniedSource struct{ pushSource }

func (*deniedSource) Start(context.Context, location.Sink) error { return model.ErrPermissionDenied }
