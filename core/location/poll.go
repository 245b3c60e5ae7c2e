package location

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
)

const defaultPollInterval = 5 * time.Second

// PollSource is the periodic-poll variant: it asks a Locator for a position on
// every tick. Each request is bounded by the poll interval so a hung locator
// surfaces as a timeout instead of stalling the loop.
type PollSource struct {
	loc      Locator
	interval time.Duration
	log      logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPollSource creates a PollSource. A non-positive interval defaults to 5s.
func NewPollSource(loc Locator, interval time.Duration, log logger.Logger) *PollSource {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &PollSource{loc: loc, interval: interval, log: log}
}

// Start launches the polling loop.
func (p *PollSource) Start(ctx context.Context, sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return model.ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, sink, p.done)
	return nil
}

func (p *PollSource) loop(ctx context.Context, sink Sink, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.poll(ctx, sink)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *PollSource) poll(ctx context.Context, sink Sink) {
	reqCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	s, err := p.loc.Locate(reqCtx, false)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		sink.OnError(err)
		return
	}
	sink.OnReading(s)
}

// Stop ends the polling loop and waits for it to exit.
func (p *PollSource) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Fix performs a high-accuracy locate outside of the polling cadence.
func (p *PollSource) Fix(ctx context.Context) (model.PositionSample, error) {
	return p.loc.Locate(ctx, true)
}
