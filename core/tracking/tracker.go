package tracking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/location"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/internal/eventbus"
)

type job struct {
	sample *model.PositionSample
	flush  chan error
}

// run holds the resources of one online period.
type run struct {
	queue  chan job
	cancel context.CancelFunc
	done   chan struct{}
}

// Tracker owns the tracking session of one agent: it toggles availability,
// drives the sampler and feeds readings to the Pipeline on a worker goroutine.
type Tracker struct {
	svc       TelemetryService
	pipeline  *Pipeline
	sampler   *location.Sampler
	queueSize int
	heartbeat time.Duration
	bus       eventbus.EventBus
	log       logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	current atomic.Pointer[run]
	dropped atomic.Uint64
}

// NewTracker builds a Tracker reading positions from src. bus may be nil.
func NewTracker(src location.Source, svc TelemetryService, cfg Config, bus eventbus.EventBus, log logger.Logger) *Tracker {
	cfg.SetDefaults()
	t := &Tracker{
		svc:       svc,
		pipeline:  NewPipeline(svc, cfg, bus, log),
		queueSize: cfg.QueueSize,
		heartbeat: cfg.HeartbeatInterval(),
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
	t.sampler = location.NewSampler(src, t.enqueue, bus, log)
	return t
}

const availabilityRollbackTimeout = 5 * time.Second

// GoOnline declares the agent available and starts tracking. Only one session
// may be active at a time.
func (t *Tracker) GoOnline(ctx context.Context, agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current.Load() != nil {
		return model.ErrSessionActive
	}
	if err := t.svc.SetAvailability(ctx, agentID, true); err != nil {
		return fmt.Errorf("set availability: %w", err)
	}

	session := t.pipeline.Begin(agentID, t.now())
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{queue: make(chan job, t.queueSize), cancel: cancel, done: make(chan struct{})}
	t.current.Store(r)
	go t.work(runCtx, r)

	if err := t.sampler.Start(runCtx, agentID); err != nil {
		t.stop(r)
		t.pipeline.End()
		rollback, cancelRollback := context.WithTimeout(context.WithoutCancel(ctx), availabilityRollbackTimeout)
		defer cancelRollback()
		if rerr := t.svc.SetAvailability(rollback, agentID, false); rerr != nil {
			t.log.Errorf("withdraw availability after failed start: %v", rerr)
		}
		return fmt.Errorf("start sampler: %w", err)
	}
	t.log.Infof("agent %s online", agentID)
	t.publish(events.SessionChanged{Session: session})
	return nil
}

// GoOffline stops tracking, discards buffered readings and declares the agent
// unavailable. The local session ends even if the availability call fails.
func (t *Tracker) GoOffline(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.current.Load()
	if r == nil {
		return model.ErrNotTracking
	}
	agentID := t.pipeline.Session().AgentID
	if err := t.sampler.Stop(); err != nil {
		t.log.Warnf("stop sampler: %v", err)
	}
	t.stop(r)
	session := t.pipeline.End()
	t.publish(events.SessionChanged{Session: session})
	t.log.Infof("agent %s offline", agentID)

	if err := t.svc.SetAvailability(ctx, agentID, false); err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	return nil
}

func (t *Tracker) stop(r *run) {
	t.current.Store(nil)
	r.cancel()
	<-r.done
}

// SetAssignment switches to the active cadence for rideID.
func (t *Tracker) SetAssignment(rideID string) {
	s := t.pipeline.SetAssignment(rideID)
	t.log.Infof("assignment %q set for %s", rideID, s.AgentID)
	t.publish(events.SessionChanged{Session: s})
}

// ClearAssignment returns to the idle cadence.
func (t *Tracker) ClearAssignment() {
	s := t.pipeline.SetAssignment("")
	t.publish(events.SessionChanged{Session: s})
}

// Flush asks the worker to send the buffered readings now.
func (t *Tracker) Flush(ctx context.Context) error {
	r := t.current.Load()
	if r == nil {
		return model.ErrNotTracking
	}
	reply := make(chan error, 1)
	select {
	case r.queue <- job{flush: reply}:
	case <-r.done:
		return model.ErrNotTracking
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return model.ErrNotTracking
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Online reports whether a session is active.
func (t *Tracker) Online() bool { return t.current.Load() != nil }

// Snapshot returns the pipeline state for display.
func (t *Tracker) Snapshot() Snapshot { return t.pipeline.Snapshot() }

// LastKnown returns the last accepted reading.
func (t *Tracker) LastKnown() (model.PositionSample, bool) { return t.sampler.LastKnown() }

// Fix requests a one-shot high-accuracy reading.
func (t *Tracker) Fix(ctx context.Context) (model.PositionSample, error) { return t.sampler.Fix(ctx) }

// Dropped returns how many readings were lost because the worker queue was full.
func (t *Tracker) Dropped() uint64 { return t.dropped.Load() }

// enqueue is the sampler's downstream. It never blocks.
func (t *Tracker) enqueue(s model.PositionSample) {
	r := t.current.Load()
	if r == nil {
		return
	}
	select {
	case r.queue <- job{sample: &s}:
	default:
		t.dropped.Add(1)
		t.log.Warnf("tracking queue full, dropping reading captured at %s", s.CapturedAt)
	}
}

func (t *Tracker) work(ctx context.Context, r *run) {
	defer close(r.done)
	var tick <-chan time.Time
	if t.heartbeat > 0 {
		ticker := time.NewTicker(t.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.queue:
			switch {
			case j.sample != nil:
				_ = t.pipeline.Process(ctx, *j.sample)
			case j.flush != nil:
				j.flush <- t.pipeline.Flush(ctx)
			}
		case <-tick:
			if last, ok := t.sampler.LastKnown(); ok {
				if err := t.pipeline.Heartbeat(ctx, last); err != nil {
					t.log.Debugf("heartbeat failed: %v", err)
				}
			}
		}
	}
}

func (t *Tracker) publish(ev eventbus.Event) {
	if t.bus != nil {
		t.bus.Publish(ev)
	}
}
