package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/internal/eventbus"
)

// Snapshot is a copy of the pipeline state for display.
type Snapshot struct {
	Session  model.TrackingSession  `json:"session"`
	Recent   []model.PositionSample `json:"recent"`
	Pending  int                    `json:"pending"`
	Evicted  int                    `json:"evicted"`
	Degraded bool                   `json:"degraded"`
	LastErr  string                 `json:"last_error,omitempty"`
}

// Pipeline applies the throttle and delivery policy to one reading at a time.
// Process, Flush and Heartbeat perform network I/O without holding the state
// lock and must be called from a single goroutine; the other methods are safe
// for concurrent use.
type Pipeline struct {
	svc      TelemetryService
	throttle Throttle
	timeout  time.Duration
	recentN  int
	bus      eventbus.EventBus
	log      logger.Logger

	mu       sync.Mutex
	session  model.TrackingSession
	buf      *RetryBuffer
	recent   []model.PositionSample
	degraded bool
	lastErr  error
	epoch    uint64
}

// NewPipeline creates a Pipeline. bus may be nil.
func NewPipeline(svc TelemetryService, cfg Config, bus eventbus.EventBus, log logger.Logger) *Pipeline {
	cfg.SetDefaults()
	return &Pipeline{
		svc:      svc,
		throttle: cfg.Throttle(),
		timeout:  cfg.RequestTimeout(),
		recentN:  cfg.RecentSamples,
		bus:      bus,
		log:      log,
		buf:      NewRetryBuffer(cfg.BufferCapacity),
	}
}

// Begin opens a session for agentID, discarding any previous state.
func (p *Pipeline) Begin(agentID string, now time.Time) model.TrackingSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	p.session = model.TrackingSession{AgentID: agentID, IsActive: true, StartedAt: now}
	return p.session
}

// End closes the session. Buffered readings are discarded, not flushed.
func (p *Pipeline) End() model.TrackingSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.buf.Len(); n > 0 {
		p.log.Infof("discarding %d buffered samples for %s", n, p.session.AgentID)
	}
	p.reset()
	p.session.IsActive = false
	p.session.AssignmentID = ""
	return p.session
}

func (p *Pipeline) reset() {
	p.epoch++
	p.buf.Clear()
	p.recent = nil
	p.degraded = false
	p.lastErr = nil
}

// SetAssignment switches the cadence; an empty rideID means idle.
func (p *Pipeline) SetAssignment(rideID string) model.TrackingSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session.AssignmentID = rideID
	return p.session
}

// Session returns a copy of the tracking session.
func (p *Pipeline) Session() model.TrackingSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Snapshot returns a copy of the pipeline state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		Session:  p.session,
		Recent:   append([]model.PositionSample(nil), p.recent...),
		Pending:  p.buf.Len(),
		Evicted:  p.buf.Evicted(),
		Degraded: p.degraded,
	}
	if p.lastErr != nil {
		s.LastErr = p.lastErr.Error()
	}
	return s
}

// Process records the reading and sends it when the throttle allows. A failed
// single send is buffered; it returns the send error for logging only.
func (p *Pipeline) Process(ctx context.Context, s model.PositionSample) error {
	p.mu.Lock()
	if !p.session.IsActive {
		p.mu.Unlock()
		return model.ErrNotTracking
	}
	p.remember(s)
	send := p.throttle.Allow(p.session, s.CapturedAt)
	agent, epoch := p.session.AgentID, p.epoch
	p.mu.Unlock()

	p.publish(events.SampleRecorded{Sample: s, Sent: send})
	if !send {
		return nil
	}

	err := p.call(ctx, events.SendSingle, 1, func(ctx context.Context) error {
		return p.svc.SendSingle(ctx, agent, s)
	})

	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return err
	}
	if err == nil {
		p.session.LastSentAt = s.CapturedAt
		p.lastErr = nil
		p.mu.Unlock()
		return nil
	}
	p.lastErr = err
	full := p.buf.Push(s)
	p.mu.Unlock()

	p.log.Debugf("single send failed for %s, buffered: %v", agent, err)
	if full {
		p.flush(ctx, agent, epoch)
	}
	return err
}

// Flush sends the buffered readings as one batch. An empty buffer is a no-op.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	agent, epoch, active := p.session.AgentID, p.epoch, p.session.IsActive
	p.mu.Unlock()
	if !active {
		return model.ErrNotTracking
	}
	return p.flush(ctx, agent, epoch)
}

func (p *Pipeline) flush(ctx context.Context, agent string, epoch uint64) error {
	p.mu.Lock()
	if p.buf.Len() == 0 || epoch != p.epoch {
		p.mu.Unlock()
		return nil
	}
	batch := p.buf.Snapshot()
	p.mu.Unlock()

	err := p.call(ctx, events.SendBatch, len(batch), func(ctx context.Context) error {
		return p.svc.SendBatch(ctx, agent, batch)
	})

	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return err
	}
	wasDegraded := p.degraded
	var ev events.SyncDegraded
	if err == nil {
		p.buf.Clear()
		p.degraded = false
		p.lastErr = nil
		ev = events.SyncDegraded{Degraded: false}
	} else {
		p.degraded = true
		p.lastErr = err
		ev = events.SyncDegraded{Degraded: true, Pending: p.buf.Len(), Evicted: p.buf.Evicted(), Err: err}
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Warnf("batch of %d samples failed for %s, sync degraded: %v", len(batch), agent, err)
		p.publish(ev)
		return err
	}
	p.log.Infof("flushed %d buffered samples for %s", len(batch), agent)
	if wasDegraded {
		p.publish(ev)
	}
	return nil
}

// Heartbeat reports the last known position without touching the throttle.
func (p *Pipeline) Heartbeat(ctx context.Context, s model.PositionSample) error {
	p.mu.Lock()
	agent, active := p.session.AgentID, p.session.IsActive
	p.mu.Unlock()
	if !active {
		return model.ErrNotTracking
	}
	return p.call(ctx, events.SendHeartbeat, 1, func(ctx context.Context) error {
		return p.svc.Heartbeat(ctx, agent, s.Latitude, s.Longitude)
	})
}

func (p *Pipeline) call(ctx context.Context, kind events.SendKind, count int, fn func(context.Context) error) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	start := time.Now()
	err := fn(reqCtx)
	p.mu.Lock()
	buffered := p.buf.Len()
	p.mu.Unlock()
	p.publish(events.SendCompleted{Kind: kind, Count: count, Err: err, Latency: time.Since(start), Buffered: buffered})
	return err
}

// remember keeps the last N readings for display. Callers hold p.mu.
func (p *Pipeline) remember(s model.PositionSample) {
	if len(p.recent) >= p.recentN {
		p.recent = append(p.recent[:0], p.recent[1:]...)
	}
	p.recent = append(p.recent, s)
}

func (p *Pipeline) publish(ev eventbus.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}
