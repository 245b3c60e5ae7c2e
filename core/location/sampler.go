package location

import (
	"context"
	"errors"
	"sync"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/internal/eventbus"
)

// Sampler owns the observation lifecycle of one agent. It forwards every
// accepted reading to the downstream function exactly once and in capture order;
// source errors are surfaced on the bus but never stop observation.
type Sampler struct {
	src        Source
	downstream func(model.PositionSample)
	bus        eventbus.EventBus
	log        logger.Logger

	mu       sync.Mutex
	running  bool
	gen      uint64
	agentID  string
	last     model.PositionSample
	haveLast bool
	errKind  error
}

// NewSampler wires a Source to a downstream consumer. bus may be nil.
func NewSampler(src Source, downstream func(model.PositionSample), bus eventbus.EventBus, log logger.Logger) *Sampler {
	return &Sampler{src: src, downstream: downstream, bus: bus, log: log}
}

// Start begins continuous observation for agentID.
func (s *Sampler) Start(ctx context.Context, agentID string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return model.ErrAlreadyStarted
	}
	s.running = true
	s.gen++
	s.agentID = agentID
	s.errKind = nil
	sink := &genSink{s: s, gen: s.gen}
	s.mu.Unlock()

	if err := s.src.Start(ctx, sink); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}
	s.log.Infof("location sampling started for %s", agentID)
	return nil
}

// Stop ends observation and releases the source. Readings still in flight from
// the stopped source are discarded.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.gen++
	agent := s.agentID
	s.mu.Unlock()

	err := s.src.Stop()
	s.log.Infof("location sampling stopped for %s", agent)
	return err
}

// Running reports whether observation is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastKnown returns the most recent accepted reading.
func (s *Sampler) LastKnown() (model.PositionSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.haveLast
}

// Fix requests a one-shot high-accuracy reading from the source.
func (s *Sampler) Fix(ctx context.Context) (model.PositionSample, error) {
	return s.src.Fix(ctx)
}

func (s *Sampler) onReading(gen uint64, p model.PositionSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || gen != s.gen {
		return
	}
	if err := p.Validate(); err != nil {
		s.log.Warnf("dropping reading: %v", err)
		return
	}
	if s.haveLast && !p.CapturedAt.After(s.last.CapturedAt) {
		s.log.Debugf("dropping out-of-order reading captured at %s", p.CapturedAt)
		return
	}
	s.last = p
	s.haveLast = true
	s.errKind = nil
	s.downstream(p)
}

func (s *Sampler) onError(gen uint64, err error) {
	se := model.ClassifySamplerError(err)
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	repeat := s.errKind != nil && errors.Is(se.Kind, s.errKind)
	s.errKind = se.Kind
	s.mu.Unlock()

	if repeat {
		s.log.Debugf("location error repeated: %v", se)
		return
	}
	s.log.Warnf("location error: %v", se)
	if s.bus != nil {
		s.bus.Publish(events.SamplerFailed{Err: se})
	}
}

// genSink tags callbacks with the sampler generation that started the source.
type genSink struct {
	s   *Sampler
	gen uint64
}

func (g *genSink) OnReading(p model.PositionSample) { g.s.onReading(g.gen, p) }
func (g *genSink) OnError(err error)                { g.s.onError(g.gen, err) }
