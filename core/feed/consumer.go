package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/internal/eventbus"
)

const defaultSeenIDs = 512

// AgentChannel returns the channel carrying events addressed to an agent.
func AgentChannel(agentID string) string { return "agent:" + agentID }

// RideChannel returns the channel carrying events of a ride.
func RideChannel(rideID string) string { return "ride:" + rideID }

// Handler receives what a Transport reads from the network.
type Handler interface {
	HandleMessage(payload []byte)
	HandleStatus(connected bool)
}

// Transport maintains the connection to the feed. SetChannels may be called
// before Connect; after a reconnect the transport subscribes to the last set
// of channels again.
type Transport interface {
	Connect(ctx context.Context, h Handler) error
	SetChannels(channels []string) error
	Connected() bool
	Close() error
}

// HandlerFunc processes one decoded event.
type HandlerFunc func(events.FeedEvent)

// Stats counts what the consumer did with incoming frames.
type Stats struct {
	Delivered  uint64 `json:"delivered"`
	Malformed  uint64 `json:"malformed"`
	Duplicates uint64 `json:"duplicates"`
	Stale      uint64 `json:"stale"`
}

// Consumer decodes feed frames and dispatches them to local subscribers.
type Consumer struct {
	transport Transport
	events    *eventbus.TypedBus[events.FeedEvent]
	ui        eventbus.EventBus
	log       logger.Logger
	now       func() time.Time

	dispatch sync.Mutex

	mu        sync.Mutex
	handlers  map[events.Kind][]HandlerFunc
	agentID   string
	rideID    string
	channels  []string
	seen      map[string]struct{}
	seenOrder []string
	lastTS    map[string]time.Time
	stats     Stats
}

// NewConsumer creates a Consumer on top of t. ui receives FeedStatus and
// FeedDropped events and may be nil.
func NewConsumer(t Transport, ui eventbus.EventBus, log logger.Logger) *Consumer {
	return &Consumer{
		transport: t,
		events:    eventbus.NewTyped[events.FeedEvent](),
		ui:        ui,
		log:       log,
		now:       time.Now,
		handlers:  make(map[events.Kind][]HandlerFunc),
		seen:      make(map[string]struct{}),
		lastTS:    make(map[string]time.Time),
	}
}

// On registers fn for events of kind. Handlers run on the transport's delivery
// goroutine and must not block.
func (c *Consumer) On(kind events.Kind, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], fn)
}

// Events returns the typed bus carrying every delivered event.
func (c *Consumer) Events() *eventbus.TypedBus[events.FeedEvent] { return c.events }

// Start subscribes to the agent channel and connects the transport.
func (c *Consumer) Start(ctx context.Context, agentID string) error {
	c.mu.Lock()
	if c.agentID != "" {
		c.mu.Unlock()
		return model.ErrAlreadyStarted
	}
	c.agentID = agentID
	c.rideID = ""
	chs := c.channelsLocked()
	c.mu.Unlock()

	if err := c.transport.SetChannels(chs); err != nil {
		c.reset()
		return err
	}
	if err := c.transport.Connect(ctx, c); err != nil {
		c.reset()
		return err
	}
	c.log.Infof("feed consumer started on %v", chs)
	return nil
}

// Stop closes the transport and forgets the session state.
func (c *Consumer) Stop() error {
	err := c.transport.Close()
	c.reset()
	c.publish(events.FeedStatus{Connected: false})
	return err
}

func (c *Consumer) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentID, c.rideID = "", ""
	c.channels = nil
	c.seen = make(map[string]struct{})
	c.seenOrder = nil
	c.lastTS = make(map[string]time.Time)
}

// JoinRide adds the ride channel to the subscription.
func (c *Consumer) JoinRide(rideID string) error {
	c.mu.Lock()
	c.rideID = rideID
	chs := c.channelsLocked()
	c.mu.Unlock()
	return c.transport.SetChannels(chs)
}

// LeaveRide drops the ride channel.
func (c *Consumer) LeaveRide() error { return c.JoinRide("") }

// Channels returns the current subscription.
func (c *Consumer) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.channels...)
}

// Connected reports transport connectivity.
func (c *Consumer) Connected() bool { return c.transport.Connected() }

// Stats returns the frame counters.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Consumer) channelsLocked() []string {
	var chs []string
	if c.agentID != "" {
		chs = append(chs, AgentChannel(c.agentID))
	}
	if c.rideID != "" {
		chs = append(chs, RideChannel(c.rideID))
	}
	c.channels = chs
	return append([]string(nil), chs...)
}

// HandleStatus implements Handler.
func (c *Consumer) HandleStatus(connected bool) {
	if connected {
		c.log.Infof("feed connected")
	} else {
		c.log.Warnf("feed connection lost")
	}
	c.publish(events.FeedStatus{Connected: connected, Channels: c.Channels()})
}

// HandleMessage implements Handler.
func (c *Consumer) HandleMessage(payload []byte) {
	c.dispatch.Lock()
	defer c.dispatch.Unlock()

	ev, err := Decode(payload, c.now())
	if err != nil {
		c.mu.Lock()
		c.stats.Malformed++
		c.mu.Unlock()
		c.log.Warnf("dropping feed message: %v", err)
		c.publish(events.FeedDropped{Reason: err.Error()})
		return
	}

	handlers, reason := c.admit(ev)
	if reason != nil {
		c.log.Debugf("ignoring %s %s: %v", ev.Kind(), ev.Meta().ID, reason)
		return
	}
	for _, h := range handlers {
		h(ev)
	}
	c.events.Publish(ev)
}

var (
	errDuplicate    = errors.New("duplicate event")
	errUnsubscribed = errors.New("channel not subscribed")
	errStale        = errors.New("older than the last event of its kind")
)

// admit applies the idempotency rules and returns the handlers to run.
func (c *Consumer) admit(ev events.FeedEvent) ([]HandlerFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := ev.Meta()
	if m.Channel != "" && !c.subscribedLocked(m.Channel) {
		c.stats.Stale++
		return nil, errUnsubscribed
	}
	if m.ID != "" {
		if _, dup := c.seen[m.ID]; dup {
			c.stats.Duplicates++
			return nil, errDuplicate
		}
	}
	key := string(ev.Kind()) + "|" + ev.Key()
	if last, ok := c.lastTS[key]; ok && m.Time.Before(last) {
		c.stats.Stale++
		return nil, errStale
	}
	c.lastTS[key] = m.Time
	if m.ID != "" {
		c.remember(m.ID)
	}
	c.stats.Delivered++
	return append([]HandlerFunc(nil), c.handlers[ev.Kind()]...), nil
}

func (c *Consumer) subscribedLocked(ch string) bool {
	for _, s := range c.channels {
		if s == ch {
			return true
		}
	}
	return false
}

func (c *Consumer) remember(id string) {
	if len(c.seenOrder) >= defaultSeenIDs {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
	c.seen[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
}

func (c *Consumer) publish(ev eventbus.Event) {
	if c.ui != nil {
		c.ui.Publish(ev)
	}
}
