package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kilianp07/driverlink/core/emergency"
	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/feed"
	"github.com/kilianp07/driverlink/core/journal"
	"github.com/kilianp07/driverlink/core/location"
	"github.com/kilianp07/driverlink/core/logger"
	coremetrics "github.com/kilianp07/driverlink/core/metrics"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/core/monitoring"
	"github.com/kilianp07/driverlink/core/offer"
	"github.com/kilianp07/driverlink/core/peerstate"
	"github.com/kilianp07/driverlink/core/tracking"
	"github.com/kilianp07/driverlink/infra/metrics"
	"github.com/kilianp07/driverlink/internal/eventbus"
)

const (
	peerStoreTimeout = 2 * time.Second
	peerMaxAge       = 2 * time.Minute
	shutdownTimeout  = 5 * time.Second
)

// Components are the collaborators a Session is assembled from. Journal,
// Peers, Metrics and Monitor are optional.
type Components struct {
	AgentID        string
	Device         model.DeviceInfo
	ConnectionType string

	Source    location.Source
	Telemetry tracking.TelemetryService
	Responder offer.Responder
	Emergency emergency.Service
	Transport feed.Transport

	Journal journal.Store
	Peers   peerstate.Store
	Metrics coremetrics.MetricsSink
	Monitor monitoring.Monitor

	Tracking       tracking.Config
	Offers         offer.Config
	EmergencyTimes emergency.Config

	Log logger.Logger
}

// FeedSnapshot describes the realtime feed connection.
type FeedSnapshot struct {
	Connected bool       `json:"connected"`
	Channels  []string   `json:"channels"`
	Stats     feed.Stats `json:"stats"`
}

// Snapshot is everything the UI displays about a session.
type Snapshot struct {
	AgentID    string               `json:"agent_id"`
	Online     bool                 `json:"online"`
	Assignment string               `json:"assignment,omitempty"`
	Tracking   tracking.Snapshot    `json:"tracking"`
	Offer      offer.Snapshot       `json:"offer"`
	Trigger    emergency.Snapshot   `json:"trigger"`
	Feed       FeedSnapshot         `json:"feed"`
	Peers      []model.PeerPosition `json:"peers"`
	TakenAt    time.Time            `json:"taken_at"`
}

// Session binds the tracker, the feed consumer, the offer negotiator and the
// emergency trigger of one agent.
type Session struct {
	agentID  string
	connType string
	bus      *eventbus.Bus
	journal  journal.Store
	peers    peerstate.Store
	sink     coremetrics.MetricsSink
	monitor  monitoring.Monitor
	log      logger.Logger
	now      func() time.Time

	tracker    *tracking.Tracker
	consumer   *feed.Consumer
	negotiator *offer.Negotiator
	trigger    *emergency.Trigger

	mu         sync.Mutex
	assignment string
	acceptedAt time.Time
}

// NewSession wires the components together. Nothing runs until Run.
func NewSession(c Components) *Session {
	if c.Journal == nil {
		c.Journal = journal.NopStore{}
	}
	if c.Peers == nil {
		c.Peers = peerstate.NewMemoryStore()
	}
	if c.Monitor == nil {
		c.Monitor = monitoring.Current()
	}
	bus := eventbus.New()
	s := &Session{
		agentID:  c.AgentID,
		connType: c.ConnectionType,
		bus:      bus,
		journal:  c.Journal,
		peers:    c.Peers,
		sink:     c.Metrics,
		monitor:  c.Monitor,
		log:      c.Log,
		now:      time.Now,
	}
	s.tracker = tracking.NewTracker(c.Source, c.Telemetry, c.Tracking, bus, c.Log)
	s.consumer = feed.NewConsumer(c.Transport, bus, c.Log)
	s.negotiator = offer.NewNegotiator(c.AgentID, c.Responder, c.Offers, c.Journal, bus, c.Log)
	s.trigger = emergency.NewTrigger(c.EmergencyTimes, emergency.Context{
		AgentID: c.AgentID,
		Device:  c.Device,
		RideID:  s.Assignment,
		Network: s.network,
	}, c.Emergency, s.tracker, c.Journal, c.Monitor, bus, c.Log)

	s.consumer.On(events.KindDispatchOffer, s.negotiator.HandleFeed)
	s.consumer.On(events.KindDispatchCancelled, s.onCancelled)
	s.consumer.On(events.KindPositionBroadcast, peerstate.Apply(c.Peers, peerStoreTimeout, c.Log))
	s.consumer.On(events.KindGeofenceAlert, s.onGeofence)
	s.consumer.On(events.KindEmergencyTriggered, s.onEmergency)
	s.negotiator.OnAccepted(s.beginRide)
	return s
}

func (s *Session) Tracker() *tracking.Tracker       { return s.tracker }
func (s *Session) Consumer() *feed.Consumer         { return s.consumer }
func (s *Session) Negotiator() *offer.Negotiator    { return s.negotiator }
func (s *Session) Trigger() *emergency.Trigger      { return s.trigger }
func (s *Session) Journal() journal.Store           { return s.journal }
func (s *Session) Subscribe() <-chan eventbus.Event { return s.bus.Subscribe() }

func (s *Session) Unsubscribe(sub <-chan eventbus.Event) { s.bus.Unsubscribe(sub) }

// Assignment returns the ride the agent is currently assigned to, if any.
func (s *Session) Assignment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignment
}

// Run takes the agent online, connects the feed and blocks until ctx is done.
// On return the agent is offline and the feed closed.
func (s *Session) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.sink != nil {
		metrics.StartEventCollector(runCtx, s.bus, s.sink, s.agentID)
	}
	s.watch(runCtx)

	if err := s.tracker.GoOnline(ctx, s.agentID); err != nil {
		return fmt.Errorf("go online: %w", err)
	}
	if err := s.consumer.Start(ctx, s.agentID); err != nil {
		s.shutdown()
		return fmt.Errorf("start feed: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.trigger.Run(runCtx)
	}()

	<-ctx.Done()
	cancel()
	wg.Wait()
	s.shutdown()
	return nil
}

func (s *Session) shutdown() {
	if err := s.consumer.Stop(); err != nil {
		s.log.Warnf("stop feed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.tracker.GoOffline(ctx); err != nil && !errors.Is(err, model.ErrNotTracking) {
		s.log.Warnf("go offline: %v", err)
	}
}

// watch reports the start of a degraded sync period to the monitor.
func (s *Session) watch(ctx context.Context) {
	sub := s.bus.Subscribe()
	go func() {
		defer s.bus.Unsubscribe(sub)
		degraded := false
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				e, isSync := ev.(events.SyncDegraded)
				if !isSync || e.Degraded == degraded {
					continue
				}
				degraded = e.Degraded
				if degraded {
					s.monitor.CaptureMessage(e.String(), map[string]string{
						"agent_id": s.agentID,
						"pending":  strconv.Itoa(e.Pending),
						"evicted":  strconv.Itoa(e.Evicted),
					})
				}
			}
		}
	}()
}

// Snapshot returns a copy of the whole session state.
func (s *Session) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		AgentID:    s.agentID,
		Online:     s.tracker.Online(),
		Assignment: s.Assignment(),
		Tracking:   s.tracker.Snapshot(),
		Offer:      s.negotiator.Snapshot(),
		Trigger:    s.trigger.Snapshot(),
		Feed: FeedSnapshot{
			Connected: s.consumer.Connected(),
			Channels:  s.consumer.Channels(),
			Stats:     s.consumer.Stats(),
		},
		TakenAt: s.now().UTC(),
	}
	peers, err := s.peers.List(ctx, peerstate.Filter{MaxAge: peerMaxAge})
	if err != nil {
		s.log.Warnf("list peers: %v", err)
	}
	snap.Peers = peers
	return snap
}

// Close releases the bus and the journal. Call it after Run returned.
func (s *Session) Close() error {
	s.bus.Close()
	return s.journal.Close()
}

func (s *Session) network() model.NetworkInfo {
	return model.NetworkInfo{
		Online:         !s.tracker.Snapshot().Degraded,
		FeedConnected:  s.consumer.Connected(),
		ConnectionType: s.connType,
	}
}

func (s *Session) beginRide(o model.DispatchOffer) {
	at := s.now()
	if o.RespondedAt != nil {
		at = *o.RespondedAt
	}
	s.mu.Lock()
	s.assignment = o.RideID
	s.acceptedAt = at
	s.mu.Unlock()
	s.tracker.SetAssignment(o.RideID)
	if err := s.consumer.JoinRide(o.RideID); err != nil {
		s.log.Warnf("join ride channel %s: %v", o.RideID, err)
	}
}

func (s *Session) endRide(rideID, why string) {
	s.mu.Lock()
	if s.assignment != rideID {
		s.mu.Unlock()
		return
	}
	s.assignment = ""
	s.acceptedAt = time.Time{}
	s.mu.Unlock()
	s.log.Infof("ride %s ended: %s", rideID, why)
	s.tracker.ClearAssignment()
	if err := s.consumer.LeaveRide(); err != nil {
		s.log.Warnf("leave ride channel %s: %v", rideID, err)
	}
}

// onCancelled ends the assigned ride only for a cancellation issued after the
// acceptance. Offer expiry and cancellations stamped before the accept are
// stale once the ride is assigned.
func (s *Session) onCancelled(ev events.FeedEvent) {
	s.negotiator.HandleFeed(ev)
	c, ok := ev.(events.OfferCancelled)
	if !ok {
		return
	}
	s.mu.Lock()
	assigned, acceptedAt := s.assignment == c.RideID, s.acceptedAt
	s.mu.Unlock()
	if !assigned {
		return
	}
	if c.Expired() || c.Meta().Time.Before(acceptedAt) {
		s.log.Debugf("ignoring stale cancellation of ride %s (%s)", c.RideID, c.Reason)
		return
	}
	s.endRide(c.RideID, "cancelled upstream: "+c.Reason)
}

func (s *Session) onGeofence(ev events.FeedEvent) {
	g, ok := ev.(events.GeofenceAlert)
	if !ok {
		return
	}
	s.log.Infof("geofence %s for ride %s", g.Type, g.RideID)
	if g.Type == events.ArrivedAtDestination {
		s.endRide(g.RideID, "arrived at destination")
	}
}

func (s *Session) onEmergency(ev events.FeedEvent) {
	if e, ok := ev.(events.EmergencyTriggered); ok && e.AgentID != s.agentID {
		s.log.Warnf("emergency %s raised by %s on ride %s", e.IncidentID, e.AgentID, e.RideID)
	}
}
