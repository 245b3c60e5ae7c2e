// Package offer negotiates dispatch offers for one agent. At most one offer is
// unresolved at any time; every resolution returns the negotiator to idle.
//
//	Idle --offer--> Pending --accept--> Accepting --ok--> Accepted --> Idle
//	                   |                    |--fail--> Pending (one retry, then Discarded)
//	                   |--decline--> Declined --> Idle
//	Pending/Accepting --cancelled--> Cancelled|Expired --> Idle
package offer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/journal"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/internal/eventbus"
)

const (
	defaultResponseTimeout = 10 * time.Second
	maxAcceptAttempts      = 2
	resolvedMemory         = 128
)

// Responder submits the agent's answer to the dispatch service.
type Responder interface {
	RespondOffer(ctx context.Context, rideID string, accept bool) error
}

// Config holds negotiator settings.
type Config struct {
	ResponseTimeoutSeconds int `json:"response_timeout_seconds"`
}

func (c Config) ResponseTimeout() time.Duration {
	if c.ResponseTimeoutSeconds <= 0 {
		return defaultResponseTimeout
	}
	return time.Duration(c.ResponseTimeoutSeconds) * time.Second
}

// Snapshot is a copy of the negotiator state for display.
type Snapshot struct {
	State       model.OfferState     `json:"state"`
	Offer       *model.DispatchOffer `json:"offer,omitempty"`
	LastRideID  string               `json:"last_ride_id,omitempty"`
	LastOutcome model.OfferState     `json:"last_outcome"`
}

// Negotiator holds the pending offer of one agent.
type Negotiator struct {
	agentID string
	svc     Responder
	journal journal.Store
	bus     eventbus.EventBus
	log     logger.Logger
	timeout time.Duration
	now     func() time.Time

	mu            sync.Mutex
	state         model.OfferState
	offer         *model.DispatchOffer
	gen           uint64
	failures      int
	lastRide      string
	lastOutcome   model.OfferState
	resolved      map[string]model.OfferState
	resolvedOrder []string
	onAccepted    []func(model.DispatchOffer)
}

// NewNegotiator creates a Negotiator. store and bus may be nil.
func NewNegotiator(agentID string, svc Responder, cfg Config, store journal.Store, bus eventbus.EventBus, log logger.Logger) *Negotiator {
	if store == nil {
		store = journal.NopStore{}
	}
	return &Negotiator{
		agentID:  agentID,
		svc:      svc,
		journal:  store,
		bus:      bus,
		log:      log,
		timeout:  cfg.ResponseTimeout(),
		now:      time.Now,
		resolved: make(map[string]model.OfferState),
	}
}

// OnAccepted registers fn to run after an accept succeeded.
func (n *Negotiator) OnAccepted(fn func(model.DispatchOffer)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onAccepted = append(n.onAccepted, fn)
}

// HandleFeed routes offer and cancellation events from the realtime feed.
func (n *Negotiator) HandleFeed(ev events.FeedEvent) {
	switch e := ev.(type) {
	case events.OfferReceived:
		if err := n.OnOffer(e.Offer); err != nil {
			n.log.Debugf("offer %s not taken: %v", e.Offer.RideID, err)
		}
	case events.OfferCancelled:
		n.OnCancelled(e.RideID, e.Reason)
	}
}

// OnOffer moves an idle negotiator to pending. While another offer is
// unresolved the new one is dropped with ErrOfferPending; an offer for a ride
// that was already resolved returns ErrStaleOffer.
func (n *Negotiator) OnOffer(o model.DispatchOffer) error {
	if err := o.Validate(); err != nil {
		n.log.Warnf("dropping offer: %v", err)
		return err
	}
	n.mu.Lock()
	if _, done := n.resolved[o.RideID]; done {
		n.mu.Unlock()
		return model.ErrStaleOffer
	}
	if n.state != model.OfferIdle {
		same := n.offer != nil && n.offer.RideID == o.RideID
		n.mu.Unlock()
		if same {
			return nil
		}
		n.log.Infof("dropping offer %s: another offer is pending", o.RideID)
		return model.ErrOfferPending
	}
	if o.ReceivedAt.IsZero() {
		o.ReceivedAt = n.now()
	}
	n.state = model.OfferPending
	n.offer = &o
	n.gen++
	n.failures = 0
	ev := n.changedLocked()
	n.mu.Unlock()

	n.log.Infof("offer %s pending", o.RideID)
	n.publish(ev)
	return nil
}

// Accept submits the acceptance of the pending offer. A failed submission puts
// the offer back to pending once; the second failure discards it. The request
// runs to completion even if ctx is cancelled.
func (n *Negotiator) Accept(ctx context.Context) error {
	n.mu.Lock()
	switch n.state {
	case model.OfferPending:
	case model.OfferAccepting:
		n.mu.Unlock()
		return model.ErrOfferPending
	default:
		n.mu.Unlock()
		return model.ErrNoOffer
	}
	n.state = model.OfferAccepting
	gen := n.gen
	offer := *n.offer
	ev := n.changedLocked()
	n.mu.Unlock()
	n.publish(ev)

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	err := n.svc.RespondOffer(reqCtx, offer.RideID, true)

	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		n.log.Infof("late accept response for %s ignored", offer.RideID)
		return model.ErrStaleOffer
	}
	if err == nil {
		now := n.now()
		n.offer.RespondedAt = &now
		accepted := *n.offer
		ev := n.resolveLocked(model.OfferAccepted)
		hooks := append(([]func(model.DispatchOffer))(nil), n.onAccepted...)
		n.mu.Unlock()

		n.log.Infof("offer %s accepted", offer.RideID)
		n.publish(ev)
		n.record(offer.RideID, model.OfferAccepted, nil)
		for _, h := range hooks {
			h(accepted)
		}
		return nil
	}

	n.failures++
	if n.failures >= maxAcceptAttempts {
		ev := n.resolveLocked(model.OfferDiscarded)
		n.mu.Unlock()
		n.log.Warnf("offer %s discarded after %d failed accepts: %v", offer.RideID, maxAcceptAttempts, err)
		n.publish(ev)
		n.record(offer.RideID, model.OfferDiscarded, err)
		return fmt.Errorf("accept %s: %w", offer.RideID, err)
	}
	n.state = model.OfferPending
	ev = n.changedLocked()
	n.mu.Unlock()
	n.log.Warnf("accept %s failed, retry allowed: %v", offer.RideID, err)
	n.publish(ev)
	return fmt.Errorf("accept %s: %w", offer.RideID, err)
}

// Decline resolves the pending offer locally, then tells the dispatch service.
// A failed submission is only logged.
func (n *Negotiator) Decline(ctx context.Context) error {
	n.mu.Lock()
	switch n.state {
	case model.OfferPending:
	case model.OfferAccepting:
		n.mu.Unlock()
		return model.ErrOfferPending
	default:
		n.mu.Unlock()
		return model.ErrNoOffer
	}
	now := n.now()
	n.offer.RespondedAt = &now
	ride := n.offer.RideID
	ev := n.resolveLocked(model.OfferDeclined)
	n.mu.Unlock()

	n.publish(ev)
	n.record(ride, model.OfferDeclined, nil)

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.svc.RespondOffer(reqCtx, ride, false); err != nil {
		n.log.Warnf("decline %s not delivered: %v", ride, err)
	}
	return nil
}

// OnCancelled withdraws the offer for rideID; reason "expired" or "timeout"
// resolves it as expired. It supersedes an accept in flight. Cancellations for
// other rides, or for an offer already resolved, are no-ops.
func (n *Negotiator) OnCancelled(rideID, reason string) {
	n.mu.Lock()
	if n.offer == nil || n.offer.RideID != rideID {
		_, known := n.resolved[rideID]
		n.mu.Unlock()
		if known {
			n.log.Debugf("cancellation for resolved ride %s ignored", rideID)
		}
		return
	}
	outcome := model.OfferCancelled
	if events.ExpiredReason(reason) {
		outcome = model.OfferExpired
	}
	ev := n.resolveLocked(outcome)
	n.mu.Unlock()

	n.log.Infof("offer %s %s upstream", rideID, outcome)
	n.publish(ev)
	n.record(rideID, outcome, nil)
}

// Snapshot returns a copy of the negotiator state.
func (n *Negotiator) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := Snapshot{State: n.state, LastRideID: n.lastRide, LastOutcome: n.lastOutcome}
	if n.offer != nil {
		o := *n.offer
		s.Offer = &o
	}
	return s
}

// resolveLocked records the outcome and returns to idle. Bumping the
// generation makes any accept still in flight stale.
func (n *Negotiator) resolveLocked(outcome model.OfferState) events.OfferChanged {
	ride := n.offer.RideID
	n.remember(ride, outcome)
	n.lastRide, n.lastOutcome = ride, outcome
	n.state = model.OfferIdle
	n.offer = nil
	n.gen++
	n.failures = 0
	return events.OfferChanged{State: model.OfferIdle, Outcome: outcome, RideID: ride}
}

func (n *Negotiator) changedLocked() events.OfferChanged {
	ev := events.OfferChanged{State: n.state}
	if n.offer != nil {
		o := *n.offer
		ev.Offer = &o
		ev.RideID = o.RideID
	}
	return ev
}

func (n *Negotiator) remember(ride string, outcome model.OfferState) {
	if len(n.resolvedOrder) >= resolvedMemory {
		delete(n.resolved, n.resolvedOrder[0])
		n.resolvedOrder = n.resolvedOrder[1:]
	}
	n.resolved[ride] = outcome
	n.resolvedOrder = append(n.resolvedOrder, ride)
}

func (n *Negotiator) record(ride string, outcome model.OfferState, err error) {
	rec := journal.Record{
		Timestamp: n.now(),
		Kind:      journal.KindOffer,
		AgentID:   n.agentID,
		RideID:    ride,
		Outcome:   outcome.String(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := n.journal.Append(context.Background(), rec); jerr != nil {
		n.log.Errorf("journal offer %s: %v", ride, jerr)
	}
}

func (n *Negotiator) publish(ev eventbus.Event) {
	if n.bus != nil {
		n.bus.Publish(ev)
	}
}
