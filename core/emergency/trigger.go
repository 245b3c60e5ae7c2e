// Package emergency implements the SOS trigger of an agent session.
//
// Two paths lead to a submission. Hold-to-arm: Press arms a countdown and a
// Release before its deadline cancels it; Tick submits once the deadline has
// passed. Quick trigger: two Taps inside the double-tap window ask for
// confirmation and Confirm submits. Both paths are refused while the cooldown
// following the last successful submission runs. Deadlines are plain
// timestamps compared on each Tick.
package emergency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/journal"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/core/monitoring"
	"github.com/kilianp07/driverlink/internal/eventbus"
)

// ErrNotAwaitingConfirmation is returned by Confirm when no quick trigger is
// waiting.
var ErrNotAwaitingConfirmation = errors.New("no emergency awaiting confirmation")

// Service accepts SOS reports.
type Service interface {
	TriggerSOS(ctx context.Context, ev model.EmergencyEvent) (string, error)
}

// Locator provides the one-shot fix and the fallback position.
type Locator interface {
	Fix(ctx context.Context) (model.PositionSample, error)
	LastKnown() (model.PositionSample, bool)
}

// Context supplies the session details attached to an incident.
type Context struct {
	AgentID string
	Device  model.DeviceInfo
	// RideID returns the current assignment, if any.
	RideID func() string
	// Network returns the current connectivity.
	Network func() model.NetworkInfo
}

// Snapshot is a copy of the trigger state for display.
type Snapshot struct {
	State              model.TriggerState `json:"state"`
	CountdownRemaining time.Duration      `json:"countdown_remaining"`
	CooldownRemaining  time.Duration      `json:"cooldown_remaining"`
	IncidentID         string             `json:"incident_id,omitempty"`
	LastTriggerAt      time.Time          `json:"last_trigger_at,omitempty"`
}

// Trigger is the emergency state machine of one agent.
type Trigger struct {
	cfg     Config
	sess    Context
	svc     Service
	loc     Locator
	journal journal.Store
	monitor monitoring.Monitor
	bus     eventbus.EventBus
	log     logger.Logger
	now     func() time.Time

	mu            sync.Mutex
	state         model.TriggerState
	deadline      time.Time
	lastTap       time.Time
	lastTriggerAt time.Time
	incidentID    string
}

// NewTrigger creates a Trigger. store, mon and bus may be nil.
func NewTrigger(cfg Config, sess Context, svc Service, loc Locator, store journal.Store, mon monitoring.Monitor, bus eventbus.EventBus, log logger.Logger) *Trigger {
	cfg.SetDefaults()
	if store == nil {
		store = journal.NopStore{}
	}
	if mon == nil {
		mon = monitoring.Current()
	}
	return &Trigger{
		cfg:     cfg,
		sess:    sess,
		svc:     svc,
		loc:     loc,
		journal: store,
		monitor: mon,
		bus:     bus,
		log:     log,
		now:     time.Now,
	}
}

// Press starts the hold-to-arm countdown.
func (t *Trigger) Press() error {
	t.mu.Lock()
	now := t.now()
	if err := t.enterLocked(now); err != nil {
		t.mu.Unlock()
		return err
	}
	t.state = model.TriggerArming
	t.deadline = now.Add(t.cfg.countdown())
	ev := t.changedLocked(now)
	t.mu.Unlock()

	t.log.Infof("emergency armed, submitting in %s", t.cfg.countdown())
	t.publish(ev)
	return nil
}

// Release cancels the countdown if its deadline has not passed yet. It reports
// whether a countdown was cancelled.
func (t *Trigger) Release() bool {
	t.mu.Lock()
	now := t.now()
	if t.state != model.TriggerArming || !now.Before(t.deadline) {
		t.mu.Unlock()
		return false
	}
	t.state = model.TriggerIdle
	t.deadline = time.Time{}
	ev := t.changedLocked(now)
	t.mu.Unlock()

	t.log.Infof("emergency countdown cancelled")
	t.publish(ev)
	return true
}

// Tap registers one activation of the quick trigger. The second tap inside the
// double-tap window asks for confirmation.
func (t *Trigger) Tap() error {
	t.mu.Lock()
	now := t.now()
	if t.state == model.TriggerAwaitingConfirmation {
		t.mu.Unlock()
		return nil
	}
	if t.lastTap.IsZero() || now.Sub(t.lastTap) > t.cfg.doubleTap() {
		if t.state == model.TriggerArming || t.state == model.TriggerSubmitting {
			t.mu.Unlock()
			return model.ErrTriggerBusy
		}
		t.lastTap = now
		t.mu.Unlock()
		return nil
	}
	t.lastTap = time.Time{}
	if err := t.enterLocked(now); err != nil {
		t.mu.Unlock()
		return err
	}
	t.state = model.TriggerAwaitingConfirmation
	ev := t.changedLocked(now)
	t.mu.Unlock()

	t.log.Infof("emergency quick trigger awaiting confirmation")
	t.publish(ev)
	return nil
}

// Confirm submits a quick trigger awaiting confirmation. It returns the
// incident id.
func (t *Trigger) Confirm(ctx context.Context) (string, error) {
	t.mu.Lock()
	now := t.now()
	if t.state != model.TriggerAwaitingConfirmation {
		t.mu.Unlock()
		return "", ErrNotAwaitingConfirmation
	}
	if err := t.cooldownLocked(now); err != nil {
		t.state = model.TriggerIdle
		ev := t.changedLocked(now)
		t.mu.Unlock()
		t.publish(ev)
		return "", err
	}
	t.state = model.TriggerSubmitting
	ev := t.changedLocked(now)
	t.mu.Unlock()

	t.publish(ev)
	return t.submit(ctx)
}

// Dismiss abandons a quick trigger awaiting confirmation.
func (t *Trigger) Dismiss() {
	t.mu.Lock()
	if t.state != model.TriggerAwaitingConfirmation {
		t.mu.Unlock()
		return
	}
	t.state = model.TriggerIdle
	ev := t.changedLocked(t.now())
	t.mu.Unlock()
	t.publish(ev)
}

// Tick submits an armed trigger whose countdown elapsed. It returns the
// submission error, if any.
func (t *Trigger) Tick(ctx context.Context) error {
	t.mu.Lock()
	now := t.now()
	if t.state != model.TriggerArming {
		t.mu.Unlock()
		return nil
	}
	if now.Before(t.deadline) {
		ev := t.changedLocked(now)
		t.mu.Unlock()
		t.publish(ev)
		return nil
	}
	t.state = model.TriggerSubmitting
	t.deadline = time.Time{}
	ev := t.changedLocked(now)
	t.mu.Unlock()

	t.publish(ev)
	_, err := t.submit(ctx)
	return err
}

// Run calls Tick periodically until ctx is done.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.tick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = t.Tick(ctx)
		}
	}
}

// Snapshot returns a copy of the trigger state.
func (t *Trigger) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	ev := t.changedLocked(now)
	return Snapshot{
		State:              ev.State,
		CountdownRemaining: ev.CountdownRemaining,
		CooldownRemaining:  ev.CooldownRemaining,
		IncidentID:         t.incidentID,
		LastTriggerAt:      t.lastTriggerAt,
	}
}

// enterLocked guards the transitions out of idle. The check and the state
// change that follows happen under the same lock.
func (t *Trigger) enterLocked(now time.Time) error {
	switch t.state {
	case model.TriggerIdle, model.TriggerSubmitted:
	default:
		return model.ErrTriggerBusy
	}
	return t.cooldownLocked(now)
}

func (t *Trigger) cooldownLocked(now time.Time) error {
	if rem := t.cooldownRemainingLocked(now); rem > 0 {
		return &model.CooldownError{Remaining: rem}
	}
	return nil
}

func (t *Trigger) cooldownRemainingLocked(now time.Time) time.Duration {
	if t.lastTriggerAt.IsZero() {
		return 0
	}
	if rem := t.cfg.cooldown() - now.Sub(t.lastTriggerAt); rem > 0 {
		return rem
	}
	return 0
}

func (t *Trigger) changedLocked(now time.Time) events.TriggerChanged {
	ev := events.TriggerChanged{
		State:             t.state,
		CooldownRemaining: t.cooldownRemainingLocked(now),
		IncidentID:        t.incidentID,
	}
	if t.state == model.TriggerArming && now.Before(t.deadline) {
		ev.CountdownRemaining = t.deadline.Sub(now)
	}
	return ev
}

// submit runs the Submitting state to completion. It is not cancelled by ctx
// once started.
func (t *Trigger) submit(ctx context.Context) (string, error) {
	ctx = context.WithoutCancel(ctx)
	ev := t.assemble(ctx)

	subCtx, cancel := context.WithTimeout(ctx, t.cfg.submitTimeout())
	id, err := t.svc.TriggerSOS(subCtx, ev)
	cancel()

	t.mu.Lock()
	now := t.now()
	if err == nil {
		t.lastTriggerAt = now
		t.incidentID = id
		t.state = model.TriggerSubmitted
	} else {
		t.state = model.TriggerIdle
	}
	changed := t.changedLocked(now)
	t.mu.Unlock()

	rec := journal.Record{
		Timestamp:  now,
		Kind:       journal.KindEmergency,
		AgentID:    ev.AgentID,
		RideID:     ev.RideID,
		RequestID:  ev.RequestID,
		IncidentID: id,
		Outcome:    "submitted",
	}
	if err != nil {
		rec.Outcome = "failed"
		rec.Error = err.Error()
	}
	if jerr := t.journal.Append(ctx, rec); jerr != nil {
		t.log.Errorf("journal emergency %s: %v", ev.RequestID, jerr)
	}
	t.publish(changed)

	if err != nil {
		serr := &model.SubmissionError{Err: err, Fallback: t.cfg.Fallback}
		t.log.Errorf("emergency %s not submitted: %v", ev.RequestID, err)
		t.monitor.CaptureException(serr, map[string]string{
			"agent_id":   ev.AgentID,
			"request_id": ev.RequestID,
		})
		t.publish(events.EmergencyFailed{Err: serr})
		return "", serr
	}
	t.log.Infof("emergency %s submitted, incident %s", ev.RequestID, id)
	t.publish(events.EmergencySubmitted{IncidentID: id, RequestID: ev.RequestID})
	return id, nil
}

// assemble builds the incident. A failed fix falls back to the last known
// position, flagged as stale.
func (t *Trigger) assemble(ctx context.Context) model.EmergencyEvent {
	ev := model.EmergencyEvent{
		RequestID:    uuid.NewString(),
		AgentID:      t.sess.AgentID,
		IncidentType: t.cfg.IncidentType,
		Severity:     t.cfg.Severity,
		DeviceInfo:   t.sess.Device,
		CreatedAt:    t.now(),
	}
	if t.sess.RideID != nil {
		ev.RideID = t.sess.RideID()
	}
	if t.sess.Network != nil {
		ev.NetworkInfo = t.sess.Network()
	}

	fixCtx, cancel := context.WithTimeout(ctx, t.cfg.fixTimeout())
	defer cancel()
	fix, err := t.loc.Fix(fixCtx)
	if err == nil {
		ev.Location = fix
		return ev
	}
	ev.LocationStale = true
	if last, ok := t.loc.LastKnown(); ok {
		ev.Location = last
		t.log.Warnf("emergency fix failed, using last known position: %v", err)
	} else {
		t.log.Errorf("emergency fix failed and no position known: %v", err)
	}
	return ev
}

func (t *Trigger) publish(ev eventbus.Event) {
	if t.bus != nil {
		t.bus.Publish(ev)
	}
}

