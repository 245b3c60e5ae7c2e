package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/driverlink/core/events"
	coremetrics "github.com/kilianp07/driverlink/core/metrics"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/infra/logger"
	"github.com/kilianp07/driverlink/internal/eventbus"
)

// StartEventCollector subscribes to the session event bus and records metrics
// for the events it understands. It stops when the context is canceled.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink, agentID string) {
	if bus == nil || sink == nil {
		return
	}
	log := logger.New("metrics")
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				record(log, sink, agentID, ev)
			}
		}
	}()
}

// record forwards ev to the sink. Sink failures never stop collection.
func record(log logger.Logger, sink coremetrics.MetricsSink, agentID string, ev eventbus.Event) {
	if err := collect(sink, agentID, ev, time.Now()); err != nil {
		log.Debugf("record %T: %v", ev, err)
	}
}

func collect(sink coremetrics.MetricsSink, agentID string, ev eventbus.Event, now time.Time) error {
	switch e := ev.(type) {
	case events.SendCompleted:
		return sink.RecordSend(coremetrics.SendEvent{
			AgentID:  agentID,
			Kind:     string(e.Kind),
			Count:    e.Count,
			Result:   coremetrics.ResultOf(e.Err),
			Latency:  e.Latency,
			Buffered: e.Buffered,
			Time:     now,
		})
	case events.SyncDegraded:
		if r, ok := sink.(coremetrics.SyncStateRecorder); ok {
			return r.RecordSyncState(coremetrics.SyncStateEvent{
				AgentID:  agentID,
				Degraded: e.Degraded,
				Pending:  e.Pending,
				Evicted:  e.Evicted,
				Time:     now,
			})
		}
	case events.FeedStatus:
		if r, ok := sink.(coremetrics.FeedStatusRecorder); ok {
			return r.RecordFeedStatus(coremetrics.FeedStatusEvent{
				AgentID:   agentID,
				Connected: e.Connected,
				Channels:  len(e.Channels),
				Time:      now,
			})
		}
	case events.FeedDropped:
		if r, ok := sink.(coremetrics.FeedDropRecorder); ok {
			return r.RecordFeedDrop(coremetrics.FeedDropEvent{
				AgentID: agentID,
				Kind:    string(e.Kind),
				Reason:  e.Reason,
				Time:    now,
			})
		}
	case events.OfferChanged:
		// Outcome is only set on the transition back to idle.
		if e.Outcome == model.OfferIdle {
			return nil
		}
		if r, ok := sink.(coremetrics.OfferRecorder); ok {
			return r.RecordOffer(coremetrics.OfferEvent{
				AgentID: agentID,
				RideID:  e.RideID,
				Outcome: e.Outcome.String(),
				Time:    now,
			})
		}
	case events.EmergencySubmitted:
		if r, ok := sink.(coremetrics.EmergencyRecorder); ok {
			return r.RecordEmergency(coremetrics.EmergencyEvent{
				AgentID:    agentID,
				IncidentID: e.IncidentID,
				Result:     coremetrics.ResultOK,
				Time:       now,
			})
		}
	case events.EmergencyFailed:
		if r, ok := sink.(coremetrics.EmergencyRecorder); ok {
			var err error
			if e.Err != nil {
				err = e.Err.Err
			}
			return r.RecordEmergency(coremetrics.EmergencyEvent{
				AgentID: agentID,
				Result:  resultOrError(err),
				Time:    now,
			})
		}
	}
	return nil
}

func resultOrError(err error) string {
	if err == nil {
		return coremetrics.ResultError
	}
	return coremetrics.ResultOf(err)
}
