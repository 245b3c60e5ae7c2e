package metrics

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/driverlink/core/events"
	coremetrics "github.com/kilianp07/driverlink/core/metrics"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/infra/logger"
	"github.com/kilianp07/driverlink/internal/eventbus"
)

type captureSink struct {
	mu     sync.Mutex
	sends  []coremetrics.SendEvent
	syncs  []coremetrics.SyncStateEvent
	status []coremetrics.FeedStatusEvent
	drops  []coremetrics.FeedDropEvent
	offers []coremetrics.OfferEvent
	sos    []coremetrics.EmergencyEvent
}

func (c *captureSink) RecordSend(ev coremetrics.SendEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, ev)
	return nil
}

func (c *captureSink) RecordSyncState(ev coremetrics.SyncStateEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncs = append(c.syncs, ev)
	return nil
}

func (c *captureSink) RecordFeedStatus(ev coremetrics.FeedStatusEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = append(c.status, ev)
	return nil
}

func (c *captureSink) RecordFeedDrop(ev coremetrics.FeedDropEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drops = append(c.drops, ev)
	return nil
}

func (c *captureSink) RecordOffer(ev coremetrics.OfferEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers = append(c.offers, ev)
	return nil
}

func (c *captureSink) RecordEmergency(ev coremetrics.EmergencyEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sos = append(c.sos, ev)
	return nil
}

func (c *captureSink) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends) + len(c.syncs) + len(c.status) + len(c.drops) + len(c.offers) + len(c.sos)
}

func TestStartEventCollector(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	sink := &captureSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartEventCollector(ctx, bus, sink, "drv-1")

	// The collector subscribes synchronously, so nothing published here is lost.
	bus.Publish(events.SendCompleted{Kind: events.SendSingle, Count: 1, Err: model.ErrNetworkFailure, Buffered: 1})
	bus.Publish(events.SyncDegraded{Degraded: true, Pending: 5})
	bus.Publish(events.FeedStatus{Connected: true, Channels: []string{"agent:drv-1"}})
	bus.Publish(events.FeedDropped{Kind: events.KindDispatchOffer, Reason: "missing ride_id"})
	bus.Publish(events.OfferChanged{State: model.OfferPending, RideID: "r1"})
	bus.Publish(events.OfferChanged{State: model.OfferIdle, Outcome: model.OfferAccepted, RideID: "r1"})
	bus.Publish(events.EmergencySubmitted{IncidentID: "inc-1"})
	bus.Publish(events.EmergencyFailed{Err: &model.SubmissionError{Err: model.ErrRequestTimeout}})
	bus.Publish(events.SampleRecorded{})

	require.Eventually(t, func() bool { return sink.total() == 7 }, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "drv-1", sink.sends[0].AgentID)
	assert.Equal(t, coremetrics.ResultNetwork, sink.sends[0].Result)
	assert.True(t, sink.syncs[0].Degraded)
	assert.Equal(t, 1, sink.status[0].Channels)
	assert.Equal(t, string(events.KindDispatchOffer), sink.drops[0].Kind)
	require.Len(t, sink.offers, 1)
	assert.Equal(t, model.OfferAccepted.String(), sink.offers[0].Outcome)
	require.Len(t, sink.sos, 2)
	assert.Equal(t, coremetrics.ResultOK, sink.sos[0].Result)
	assert.Equal(t, coremetrics.ResultTimeout, sink.sos[1].Result)
}

type brokenSink struct{ coremetrics.NopSink }

func (brokenSink) RecordSend(coremetrics.SendEvent) error { return errors.New("write refused") }

func TestRecordLogsSinkErrors(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("metrics", &buf, "debug")
	record(log, brokenSink{}, "drv-1", events.SendCompleted{Kind: events.SendSingle, Count: 1})
	assert.Contains(t, buf.String(), "write refused")
	assert.Contains(t, buf.String(), "SendCompleted")
}

type sendOnly struct{ n atomic.Int32 }

func (s *sendOnly) RecordSend(coremetrics.SendEvent) error {
	s.n.Add(1)
	return nil
}

func TestStartEventCollector_SendOnlySink(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	sink := &sendOnly{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartEventCollector(ctx, bus, sink, "")

	bus.Publish(events.OfferChanged{Outcome: model.OfferDeclined})
	bus.Publish(events.SendCompleted{Kind: events.SendBatch, Err: errors.New("boom")})
	require.Eventually(t, func() bool { return sink.n.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStartEventCollector_NilArgs(t *testing.T) {
	StartEventCollector(context.Background(), nil, coremetrics.NopSink{}, "")
	StartEventCollector(context.Background(), eventbus.New(), nil, "")
}
