package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/driverlink/core/location"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
)

var (
	_ location.Source  = (*WatchSource)(nil)
	_ location.Locator = (*Locator)(nil)
)

// deviceMessage is what the device bridge publishes: either a reading or an
// error code.
type deviceMessage struct {
	model.PositionSample
	Error string `json:"error,omitempty"`
}

func deviceError(code string) error {
	switch code {
	case "permission_denied":
		return model.ErrPermissionDenied
	case "timeout":
		return model.ErrRequestTimeout
	default:
		return fmt.Errorf("%w: %s", model.ErrSignalUnavailable, code)
	}
}

// WatchSource is the continuous-watch variant: the device bridge pushes every
// reading on the location topic.
type WatchSource struct {
	client *Client
	topic  string
	loc    *Locator
	log    logger.Logger

	mu   sync.Mutex
	sink location.Sink
}

// NewWatchSource creates a source reading cfg.LocationTopic. One-shot fixes go
// through loc.
func NewWatchSource(c *Client, loc *Locator, log logger.Logger) *WatchSource {
	return &WatchSource{client: c, topic: c.Config().LocationTopic, loc: loc, log: log}
}

// Start subscribes to the location topic.
func (w *WatchSource) Start(ctx context.Context, sink location.Sink) error {
	w.mu.Lock()
	if w.sink != nil {
		w.mu.Unlock()
		return model.ErrAlreadyStarted
	}
	w.sink = sink
	w.mu.Unlock()
	if err := w.client.Subscribe(ctx, w.topic, "location", w.onMessage); err != nil {
		w.mu.Lock()
		w.sink = nil
		w.mu.Unlock()
		return err
	}
	return nil
}

// Stop releases the subscription.
func (w *WatchSource) Stop() error {
	w.mu.Lock()
	running := w.sink != nil
	w.sink = nil
	w.mu.Unlock()
	if !running {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	return w.client.Unsubscribe(ctx, w.topic)
}

// Fix asks the device for a high-accuracy reading.
func (w *WatchSource) Fix(ctx context.Context) (model.PositionSample, error) {
	return w.loc.Locate(ctx, true)
}

func (w *WatchSource) onMessage(_ paho.Client, msg paho.Message) {
	w.mu.Lock()
	sink := w.sink
	w.mu.Unlock()
	if sink == nil {
		return
	}
	var m deviceMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		w.log.Warnf("drop malformed location message: %v", err)
		return
	}
	if m.Error != "" {
		sink.OnError(deviceError(m.Error))
		return
	}
	sink.OnReading(m.PositionSample)
}

type locateRequest struct {
	RequestID    string `json:"request_id"`
	HighAccuracy bool   `json:"high_accuracy"`
}

type locateReply struct {
	RequestID string                `json:"request_id"`
	Position  *model.PositionSample `json:"position,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// Locator performs request/response positioning over MQTT. Requests go to
// LocateTopic and replies are correlated by request id on LocateTopic/reply.
type Locator struct {
	client     *Client
	reqTopic   string
	replyTopic string
	log        logger.Logger

	mu      sync.Mutex
	pending map[string]chan locateReply
}

// NewLocator subscribes to the reply topic.
func NewLocator(ctx context.Context, c *Client, log logger.Logger) (*Locator, error) {
	l := &Locator{
		client:     c,
		reqTopic:   c.Config().LocateTopic,
		replyTopic: c.Config().LocateTopic + "/reply",
		log:        log,
		pending:    make(map[string]chan locateReply),
	}
	if err := c.Subscribe(ctx, l.replyTopic, "location", l.onReply); err != nil {
		return nil, err
	}
	return l, nil
}

// Locate publishes a request and waits for the matching reply or ctx.
func (l *Locator) Locate(ctx context.Context, highAccuracy bool) (model.PositionSample, error) {
	id := uuid.NewString()
	ch := make(chan locateReply, 1)
	l.mu.Lock()
	l.pending[id] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	payload, err := json.Marshal(locateRequest{RequestID: id, HighAccuracy: highAccuracy})
	if err != nil {
		return model.PositionSample{}, err
	}
	if err := l.client.Publish(ctx, l.reqTopic, "location", false, payload); err != nil {
		return model.PositionSample{}, err
	}

	select {
	case r := <-ch:
		if r.Error != "" {
			return model.PositionSample{}, deviceError(r.Error)
		}
		if r.Position == nil {
			return model.PositionSample{}, fmt.Errorf("%w: empty locate reply", model.ErrSignalUnavailable)
		}
		return *r.Position, nil
	case <-ctx.Done():
		return model.PositionSample{}, fmt.Errorf("%w: locate %s: %v", model.ErrRequestTimeout, id, ctx.Err())
	}
}

func (l *Locator) onReply(_ paho.Client, msg paho.Message) {
	var r locateReply
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		l.log.Errorf("failed to decode locate reply: %v", err)
		return
	}
	l.mu.Lock()
	ch, ok := l.pending[r.RequestID]
	l.mu.Unlock()
	if !ok {
		l.log.Debugf("late locate reply %s", r.RequestID)
		return
	}
	select {
	case ch <- r:
	default:
	}
}
