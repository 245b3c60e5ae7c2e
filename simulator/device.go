// Package simulator stands in for the phone side of a driver session: a
// device bridge streaming positions and answering locate requests over MQTT,
// and a dispatch backend pushing offers on the realtime feed.
package simulator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
)

// Broker is the part of the MQTT client the simulator needs.
type Broker interface {
	Subscribe(ctx context.Context, topic, qosKey string, handler paho.MessageHandler) error
	Publish(ctx context.Context, topic, qosKey string, retained bool, payload []byte) error
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

// DeviceConfig drives a simulated device bridge.
type DeviceConfig struct {
	LocationTopic string
	LocateTopic   string
	Route         Route
	SpeedKmh      float64
	Interval      time.Duration
	// AccuracyMeters is reported on streamed readings; locate replies asking
	// for high accuracy get a third of it.
	AccuracyMeters float64
	Fault          *Fault
}

// Device publishes readings along its route and answers locate requests.
type Device struct {
	broker Broker
	cfg    DeviceConfig
	log    logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	started time.Time
	wg      sync.WaitGroup
}

func NewDevice(b Broker, cfg DeviceConfig, log logger.Logger) *Device {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if len(cfg.Route) == 0 {
		cfg.Route = DefaultRoute
	}
	if cfg.AccuracyMeters <= 0 {
		cfg.AccuracyMeters = 15
	}
	return &Device{broker: b, cfg: cfg, log: log, now: time.Now}
}

// Run streams positions until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	d.mu.Lock()
	d.started = d.now()
	d.mu.Unlock()
	if err := d.broker.Subscribe(ctx, d.cfg.LocateTopic, "location", d.onLocate(ctx)); err != nil {
		return err
	}
	d.log.Infof("device streaming on %s every %s", d.cfg.LocationTopic, d.cfg.Interval)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := d.publishReading(ctx); err != nil {
			d.log.Warnf("publish reading: %v", err)
		}
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// Current returns the reading at the current time.
func (d *Device) Current(highAccuracy bool) model.PositionSample {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	now := d.now()
	if started.IsZero() {
		started = now
	}
	s := d.cfg.Route.At(now.Sub(started), d.cfg.SpeedKmh)
	s.AccuracyMeters = d.cfg.AccuracyMeters
	if highAccuracy {
		s.AccuracyMeters /= 3
	}
	s.CapturedAt = now
	return s
}

func (d *Device) publishReading(ctx context.Context) error {
	payload, err := json.Marshal(d.Current(false))
	if err != nil {
		return err
	}
	return d.broker.Publish(ctx, d.cfg.LocationTopic, "location", false, payload)
}

func (d *Device) onLocate(ctx context.Context) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		var req locateRequest
		if err := json.Unmarshal(msg.Payload(), &req); err != nil {
			d.log.Warnf("drop malformed locate request: %v", err)
			return
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.answer(ctx, req)
		}()
	}
}

func (d *Device) answer(ctx context.Context, req locateRequest) {
	reply := locateReply{RequestID: req.RequestID}
	switch d.cfg.Fault.Decide() {
	case Drop:
		d.log.Debugf("dropping locate request %s", req.RequestID)
		return
	case Deny:
		reply.Error = "permission_denied"
	default:
		if !d.cfg.Fault.Wait(ctx) {
			return
		}
		s := d.Current(req.HighAccuracy)
		reply.Position = &s
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		d.log.Errorf("marshal locate reply: %v", err)
		return
	}
	if err := d.broker.Publish(ctx, d.cfg.LocateTopic+"/reply", "location", false, payload); err != nil {
		d.log.Warnf("publish locate reply %s: %v", req.RequestID, err)
	}
}
