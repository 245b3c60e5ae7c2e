package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/driverlink/core/events"
	"github.com/kilianp07/driverlink/core/feed"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/infra/mqtt"
)

// DispatchConfig drives the simulated dispatch backend.
type DispatchConfig struct {
	TopicPrefix string
	AgentID     string
	Route       Route
	// OfferEvery is the pause between two offers.
	OfferEvery time.Duration
	// RideDuration is how long after an offer the arrival geofence fires. Zero
	// disables geofence alerts.
	RideDuration time.Duration
	Fare         float64
}

// Dispatcher pushes ride offers on the agent channel and, for each of them,
// an arrival alert on the ride channel once RideDuration has passed.
type Dispatcher struct {
	broker Broker
	cfg    DispatchConfig
	log    logger.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq int
	wg  sync.WaitGroup
}

func NewDispatcher(b Broker, cfg DispatchConfig, log logger.Logger) *Dispatcher {
	if cfg.OfferEvery <= 0 {
		cfg.OfferEvery = time.Minute
	}
	if len(cfg.Route) == 0 {
		cfg.Route = DefaultRoute
	}
	if cfg.Fare <= 0 {
		cfg.Fare = 18.5
	}
	return &Dispatcher{broker: b, cfg: cfg, log: log, now: time.Now}
}

// Run publishes offers until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.OfferEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return nil
		case <-ticker.C:
			rideID, err := d.Offer(ctx)
			if err != nil {
				d.log.Warnf("publish offer: %v", err)
				continue
			}
			if d.cfg.RideDuration > 0 {
				d.arriveLater(ctx, rideID)
			}
		}
	}
}

// Offer publishes the next offer and returns its ride id.
func (d *Dispatcher) Offer(ctx context.Context) (string, error) {
	d.mu.Lock()
	d.seq++
	n := d.seq
	d.mu.Unlock()

	rideID := fmt.Sprintf("sim-%04d", n)
	pickup := d.cfg.Route[(n-1)%len(d.cfg.Route)]
	dest := d.cfg.Route[n%len(d.cfg.Route)]
	now := d.now()
	offer := model.DispatchOffer{
		RideID:        rideID,
		Pickup:        pickup,
		Destination:   dest,
		EstimatedFare: d.cfg.Fare,
		ExpiresAt:     now.Add(30 * time.Second),
	}
	channel := feed.AgentChannel(d.cfg.AgentID)
	if err := d.publish(ctx, events.KindDispatchOffer, channel, now, offer); err != nil {
		return "", err
	}
	d.log.Infof("offered ride %s to %s", rideID, d.cfg.AgentID)
	return rideID, nil
}

// Arrive publishes the destination geofence alert for rideID.
func (d *Dispatcher) Arrive(ctx context.Context, rideID string) error {
	data := map[string]any{
		"ride_id":  rideID,
		"agent_id": d.cfg.AgentID,
		"type":     events.ArrivedAtDestination,
	}
	return d.publish(ctx, events.KindGeofenceAlert, feed.RideChannel(rideID), d.now(), data)
}

func (d *Dispatcher) arriveLater(ctx context.Context, rideID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.RideDuration):
		}
		if err := d.Arrive(ctx, rideID); err != nil {
			d.log.Warnf("publish arrival for %s: %v", rideID, err)
		}
	}()
}

func (d *Dispatcher) publish(ctx context.Context, kind events.Kind, channel string, ts time.Time, data any) error {
	payload, err := feed.Encode(uuid.NewString(), kind, channel, ts, data)
	if err != nil {
		return err
	}
	return d.broker.Publish(ctx, mqtt.ChannelTopic(d.cfg.TopicPrefix, channel), "feed", false, payload)
}
