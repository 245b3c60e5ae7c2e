package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/driverlink/core/metrics"
)

// PromSink records telemetry and session events in Prometheus metrics.
type PromSink struct {
	sends       *prometheus.CounterVec
	sendLatency *prometheus.HistogramVec
	pending     prometheus.Gauge
	evicted     prometheus.Gauge
	degraded    prometheus.Gauge
	feedUp      prometheus.Gauge
	feedDrops   *prometheus.CounterVec
	offers      *prometheus.CounterVec
	sos         *prometheus.CounterVec
}

// NewPromSink registers metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driverlink_telemetry_requests_total",
			Help: "Telemetry requests by kind and result",
		}, []string{"kind", "result"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "driverlink_telemetry_request_seconds",
			Help:    "Telemetry request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driverlink_retry_buffer_pending",
			Help: "Samples waiting in the retry buffer",
		}),
		evicted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driverlink_retry_buffer_evicted",
			Help: "Samples evicted from the retry buffer since the last successful flush",
		}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driverlink_sync_degraded",
			Help: "1 while the last batch flush failed",
		}),
		feedUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driverlink_feed_connected",
			Help: "1 while the realtime feed is connected",
		}),
		feedDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driverlink_feed_dropped_total",
			Help: "Feed messages rejected by the decoder",
		}, []string{"kind"}),
		offers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driverlink_offers_total",
			Help: "Dispatch offers by outcome",
		}, []string{"outcome"}),
		sos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driverlink_emergencies_total",
			Help: "SOS submissions by result",
		}, []string{"result"}),
	}

	var err error
	if s.sends, err = register(reg, s.sends); err != nil {
		return nil, err
	}
	if s.sendLatency, err = register(reg, s.sendLatency); err != nil {
		return nil, err
	}
	if s.pending, err = register(reg, s.pending); err != nil {
		return nil, err
	}
	if s.evicted, err = register(reg, s.evicted); err != nil {
		return nil, err
	}
	if s.degraded, err = register(reg, s.degraded); err != nil {
		return nil, err
	}
	if s.feedUp, err = register(reg, s.feedUp); err != nil {
		return nil, err
	}
	if s.feedDrops, err = register(reg, s.feedDrops); err != nil {
		return nil, err
	}
	if s.offers, err = register(reg, s.offers); err != nil {
		return nil, err
	}
	if s.sos, err = register(reg, s.sos); err != nil {
		return nil, err
	}
	return s, nil
}

// register reuses an already registered collector of the same name.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordSend increments the request counter and observes its latency.
func (s *PromSink) RecordSend(ev coremetrics.SendEvent) error {
	s.sends.WithLabelValues(ev.Kind, ev.Result).Inc()
	s.sendLatency.WithLabelValues(ev.Kind).Observe(ev.Latency.Seconds())
	s.pending.Set(float64(ev.Buffered))
	return nil
}

// RecordSyncState updates the buffer gauges.
func (s *PromSink) RecordSyncState(ev coremetrics.SyncStateEvent) error {
	s.pending.Set(float64(ev.Pending))
	s.evicted.Set(float64(ev.Evicted))
	s.degraded.Set(boolGauge(ev.Degraded))
	return nil
}

// RecordFeedStatus sets the connectivity gauge.
func (s *PromSink) RecordFeedStatus(ev coremetrics.FeedStatusEvent) error {
	s.feedUp.Set(boolGauge(ev.Connected))
	return nil
}

// RecordFeedDrop counts a malformed message.
func (s *PromSink) RecordFeedDrop(ev coremetrics.FeedDropEvent) error {
	kind := ev.Kind
	if kind == "" {
		kind = "unknown"
	}
	s.feedDrops.WithLabelValues(kind).Inc()
	return nil
}

// RecordOffer counts an offer resolution.
func (s *PromSink) RecordOffer(ev coremetrics.OfferEvent) error {
	s.offers.WithLabelValues(ev.Outcome).Inc()
	return nil
}

// RecordEmergency counts an SOS submission.
func (s *PromSink) RecordEmergency(ev coremetrics.EmergencyEvent) error {
	s.sos.WithLabelValues(ev.Result).Inc()
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
