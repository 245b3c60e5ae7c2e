package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kilianp07/driverlink/api/session"
	"github.com/kilianp07/driverlink/app/plugins"
	"github.com/kilianp07/driverlink/config"
	"github.com/kilianp07/driverlink/core/journal"
	coremetrics "github.com/kilianp07/driverlink/core/metrics"
	coremon "github.com/kilianp07/driverlink/core/monitoring"
	"github.com/kilianp07/driverlink/core/peerstate"
	"github.com/kilianp07/driverlink/core/tracking"
	"github.com/kilianp07/driverlink/infra/httpapi"
	"github.com/kilianp07/driverlink/infra/logger"
	"github.com/kilianp07/driverlink/infra/metrics"
	"github.com/kilianp07/driverlink/infra/monitoring"
	"github.com/kilianp07/driverlink/infra/mqtt"
	"github.com/kilianp07/driverlink/infra/redis"
)

// Service owns the network connections of one agent session and the local
// HTTP endpoints.
type Service struct {
	Session *Session

	cfg     *config.Config
	mqtt    *mqtt.Client
	redis   *goredis.Client
	sink    coremetrics.MetricsSink
	monitor coremon.Monitor
	log     logger.Logger
}

// New connects to the broker and the backends described by cfg and assembles
// the session.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logger.Configure(cfg.Logging.Level, cfg.Logging.Console)
	logg := logger.ForAgent("service", cfg.Agent.ID)

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	svc := &Service{cfg: cfg, monitor: mon, log: logg}
	ok := false
	defer func() {
		if !ok {
			svc.release()
		}
	}()

	svc.mqtt, err = mqtt.NewClient(cfg.MQTT, logger.New("mqtt"))
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	locator, err := mqtt.NewLocator(ctx, svc.mqtt, logger.New("locator"))
	if err != nil {
		return nil, fmt.Errorf("locator: %w", err)
	}
	deps := plugins.Deps{
		MQTT:      svc.mqtt,
		Locator:   locator,
		WebSocket: cfg.Feed.WebSocket,
		Log:       logger.New("location"),
	}
	source, err := plugins.NewSource(cfg.Location, deps)
	if err != nil {
		return nil, fmt.Errorf("location source: %w", err)
	}
	deps.Log = logger.New("feed")
	transport, err := plugins.NewTransport(cfg.Feed.Transport, deps)
	if err != nil {
		return nil, fmt.Errorf("feed transport: %w", err)
	}

	rest, err := httpapi.NewClient(cfg.HTTP, cfg.Agent.ID, logger.New("httpapi"))
	if err != nil {
		return nil, fmt.Errorf("rest client: %w", err)
	}
	var telemetry tracking.TelemetryService = rest
	if cfg.Telemetry.Transport == config.TelemetryMQTT {
		telemetry = mqtt.NewTelemetryPublisher(svc.mqtt)
	}

	store, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	var peers peerstate.Store = peerstate.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		svc.redis, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		peers = redis.NewPeerStore(svc.redis, cfg.Redis.Prefix)
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	svc.sink = sink

	svc.Session = NewSession(Components{
		AgentID:        cfg.Agent.ID,
		Device:         cfg.Agent.Device(),
		ConnectionType: cfg.Agent.ConnectionType,
		Source:         source,
		Telemetry:      telemetry,
		Responder:      rest,
		Emergency:      rest,
		Transport:      transport,
		Journal:        store,
		Peers:          peers,
		Metrics:        sink,
		Monitor:        mon,
		Tracking:       cfg.Tracking,
		Offers:         cfg.Offers,
		EmergencyTimes: cfg.Emergency,
		Log:            logger.ForAgent("session", cfg.Agent.ID),
	})
	ok = true
	return svc, nil
}

// Run starts the local endpoints and the session, and blocks until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	defer s.monitor.Recover()
	var wg sync.WaitGroup
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.StartPromServer(ctx, addr, nil); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if addr := s.cfg.API.Addr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.serveAPI(ctx, addr); err != nil {
				s.log.Errorf("api server: %v", err)
			}
		}()
	}
	err := s.Session.Run(ctx)
	wg.Wait()
	return err
}

func (s *Service) serveAPI(ctx context.Context, addr string) error {
	mux := session.NewMux(s.Session.Snapshot, s.Session.Journal(), s.cfg.API.Token, s.cfg.API.JournalLimit)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api server shutdown: %v", err)
		}
	}()
	s.log.Infof("serving session api on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var err error
	if s.Session != nil {
		err = s.Session.Close()
	}
	s.release()
	s.monitor.Flush(2 * time.Second)
	return err
}

func (s *Service) release() {
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warnf("redis close: %v", err)
		}
	}
	if s.mqtt != nil {
		s.mqtt.Close()
	}
}
