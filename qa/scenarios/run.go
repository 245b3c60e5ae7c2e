package scenarios

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/driverlink/core/events"
	coremetrics "github.com/kilianp07/driverlink/core/metrics"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/core/tracking"
	"github.com/kilianp07/driverlink/infra/logger"
	"github.com/kilianp07/driverlink/infra/metrics"
	"github.com/kilianp07/driverlink/internal/eventbus"
)

var errOutage = errors.New("telemetry outage")

// outageService accepts or rejects requests according to the current step.
type outageService struct {
	mu         sync.Mutex
	failSingle bool
	failBatch  bool
	start      time.Time
	singles    []time.Duration
	batches    [][]time.Duration
	attempts   int
}

func (s *outageService) set(step Step) {
	s.mu.Lock()
	s.failSingle, s.failBatch = step.FailSingle, step.FailBatch
	s.mu.Unlock()
}

func (s *outageService) SendSingle(_ context.Context, _ string, p model.PositionSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSingle {
		return errOutage
	}
	s.singles = append(s.singles, p.CapturedAt.Sub(s.start))
	return nil
}

func (s *outageService) SendBatch(_ context.Context, _ string, ps []model.PositionSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failBatch {
		return errOutage
	}
	offsets := make([]time.Duration, len(ps))
	for i, p := range ps {
		offsets[i] = p.CapturedAt.Sub(s.start)
	}
	s.batches = append(s.batches, offsets)
	return nil
}

func (s *outageService) SetAvailability(context.Context, string, bool) error       { return nil }
func (s *outageService) Heartbeat(context.Context, string, float64, float64) error { return nil }

// RunScenario feeds the steps of sc to a fresh pipeline and checks the
// expectations. Sends are counted through a Prometheus sink as well.
func RunScenario(t *testing.T, sc *Scenario) {
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}
	bus := eventbus.New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	metrics.StartEventCollector(ctx, bus, sink, "qa")

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	svc := &outageService{start: start}
	p := tracking.NewPipeline(svc, sc.TrackingConfig(), bus, logger.NopLogger{})
	p.Begin("qa", start)
	if sc.Assignment != "" {
		p.SetAssignment(sc.Assignment)
	}
	for _, step := range sc.Steps {
		if step.Assign != nil {
			p.SetAssignment(*step.Assign)
		}
		svc.set(step)
		_ = p.Process(context.Background(), step.Reading(start))
	}

	snap := p.Snapshot()
	if !equalOffsets(svc.singles, sc.Expected.Singles) {
		t.Errorf("scenario %s expected singles %v, got %v", sc.Name, sc.Expected.Singles, svc.singles)
	}
	if len(svc.batches) != len(sc.Expected.Batches) {
		t.Fatalf("scenario %s expected %d batches, got %v", sc.Name, len(sc.Expected.Batches), svc.batches)
	}
	for i := range svc.batches {
		if !equalOffsets(svc.batches[i], sc.Expected.Batches[i]) {
			t.Errorf("scenario %s batch %d expected %v, got %v", sc.Name, i, sc.Expected.Batches[i], svc.batches[i])
		}
	}
	if svc.attempts != sc.Expected.BatchAttempts {
		t.Errorf("scenario %s expected %d batch attempts, got %d", sc.Name, sc.Expected.BatchAttempts, svc.attempts)
	}
	if snap.Pending != sc.Expected.Pending {
		t.Errorf("scenario %s expected %d pending, got %d", sc.Name, sc.Expected.Pending, snap.Pending)
	}
	if snap.Degraded != sc.Expected.Degraded {
		t.Errorf("scenario %s expected degraded=%v", sc.Name, sc.Expected.Degraded)
	}

	okSingles := float64(len(svc.singles))
	deadline := time.Now().Add(time.Second)
	for {
		got := requestCount(t, reg, string(events.SendSingle), coremetrics.ResultOK)
		if got == okSingles {
			break
		}
		if time.Now().After(deadline) {
			t.Errorf("scenario %s expected %v ok singles in metrics, got %v", sc.Name, okSingles, got)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func equalOffsets(got, want []time.Duration) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func requestCount(t *testing.T, g prometheus.Gatherer, kind, result string) float64 {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "driverlink_telemetry_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["kind"] == kind && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
