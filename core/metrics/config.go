package metrics

import (
	"fmt"

	"github.com/kilianp07/driverlink/core/factory"
)

// Config lists the sinks session events are recorded to.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusAddr serves /metrics when set, e.g. ":9100". It needs a
	// prometheus sink.
	PrometheusAddr string `json:"prometheus_addr"`
}

// Enabled reports whether at least one sink is configured.
func (c Config) Enabled() bool { return len(c.Sinks) > 0 }

func (c Config) count(kind string) int {
	n := 0
	for _, s := range c.Sinks {
		if s.Type == kind {
			n++
		}
	}
	return n
}

// Validate rejects untyped sinks and a scrape address without a registry to
// serve.
func (c Config) Validate() error {
	for i, s := range c.Sinks {
		if s.Type == "" {
			return fmt.Errorf("metrics sink %d: type is required", i)
		}
	}
	switch n := c.count("prometheus"); {
	case n > 1:
		return fmt.Errorf("metrics: at most one prometheus sink, got %d", n)
	case n == 0 && c.PrometheusAddr != "":
		return fmt.Errorf("metrics: prometheus_addr set without a prometheus sink")
	}
	return nil
}
