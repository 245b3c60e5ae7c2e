// Package scenarios replays YAML descriptions of reading sequences and
// telemetry outages against the tracking pipeline.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/core/tracking"
)

// Step is one reading, captured At after the scenario start.
type Step struct {
	At         time.Duration `yaml:"at"`
	FailSingle bool          `yaml:"fail_single,omitempty"`
	FailBatch  bool          `yaml:"fail_batch,omitempty"`
	// Assign changes the assignment before the reading; "" clears it.
	Assign *string `yaml:"assign,omitempty"`
}

type Expected struct {
	Singles       []time.Duration   `yaml:"singles"`
	Batches       [][]time.Duration `yaml:"batches"`
	BatchAttempts int               `yaml:"batch_attempts"`
	Pending       int               `yaml:"pending"`
	Degraded      bool              `yaml:"degraded"`
}

type Scenario struct {
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description,omitempty"`
	Assignment     string        `yaml:"assignment,omitempty"`
	IdleInterval   time.Duration `yaml:"idle_interval,omitempty"`
	ActiveInterval time.Duration `yaml:"active_interval,omitempty"`
	BufferCapacity int           `yaml:"buffer_capacity,omitempty"`
	Steps          []Step        `yaml:"steps"`
	Expected       Expected      `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario name is required", path)
	}
	return &sc, nil
}

// TrackingConfig returns the pipeline settings of the scenario, defaults
// applied.
func (sc Scenario) TrackingConfig() tracking.Config {
	cfg := tracking.Config{
		IdleIntervalSeconds:   int(sc.IdleInterval / time.Second),
		ActiveIntervalSeconds: int(sc.ActiveInterval / time.Second),
		BufferCapacity:        sc.BufferCapacity,
	}
	cfg.SetDefaults()
	return cfg
}

// Reading builds the sample of a step relative to start.
func (s Step) Reading(start time.Time) model.PositionSample {
	return model.PositionSample{
		Latitude:   48.8566 + s.At.Seconds()/1e5,
		Longitude:  2.3522,
		CapturedAt: start.Add(s.At),
	}
}
