package config

import "fmt"

const (
	TelemetryHTTP = "http"
	TelemetryMQTT = "mqtt"
)

// TelemetryConfig selects how position updates reach the telemetry service.
type TelemetryConfig struct {
	Transport string `json:"transport"`
}

func (c *TelemetryConfig) SetDefaults() {
	if c.Transport == "" {
		c.Transport = TelemetryHTTP
	}
}

func (c TelemetryConfig) Validate() error {
	if c.Transport != TelemetryHTTP && c.Transport != TelemetryMQTT {
		return fmt.Errorf("unknown telemetry transport %q", c.Transport)
	}
	return nil
}
