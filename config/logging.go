package config

import (
	"fmt"
)

// LoggingConfig defines the process wide log output.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `json:"level"`
	// Console switches from JSON lines to the human readable writer.
	Console bool `json:"console"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks mandatory fields.
func (c LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %s", c.Level)
	}
}
