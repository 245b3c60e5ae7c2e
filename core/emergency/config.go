package emergency

import "time"

const (
	DefaultCountdown       = 3 * time.Second
	DefaultCooldown        = 30 * time.Second
	DefaultDoubleTapWindow = 500 * time.Millisecond
	DefaultFallback        = "Call emergency services directly"
	defaultFixTimeout      = 5 * time.Second
	defaultSubmitTimeout   = 15 * time.Second
	defaultTickInterval    = 100 * time.Millisecond
)

// Config holds the trigger timings and the incident defaults.
type Config struct {
	CountdownMillis       int    `json:"countdown_ms"`
	CooldownSeconds       int    `json:"cooldown_seconds"`
	DoubleTapWindowMillis int    `json:"double_tap_window_ms"`
	FixTimeoutSeconds     int    `json:"fix_timeout_seconds"`
	SubmitTimeoutSeconds  int    `json:"submit_timeout_seconds"`
	TickIntervalMillis    int    `json:"tick_interval_ms"`
	IncidentType          string `json:"incident_type"`
	Severity              string `json:"severity"`
	Fallback              string `json:"fallback"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.CountdownMillis <= 0 {
		c.CountdownMillis = int(DefaultCountdown / time.Millisecond)
	}
	if c.CooldownSeconds <= 0 {
		c.CooldownSeconds = int(DefaultCooldown / time.Second)
	}
	if c.DoubleTapWindowMillis <= 0 {
		c.DoubleTapWindowMillis = int(DefaultDoubleTapWindow / time.Millisecond)
	}
	if c.FixTimeoutSeconds <= 0 {
		c.FixTimeoutSeconds = int(defaultFixTimeout / time.Second)
	}
	if c.SubmitTimeoutSeconds <= 0 {
		c.SubmitTimeoutSeconds = int(defaultSubmitTimeout / time.Second)
	}
	if c.TickIntervalMillis <= 0 {
		c.TickIntervalMillis = int(defaultTickInterval / time.Millisecond)
	}
	if c.IncidentType == "" {
		c.IncidentType = "sos"
	}
	if c.Severity == "" {
		c.Severity = "critical"
	}
	if c.Fallback == "" {
		c.Fallback = DefaultFallback
	}
}

func (c Config) countdown() time.Duration {
	return time.Duration(c.CountdownMillis) * time.Millisecond
}

func (c Config) cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c Config) doubleTap() time.Duration {
	return time.Duration(c.DoubleTapWindowMillis) * time.Millisecond
}

func (c Config) fixTimeout() time.Duration {
	return time.Duration(c.FixTimeoutSeconds) * time.Second
}

func (c Config) submitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutSeconds) * time.Second
}

func (c Config) tick() time.Duration {
	return time.Duration(c.TickIntervalMillis) * time.Millisecond
}
