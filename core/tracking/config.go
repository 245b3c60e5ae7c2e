package tracking

import (
	"fmt"
	"time"
)

const (
	DefaultIdleInterval   = 30 * time.Second
	DefaultActiveInterval = 5 * time.Second
	DefaultBufferCapacity = 5
	defaultQueueSize      = 64
	defaultRecentSamples  = 20
	defaultRequestTimeout = 10 * time.Second
)

// Config holds the tracking cadence and delivery settings.
type Config struct {
	IdleIntervalSeconds      int `json:"idle_interval_seconds"`
	ActiveIntervalSeconds    int `json:"active_interval_seconds"`
	BufferCapacity           int `json:"buffer_capacity"`
	QueueSize                int `json:"queue_size"`
	RecentSamples            int `json:"recent_samples"`
	HeartbeatIntervalSeconds int `json:"heartbeat_interval_seconds"`
	RequestTimeoutSeconds    int `json:"request_timeout_seconds"`
}

// SetDefaults fills unset fields. A zero heartbeat interval disables heartbeats.
func (c *Config) SetDefaults() {
	if c.IdleIntervalSeconds <= 0 {
		c.IdleIntervalSeconds = int(DefaultIdleInterval / time.Second)
	}
	if c.ActiveIntervalSeconds <= 0 {
		c.ActiveIntervalSeconds = int(DefaultActiveInterval / time.Second)
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.RecentSamples <= 0 {
		c.RecentSamples = defaultRecentSamples
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = int(defaultRequestTimeout / time.Second)
	}
}

// Validate checks the cadence is coherent.
func (c Config) Validate() error {
	if c.ActiveIntervalSeconds > c.IdleIntervalSeconds {
		return fmt.Errorf("active interval %ds exceeds idle interval %ds", c.ActiveIntervalSeconds, c.IdleIntervalSeconds)
	}
	if c.HeartbeatIntervalSeconds < 0 {
		return fmt.Errorf("heartbeat interval must not be negative")
	}
	return nil
}

func (c Config) Throttle() Throttle {
	return Throttle{
		Idle:   time.Duration(c.IdleIntervalSeconds) * time.Second,
		Active: time.Duration(c.ActiveIntervalSeconds) * time.Second,
	}
}

func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
