package config

import (
	"fmt"

	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/infra/websocket"
)

// AgentConfig identifies the driver and the device running the session.
type AgentConfig struct {
	ID         string `json:"id"`
	DeviceID   string `json:"device_id"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version"`
	// ConnectionType is reported in emergency reports, e.g. "cellular".
	ConnectionType string `json:"connection_type"`
}

func (c *AgentConfig) SetDefaults() {
	if c.Platform == "" {
		c.Platform = "driverlink"
	}
}

func (c AgentConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	return nil
}

// Device returns the device details attached to emergency reports.
func (c AgentConfig) Device() model.DeviceInfo {
	return model.DeviceInfo{DeviceID: c.DeviceID, Platform: c.Platform, AppVersion: c.AppVersion}
}

const (
	FeedMQTT      = "mqtt"
	FeedWebSocket = "websocket"
)

// FeedConfig selects the realtime feed transport.
type FeedConfig struct {
	Transport string           `json:"transport"`
	WebSocket websocket.Config `json:"websocket"`
}

func (c *FeedConfig) SetDefaults() {
	if c.Transport == "" {
		c.Transport = FeedMQTT
	}
	if c.Transport == FeedWebSocket {
		c.WebSocket.SetDefaults()
	}
}

func (c FeedConfig) Validate() error {
	switch c.Transport {
	case FeedMQTT:
		return nil
	case FeedWebSocket:
		return c.WebSocket.Validate()
	default:
		return fmt.Errorf("unknown feed transport %q", c.Transport)
	}
}

// APIConfig configures the local HTTP endpoints exposing the session state.
// An empty Addr disables them.
type APIConfig struct {
	Addr  string `json:"addr"`
	Token string `json:"token"`
	// JournalLimit caps the records returned when a query sets no limit.
	JournalLimit int `json:"journal_limit"`
}

func (c *APIConfig) SetDefaults() {
	if c.JournalLimit <= 0 {
		c.JournalLimit = 100
	}
}
