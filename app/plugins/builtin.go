package plugins

import (
	"fmt"
	"time"

	"github.com/kilianp07/driverlink/core/factory"
	"github.com/kilianp07/driverlink/core/feed"
	"github.com/kilianp07/driverlink/core/location"
	"github.com/kilianp07/driverlink/infra/mqtt"
	"github.com/kilianp07/driverlink/infra/websocket"
)

func init() {
	RegisterSource("watch", func(_ map[string]any, d Deps) (location.Source, error) {
		if d.MQTT == nil || d.Locator == nil {
			return nil, fmt.Errorf("watch source requires the mqtt device bridge")
		}
		return mqtt.NewWatchSource(d.MQTT, d.Locator, d.Log), nil
	})
	RegisterSource("poll", func(conf map[string]any, d Deps) (location.Source, error) {
		if d.Locator == nil {
			return nil, fmt.Errorf("poll source requires a locator")
		}
		var c struct {
			Interval time.Duration `json:"interval"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return location.NewPollSource(d.Locator, c.Interval, d.Log), nil
	})

	RegisterTransport("mqtt", func(d Deps) (feed.Transport, error) {
		if d.MQTT == nil {
			return nil, fmt.Errorf("mqtt feed transport requires an mqtt client")
		}
		return mqtt.NewFeedTransport(d.MQTT, d.Log), nil
	})
	RegisterTransport("websocket", func(d Deps) (feed.Transport, error) {
		cfg := d.WebSocket
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return websocket.NewTransport(cfg, d.Log), nil
	})
}
