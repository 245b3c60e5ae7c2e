// Package plugins maps configuration type names onto the concrete location
// sources and feed transports.
package plugins

import (
	"fmt"
	"sort"

	"github.com/kilianp07/driverlink/core/factory"
	"github.com/kilianp07/driverlink/core/feed"
	"github.com/kilianp07/driverlink/core/location"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/infra/mqtt"
	"github.com/kilianp07/driverlink/infra/websocket"
)

// Deps carries the shared connections a plugin may build on.
type Deps struct {
	MQTT      *mqtt.Client
	Locator   *mqtt.Locator
	WebSocket websocket.Config
	Log       logger.Logger
}

// SourceFactory builds a location source from a raw configuration map.
type SourceFactory func(conf map[string]any, deps Deps) (location.Source, error)

// TransportFactory builds a realtime feed transport.
type TransportFactory func(deps Deps) (feed.Transport, error)

var (
	Sources    = map[string]SourceFactory{}
	Transports = map[string]TransportFactory{}
)

func RegisterSource(name string, f SourceFactory)       { Sources[name] = f }
func RegisterTransport(name string, f TransportFactory) { Transports[name] = f }

// NewSource instantiates the source selected by cfg.Type.
func NewSource(cfg factory.ModuleConfig, deps Deps) (location.Source, error) {
	f, ok := Sources[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown location source %q (known: %v)", cfg.Type, names(Sources))
	}
	return f(cfg.Conf, deps)
}

// NewTransport instantiates the feed transport registered under name.
func NewTransport(name string, deps Deps) (feed.Transport, error) {
	f, ok := Transports[name]
	if !ok {
		return nil, fmt.Errorf("unknown feed transport %q (known: %v)", name, names(Transports))
	}
	return f(deps)
}

func names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
