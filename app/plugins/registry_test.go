package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/driverlink/core/factory"
	"github.com/kilianp07/driverlink/infra/logger"
	"github.com/kilianp07/driverlink/infra/websocket"
)

func TestBuiltinsRegistered(t *testing.T) {
	assert.Equal(t, []string{"poll", "watch"}, names(Sources))
	assert.Equal(t, []string{"mqtt", "websocket"}, names(Transports))
}

func TestUnknownTypes(t *testing.T) {
	_, err := NewSource(factory.ModuleConfig{Type: "gps-dongle"}, Deps{})
	assert.ErrorContains(t, err, "known: [poll watch]")
	_, err = NewTransport("carrier-pigeon", Deps{})
	assert.Error(t, err)
}

func TestSourcesNeedTheDeviceBridge(t *testing.T) {
	deps := Deps{Log: logger.NopLogger{}}
	_, err := NewSource(factory.ModuleConfig{Type: "watch"}, deps)
	assert.Error(t, err)
	_, err = NewSource(factory.ModuleConfig{Type: "poll", Conf: map[string]any{"interval": "2s"}}, deps)
	assert.Error(t, err)
	_, err = NewTransport("mqtt", deps)
	assert.Error(t, err)
}

func TestWebSocketTransport(t *testing.T) {
	_, err := NewTransport("websocket", Deps{Log: logger.NopLogger{}})
	assert.Error(t, err, "url is required")

	tr, err := NewTransport("websocket", Deps{
		WebSocket: websocket.Config{URL: "ws://localhost:1/feed"},
		Log:       logger.NopLogger{},
	})
	require.NoError(t, err)
	assert.IsType(t, &websocket.Transport{}, tr)
	assert.False(t, tr.Connected())
	require.NoError(t, tr.Close())
}
