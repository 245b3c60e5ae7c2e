package monitoring

import (
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/driverlink/config"
	coremon "github.com/kilianp07/driverlink/core/monitoring"
)

type captured struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captured) beforeSend(ev *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func TestNewSentryMonitor_EmptyDSN(t *testing.T) {
	m, err := NewSentryMonitor(config.SentryConfig{})
	require.NoError(t, err)
	assert.IsType(t, coremon.NopMonitor{}, m)
}

func TestSentryMonitor_CaptureWithTags(t *testing.T) {
	tr := &captured{}
	client, err := sentry.NewClient(sentry.ClientOptions{BeforeSend: tr.beforeSend})
	require.NoError(t, err)
	m := &sentryMonitor{hub: sentry.NewHub(client, sentry.NewScope())}

	m.CaptureException(errors.New("sos failed"), map[string]string{"agent_id": "drv-1"})
	m.CaptureMessage("feed offline", nil)
	m.CaptureException(nil, nil)
	m.CaptureMessage("", nil)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.events, 2)
	assert.Equal(t, "drv-1", tr.events[0].Tags["agent_id"])
	assert.Equal(t, "feed offline", tr.events[1].Message)
}
