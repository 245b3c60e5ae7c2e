package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/infra/logger"
)

type feedServer struct {
	*httptest.Server
	conns  chan *websocket.Conn
	frames chan subscribeFrame
	auth   chan string
}

func newFeedServer(t *testing.T) *feedServer {
	fs := &feedServer{
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan subscribeFrame, 16),
		auth:   make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
		go func() {
			for {
				var f subscribeFrame
				if err := conn.ReadJSON(&f); err != nil {
					return
				}
				fs.frames <- f
			}
		}()
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) url() string { return "ws" + strings.TrimPrefix(fs.URL, "http") }

func (fs *feedServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func (fs *feedServer) nextFrame(t *testing.T) subscribeFrame {
	t.Helper()
	select {
	case f := <-fs.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe frame")
		return subscribeFrame{}
	}
}

type recordHandler struct {
	mu       sync.Mutex
	messages []string
	status   []bool
}

func (r *recordHandler) HandleMessage(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, string(p))
}

func (r *recordHandler) HandleStatus(c bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, c)
}

func (r *recordHandler) snapshot() ([]string, []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...), append([]bool(nil), r.status...)
}

func TestTransportSubscribesAndDelivers(t *testing.T) {
	fs := newFeedServer(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	tr := NewTransport(Config{URL: fs.url(), Token: "secret"}, logger.NopLogger{})
	require.NoError(t, tr.SetChannels([]string{"agent:drv-1"}))

	h := &recordHandler{}
	require.NoError(t, tr.Connect(context.Background(), h))
	assert.ErrorIs(t, tr.Connect(context.Background(), h), model.ErrAlreadyStarted)
	assert.Equal(t, "Bearer secret", <-fs.auth)
	server := fs.nextConn(t)
	assert.Equal(t, subscribeFrame{Type: "subscribe", Channels: []string{"agent:drv-1"}}, fs.nextFrame(t))
	assert.True(t, tr.Connected())

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"id":"e1"}`)))
	require.Eventually(t, func() bool {
		msgs, _ := h.snapshot()
		return len(msgs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, tr.SetChannels([]string{"agent:drv-1", "ride:r1"}))
	assert.Equal(t, []string{"agent:drv-1", "ride:r1"}, fs.nextFrame(t).Channels)

	require.NoError(t, tr.Close())
	assert.False(t, tr.Connected())
	server.Close()
}

func TestTransportRedialsAndResubscribes(t *testing.T) {
	fs := newFeedServer(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	tr := NewTransport(Config{URL: fs.url(), ReconnectMinMillis: 10, ReconnectMaxMillis: 50}, logger.NopLogger{})
	require.NoError(t, tr.SetChannels([]string{"agent:drv-1", "ride:r9"}))
	h := &recordHandler{}
	require.NoError(t, tr.Connect(context.Background(), h))

	first := fs.nextConn(t)
	fs.nextFrame(t)
	first.Close()

	second := fs.nextConn(t)
	assert.Equal(t, []string{"agent:drv-1", "ride:r9"}, fs.nextFrame(t).Channels)
	require.Eventually(t, func() bool {
		_, st := h.snapshot()
		return len(st) == 3
	}, 2*time.Second, 5*time.Millisecond)
	_, st := h.snapshot()
	assert.Equal(t, []bool{true, false, true}, st)

	require.NoError(t, tr.Close())
	second.Close()
}

func TestTransportInitialDialFailure(t *testing.T) {
	tr := NewTransport(Config{URL: "ws://127.0.0.1:1/feed", HandshakeTimeoutSeconds: 1}, logger.NopLogger{})
	err := tr.Connect(context.Background(), &recordHandler{})
	assert.ErrorIs(t, err, model.ErrNetworkFailure)
	assert.NoError(t, tr.Close())
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, 30, c.PingIntervalSeconds)
	assert.Equal(t, 500, c.ReconnectMinMillis)
	assert.Error(t, c.Validate())
	c.URL = "ws://x"
	assert.NoError(t, c.Validate())
}
