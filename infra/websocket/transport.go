// Package websocket carries the realtime feed over a WebSocket connection. The
// server pushes feed envelopes as text frames; the client selects channels by
// sending a subscribe frame after every (re)connect.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/driverlink/core/feed"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
)

const writeTimeout = 10 * time.Second

var _ feed.Transport = (*Transport)(nil)

// Config defines the feed endpoint and connection timing.
type Config struct {
	URL   string `json:"url"`
	Token string `json:"token"`
	// PingIntervalSeconds spaces keepalive pings; the read deadline is twice
	// this value.
	PingIntervalSeconds     int `json:"ping_interval_seconds"`
	HandshakeTimeoutSeconds int `json:"handshake_timeout_seconds"`
	ReconnectMinMillis      int `json:"reconnect_min_ms"`
	ReconnectMaxMillis      int `json:"reconnect_max_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PingIntervalSeconds <= 0 {
		c.PingIntervalSeconds = 30
	}
	if c.HandshakeTimeoutSeconds <= 0 {
		c.HandshakeTimeoutSeconds = 10
	}
	if c.ReconnectMinMillis <= 0 {
		c.ReconnectMinMillis = 500
	}
	if c.ReconnectMaxMillis <= 0 {
		c.ReconnectMaxMillis = 30000
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("websocket url is required")
	}
	if c.ReconnectMaxMillis < c.ReconnectMinMillis {
		return fmt.Errorf("reconnect_max_ms must be >= reconnect_min_ms")
	}
	return nil
}

func (c Config) ping() time.Duration { return time.Duration(c.PingIntervalSeconds) * time.Second }

type subscribeFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// Transport implements feed.Transport with gorilla/websocket.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
	log    logger.Logger

	mu       sync.Mutex
	handler  feed.Handler
	channels []string
	conn     *websocket.Conn
	cancel   context.CancelFunc
	done     chan struct{}

	writeMu   sync.Mutex
	connected atomic.Bool
}

// NewTransport creates a Transport. Nothing is dialed until Connect.
func NewTransport(cfg Config, log logger.Logger) *Transport {
	cfg.SetDefaults()
	return &Transport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: time.Duration(cfg.HandshakeTimeoutSeconds) * time.Second,
		},
		log: log,
	}
}

// Connect dials the feed and keeps the connection alive until Close. Only the
// first dial is reported to the caller; later drops are redialed with
// exponential backoff.
func (t *Transport) Connect(ctx context.Context, h feed.Handler) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return model.ErrAlreadyStarted
	}
	t.handler = h
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	t.mu.Lock()
	t.cancel, t.done = cancel, done
	t.mu.Unlock()

	t.attach(conn)
	go t.run(runCtx, conn, done)
	return nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial feed: %v", model.ErrNetworkFailure, err)
	}
	return conn, nil
}

func (t *Transport) attach(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	chans := append([]string(nil), t.channels...)
	h := t.handler
	t.mu.Unlock()

	if err := t.subscribe(conn, chans); err != nil {
		t.log.Warnf("feed subscribe: %v", err)
	}
	t.connected.Store(true)
	t.log.Infof("feed connected to %s", t.cfg.URL)
	if h != nil {
		h.HandleStatus(true)
	}
}

func (t *Transport) detach(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	h := t.handler
	t.mu.Unlock()
	conn.Close()
	if t.connected.Swap(false) && h != nil {
		h.HandleStatus(false)
	}
}

func (t *Transport) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		t.serve(ctx, conn)
		t.detach(conn)
		if ctx.Err() != nil {
			return
		}
		t.log.Warnf("feed connection lost, redialing")
		if conn = t.redial(ctx); conn == nil {
			return
		}
		t.attach(conn)
	}
}

// serve reads frames until the connection fails.
func (t *Transport) serve(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go t.keepalive(ctx, conn, stop)

	deadline := 2 * t.cfg.ping()
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				t.log.Debugf("feed read: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h.HandleMessage(data)
		}
	}
}

// keepalive pings the server and closes conn once ctx is done, which unblocks
// the reader.
func (t *Transport) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.ping())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				t.log.Debugf("feed ping: %v", err)
				return
			}
		}
	}
}

func (t *Transport) redial(ctx context.Context) *websocket.Conn {
	delay := time.Duration(t.cfg.ReconnectMinMillis) * time.Millisecond
	ceiling := time.Duration(t.cfg.ReconnectMaxMillis) * time.Millisecond
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		conn, err := t.dial(ctx)
		if err == nil {
			return conn
		}
		t.log.Warnf("feed redial in %s: %v", delay, err)
		if delay *= 2; delay > ceiling {
			delay = ceiling
		}
	}
}

func (t *Transport) subscribe(conn *websocket.Conn, channels []string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(subscribeFrame{Type: "subscribe", Channels: channels})
}

// SetChannels records the channel set and, when connected, sends it to the
// server right away.
func (t *Transport) SetChannels(channels []string) error {
	t.mu.Lock()
	t.channels = append([]string(nil), channels...)
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := t.subscribe(conn, channels); err != nil {
		return fmt.Errorf("%w: %v", model.ErrNetworkFailure, err)
	}
	return nil
}

// Connected reports whether a connection is currently established.
func (t *Transport) Connected() bool { return t.connected.Load() }

// Close stops the redial loop and closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	cancel, done, conn := t.cancel, t.done, t.conn
	t.cancel, t.done, t.handler = nil, nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}
	<-done
	return nil
}
