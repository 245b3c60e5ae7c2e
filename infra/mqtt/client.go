package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string          `json:"broker"`
	ClientID   string          `json:"client_id"`
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	UseTLS     bool            `json:"use_tls"`
	ClientCert string          `json:"client_cert"`
	ClientKey  string          `json:"client_key"`
	CABundle   string          `json:"ca_bundle"`
	AuthMethod string          `json:"auth_method"`
	QoS        map[string]byte `json:"qos"`
	LWTTopic   string          `json:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain"`
	MaxRetries int             `json:"max_retries"`
	BackoffMS  int             `json:"backoff_ms"`
	// TopicPrefix is prepended to every topic the session uses.
	TopicPrefix string `json:"topic_prefix"`
	// LocationTopic carries the device position stream (watch source).
	LocationTopic string `json:"location_topic"`
	// LocateTopic receives one-shot position requests; replies come back on
	// LocateTopic + "/reply".
	LocateTopic string      `json:"locate_topic"`
	TLSConfig   *tls.Config `json:"-"`
}

const defaultTopicPrefix = "driverlink"

// SetDefaults fills the topic layout.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = defaultTopicPrefix
	}
	if c.LocationTopic == "" {
		c.LocationTopic = c.TopicPrefix + "/device/location"
	}
	if c.LocateTopic == "" {
		c.LocateTopic = c.TopicPrefix + "/device/locate"
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("mqtt max_retries must be >= 0")
	}
	return nil
}

func (c Config) qos(key string) byte {
	if q, ok := c.QoS[key]; ok {
		return q
	}
	return 0
}

// pahoClient is the subset of paho.Client the session uses.
type pahoClient interface {
	IsConnected() bool
	IsConnectionOpen() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

type route struct {
	qos     byte
	handler paho.MessageHandler
}

// Client is one broker connection shared by the feed transport, the
// telemetry publisher and the location sources. Subscriptions registered
// through it are restored after every reconnect.
type Client struct {
	cli     pahoClient
	cfg     Config
	log     logger.Logger
	backoff time.Duration

	mu        sync.Mutex
	routes    map[string]route
	listeners []func(bool)
}

// NewClient connects to the broker.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if cfg.ClientID == "" {
		cfg.ClientID = "driverlink-" + uuid.NewString()
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:     cfg,
		log:     log,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
		routes:  make(map[string]route),
	}
	opts.OnConnect = func(pc paho.Client) {
		log.Infof("MQTT connected")
		c.resubscribe(pc)
		c.notify(true)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
		c.notify(false)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c.cli = newMQTTClient(opts)
	if token := c.cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("%w: mqtt connect: %v", model.ErrNetworkFailure, token.Error())
	}
	return c, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

// Config returns the effective configuration, defaults included.
func (c *Client) Config() Config { return c.cfg }

// Connected reports whether the broker connection is currently usable.
func (c *Client) Connected() bool { return c.cli.IsConnectionOpen() }

// OnStatus registers a connectivity listener. Listeners run on the paho
// callback goroutine and must not block.
func (c *Client) OnStatus(fn func(connected bool)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Client) notify(connected bool) {
	c.mu.Lock()
	ls := append(([]func(bool))(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range ls {
		fn(connected)
	}
}

func (c *Client) resubscribe(pc paho.Client) {
	c.mu.Lock()
	routes := make(map[string]route, len(c.routes))
	for t, r := range c.routes {
		routes[t] = r
	}
	c.mu.Unlock()
	for topic, r := range routes {
		if token := pc.Subscribe(topic, r.qos, r.handler); token.Wait() && token.Error() != nil {
			c.log.Errorf("subscribe %s: %v", topic, token.Error())
		}
	}
}

// Subscribe registers handler for topic. The route survives reconnects; when
// the client is offline the subscription is only recorded.
func (c *Client) Subscribe(ctx context.Context, topic, qosKey string, handler paho.MessageHandler) error {
	r := route{qos: c.cfg.qos(qosKey), handler: handler}
	c.mu.Lock()
	c.routes[topic] = r
	c.mu.Unlock()
	if !c.cli.IsConnectionOpen() {
		return nil
	}
	if err := wait(ctx, c.cli.Subscribe(topic, r.qos, handler)); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe drops the routes for topics.
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	c.mu.Lock()
	for _, t := range topics {
		delete(c.routes, t)
	}
	c.mu.Unlock()
	if !c.cli.IsConnectionOpen() {
		return nil
	}
	if err := wait(ctx, c.cli.Unsubscribe(topics...)); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// Publish sends payload, retrying with exponential backoff up to MaxRetries
// times. It fails fast with ErrNetworkFailure while the client is offline.
func (c *Client) Publish(ctx context.Context, topic, qosKey string, retained bool, payload []byte) error {
	qos := c.cfg.qos(qosKey)
	var publishErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if !c.cli.IsConnectionOpen() {
			return fmt.Errorf("%w: mqtt offline", model.ErrNetworkFailure)
		}
		publishErr = wait(ctx, c.cli.Publish(topic, qos, retained, payload))
		if publishErr == nil {
			c.log.Debugf("published %d bytes to %s", len(payload), topic)
			return nil
		}
		if errors.Is(publishErr, model.ErrRequestTimeout) {
			return publishErr
		}
		c.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", model.ErrRequestTimeout, ctx.Err())
		case <-time.After(c.backoff * time.Duration(1<<attempt)):
		}
	}
	return publishErr
}

// Close gracefully closes the MQTT connection.
func (c *Client) Close() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}

// wait blocks on a paho token and maps its outcome onto the error taxonomy.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %v", model.ErrNetworkFailure, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", model.ErrRequestTimeout, ctx.Err())
	}
}
