package mqtt

import (
	"context"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/driverlink/core/feed"
	"github.com/kilianp07/driverlink/core/logger"
)

const subscribeTimeout = 10 * time.Second

var _ feed.Transport = (*FeedTransport)(nil)

// ChannelTopic maps a feed channel such as "ride:r1" onto its topic,
// "<prefix>/feed/ride/r1".
func ChannelTopic(prefix, channel string) string {
	return prefix + "/feed/" + strings.Replace(channel, ":", "/", 1)
}

// FeedTransport carries the realtime feed over MQTT topics. Resubscription
// after a reconnect is handled by the shared Client.
type FeedTransport struct {
	client *Client
	prefix string
	log    logger.Logger

	mu       sync.Mutex
	handler  feed.Handler
	channels []string
	topics   map[string]bool
}

// NewFeedTransport builds a transport on top of an established client.
func NewFeedTransport(c *Client, log logger.Logger) *FeedTransport {
	t := &FeedTransport{
		client: c,
		prefix: c.Config().TopicPrefix,
		log:    log,
		topics: make(map[string]bool),
	}
	c.OnStatus(t.status)
	return t
}

// Connect attaches the handler and subscribes to the current channels.
func (t *FeedTransport) Connect(ctx context.Context, h feed.Handler) error {
	t.mu.Lock()
	t.handler = h
	chans := append([]string(nil), t.channels...)
	t.mu.Unlock()
	if err := t.apply(ctx, chans); err != nil {
		return err
	}
	h.HandleStatus(t.client.Connected())
	return nil
}

// SetChannels replaces the subscribed channels. Before Connect the list is
// only remembered.
func (t *FeedTransport) SetChannels(channels []string) error {
	t.mu.Lock()
	t.channels = append([]string(nil), channels...)
	attached := t.handler != nil
	t.mu.Unlock()
	if !attached {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	return t.apply(ctx, channels)
}

func (t *FeedTransport) apply(ctx context.Context, channels []string) error {
	want := make(map[string]bool, len(channels))
	for _, ch := range channels {
		want[ChannelTopic(t.prefix, ch)] = true
	}
	t.mu.Lock()
	var drop, add []string
	for topic := range t.topics {
		if !want[topic] {
			drop = append(drop, topic)
		}
	}
	for topic := range want {
		if !t.topics[topic] {
			add = append(add, topic)
		}
	}
	t.topics = want
	t.mu.Unlock()

	if err := t.client.Unsubscribe(ctx, drop...); err != nil {
		t.log.Warnf("feed unsubscribe: %v", err)
	}
	for _, topic := range add {
		if err := t.client.Subscribe(ctx, topic, "feed", t.onMessage); err != nil {
			return err
		}
		t.log.Debugf("feed subscribed to %s", topic)
	}
	return nil
}

// Connected reports broker connectivity.
func (t *FeedTransport) Connected() bool { return t.client.Connected() }

// Close drops every feed subscription. The shared client stays open.
func (t *FeedTransport) Close() error {
	t.mu.Lock()
	topics := make([]string, 0, len(t.topics))
	for topic := range t.topics {
		topics = append(topics, topic)
	}
	t.topics = make(map[string]bool)
	t.handler = nil
	t.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	return t.client.Unsubscribe(ctx, topics...)
}

func (t *FeedTransport) current() feed.Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

func (t *FeedTransport) onMessage(_ paho.Client, msg paho.Message) {
	if h := t.current(); h != nil {
		h.HandleMessage(msg.Payload())
	}
}

func (t *FeedTransport) status(connected bool) {
	if h := t.current(); h != nil {
		h.HandleStatus(connected)
	}
}
