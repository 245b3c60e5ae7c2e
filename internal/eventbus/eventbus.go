package eventbus

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Event represents an arbitrary event passed on the bus.
type Event interface{}

// EventBus implements a simple publish/subscribe event bus. Slow subscribers
// miss events rather than blocking publishers.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Bus is the default EventBus implementation using fan-out channels.
type Bus struct {
	inner *TypedBus[Event]
}

// New creates a new Bus.
func New() *Bus { return &Bus{inner: NewTyped[Event]()} }

// Publish sends the event to all subscribers. Delivery is non-blocking.
func (b *Bus) Publish(e Event) { b.inner.Publish(e) }

// Subscribe registers a new subscriber and returns its channel.
func (b *Bus) Subscribe() <-chan Event { return b.inner.Subscribe() }

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub <-chan Event) { b.inner.Unsubscribe(sub) }

// Close closes all subscriber channels and clears the list.
func (b *Bus) Close() { b.inner.Close() }

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 { return b.inner.Dropped() }
