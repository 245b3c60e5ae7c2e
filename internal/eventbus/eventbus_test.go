package eventbus

import "testing"

type syncDegraded struct{ pending int }

type feedStatus struct{ connected bool }

func TestBusFansOutMixedEvents(t *testing.T) {
	bus := New()
	ui := bus.Subscribe()
	collector := bus.Subscribe()
	bus.Publish(feedStatus{connected: true})
	bus.Publish(syncDegraded{pending: 5})

	for _, ch := range []<-chan Event{ui, collector} {
		if ev, ok := (<-ch).(feedStatus); !ok || !ev.connected {
			t.Fatalf("expected feed status first, got %#v", ev)
		}
		if ev, ok := (<-ch).(syncDegraded); !ok || ev.pending != 5 {
			t.Fatalf("expected degraded sync second, got %#v", ev)
		}
	}
	bus.Unsubscribe(ui)
	bus.Unsubscribe(collector)
}

func TestBusCloseEndsSubscribers(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed")
	}
	// Publishing and subscribing after Close are harmless.
	bus.Publish(feedStatus{})
	if _, ok := <-bus.Subscribe(); ok {
		t.Fatalf("expected closed channel for late subscriber")
	}
	bus.Unsubscribe(ch)
}

func TestBusCountsDropsForSlowSubscriber(t *testing.T) {
	bus := New()
	slow := bus.Subscribe()
	for i := 0; i < DefaultBuffer+3; i++ {
		bus.Publish(syncDegraded{pending: i})
	}
	if bus.Dropped() != 3 {
		t.Fatalf("expected 3 dropped deliveries, got %d", bus.Dropped())
	}
	if ev := (<-slow).(syncDegraded); ev.pending != 0 {
		t.Fatalf("expected oldest event kept, got %d", ev.pending)
	}
}
