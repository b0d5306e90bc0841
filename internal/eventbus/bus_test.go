package eventbus

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: SubscriberAdded, Data: "12345"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != SubscriberAdded {
				t.Fatalf("subscriber %d: type = %q, want %q", i, e.Type, SubscriberAdded)
			}
			if e.Data != "12345" {
				t.Fatalf("subscriber %d: data = %v, want %q", i, e.Data, "12345")
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d: time not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: event not delivered", i)
		}
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "first"})
	b.Publish(Event{Type: "second"})
	b.Publish(Event{Type: "third"})

	e := <-ch
	if e.Type != "first" {
		t.Fatalf("got %q, want the first event", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("expected overflow to be dropped, got %q", e.Type)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "late"})

	// Unsubscribe is idempotent.
	unsub()
}
