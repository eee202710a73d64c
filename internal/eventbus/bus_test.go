package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeJobStarted, JobID: "0"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Type != TypeJobStarted || ev.JobID != "0" {
				t.Fatalf("event = %+v", ev)
			}
			if ev.Time.IsZero() {
				t.Fatal("Publish should stamp a missing Time")
			}
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestPublishKeepsCallerTime(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	at := time.Unix(1700000000, 0)
	b.Publish(Event{Type: TypeSendSucceeded, Time: at})
	if ev := <-ch; !ev.Time.Equal(at) {
		t.Fatalf("time = %v, want %v", ev.Time, at)
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{JobID: "first"})
	b.Publish(Event{JobID: "dropped"}) // buffer full; must not block

	if ev := <-ch; ev.JobID != "first" {
		t.Fatalf("got %q, want first", ev.JobID)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event %+v", ev)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// Publishing after unsubscribe must not panic even though ch is closed.
	b.Publish(Event{Type: TypeJobCompleted})

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
}

func TestSubscribeDefaultBuffer(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	defer unsub()

	// A non-positive buffer falls back to a small buffered channel.
	b.Publish(Event{JobID: "x"})
	select {
	case <-ch:
	default:
		t.Fatal("default buffer should hold at least one event")
	}
}
