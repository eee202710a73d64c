// Package eventbus carries job lifecycle notifications to whoever wants
// them (the CLI renderer, tests, future integrations) without coupling the
// dispatch path to any of them.
package eventbus

import (
	"sync"
	"time"
)

// Type tags a lifecycle event.
type Type string

const (
	// TypeJobStarted fires when a job's first recipient is dispatched.
	TypeJobStarted Type = "job_started"
	// TypeSendSucceeded / TypeSendFailed fire per recipient resolution.
	TypeSendSucceeded Type = "send_succeeded"
	TypeSendFailed    Type = "send_failed"
	// TypeJobCompleted fires exactly once, when a job transitions to complete.
	TypeJobCompleted Type = "job_completed"
	// TypeRecipientsAdded fires when a refresh appends new recipients
	// to a continuous job.
	TypeRecipientsAdded Type = "recipients_added"
)

// Event is one lifecycle notification.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type  Type
	Time  time.Time
	JobID string

	// Nation is set on send_succeeded / send_failed.
	Nation string
	// Err is the failure text on send_failed.
	Err string
	// Nations is the new batch on recipients_added.
	Nations []string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
