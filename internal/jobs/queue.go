package jobs

import "sync"

// sendQueue is the global FIFO of pending recipients, shared across all
// jobs. It is unbounded: a continuous job may grow arbitrarily between
// dispatch ticks and enqueueing must never block a refresh.
//
// The signal channel (buffered, size 1) coalesces wakeups so the dispatch
// loop can wait without polling.
type sendQueue struct {
	mu     sync.Mutex
	items  []*Recipient
	signal chan struct{}
}

func newSendQueue() *sendQueue {
	return &sendQueue{
		items:  make([]*Recipient, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

func (q *sendQueue) enqueue(r *Recipient) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// tryDequeue pops the head without blocking.
func (q *sendQueue) tryDequeue() (*Recipient, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[0]
	// Nil out the slot so the backing array doesn't pin the recipient.
	q.items[0] = nil
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return r, true
}

// remove deletes a specific recipient wherever it sits in the queue.
// Used by cancellation; order of the remaining items is preserved.
func (q *sendQueue) remove(target *Recipient) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, r := range q.items {
		if r == target {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// drain empties the queue and returns what was pending.
func (q *sendQueue) drain() []*Recipient {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}

// wait returns the wakeup channel. After it fires, call tryDequeue; a
// single signal may cover several enqueues.
func (q *sendQueue) wait() <-chan struct{} { return q.signal }

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
