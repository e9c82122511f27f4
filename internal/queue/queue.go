package queue

import (
	"sync"
)

// Queue is a FIFO of pending commands shared by many producers and a single
// consumer. Ready delivers a wake-up whenever items are added.
type Queue struct {
	mu     sync.Mutex
	items  []*Pending
	closed bool
	ready  chan struct{}
}

func New() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends p and wakes the consumer.
func (q *Queue) Push(p *Pending) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, p)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the oldest pending request. It returns nil when the queue is
// empty.
func (q *Queue) Pop() *Pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return p
}

// Ready signals that Pop may return an item. A single signal can stand for
// several pushes, so consumers drain with Pop until it returns nil.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Depth returns the number of queued requests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// FailAll resolves every queued request with err and empties the queue.
func (q *Queue) FailAll(err error, status Status) int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, p := range items {
		p.Resolve(nil, err, status)
	}
	return len(items)
}

// Close stops the queue from accepting new requests. Queued items stay
// available to Pop.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Reopen lets a closed queue accept requests again.
func (q *Queue) Reopen() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// Abandon drops every queued request without resolving it.
func (q *Queue) Abandon() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
