// Package eventqueue provides the unbounded, multi-producer queue that
// finishing node sessions use to notify the scheduler.
//
// Producers never block: a session that finished must be able to report it
// even when the scheduler is busy delivering results, otherwise a worker
// could stall while the scheduler waits on that same worker. The single
// consumer blocks in Pop until an event is available or its context ends.
package eventqueue

import (
	"context"
	"sync"
)

// Queue is a FIFO queue safe for concurrent Push calls.
type Queue[E any] struct {
	mu     sync.Mutex
	items  []E
	signal chan struct{}
}

// New creates an empty queue.
func New[E any]() *Queue[E] {
	return &Queue[E]{signal: make(chan struct{}, 1)}
}

// Push appends an event and wakes a waiting consumer.
func (q *Queue[E]) Push(e E) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryPop removes the oldest event if there is one.
func (q *Queue[E]) TryPop() (E, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero E
	if len(q.items) == 0 {
		return zero, false
	}
	e := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return e, true
}

// Pop blocks until an event is available or ctx is done.
func (q *Queue[E]) Pop(ctx context.Context) (E, error) {
	for {
		if e, ok := q.TryPop(); ok {
			return e, nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			var zero E
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued events.
func (q *Queue[E]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
