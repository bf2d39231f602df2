package queue

import (
	"context"
	"sync"

	"github.com/notifyhub/stargazer-relay/internal/domain"
)

// Queue is a FIFO of raw frames shared by the ingestion channel (single
// producer) and the worker pool (many consumers).
//
// With capacity 0 the queue is unbounded and Enqueue never fails. With a
// positive capacity a full queue rejects new frames instead of blocking the
// connection read loop.
//
// Every dequeued item must be acknowledged with Done; Join waits for all
// enqueued items to be acknowledged, which is how shutdown drains in-flight work.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	capacity int

	// ready holds at most one wake-up token for blocked consumers.
	ready chan struct{}

	unfinished int
	drained    chan struct{}
}

func New(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		drained:  make(chan struct{}),
	}
}

// Enqueue appends item to the tail. It never blocks; a full bounded queue
// returns domain.ErrQueueFull immediately.
func (q *Queue) Enqueue(item Item) error {
	q.mu.Lock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return domain.ErrQueueFull
	}
	q.items = append(q.items, item)
	q.unfinished++
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue blocks until an item is available or ctx is cancelled.
// Returns (Item{}, false) on cancellation.
func (q *Queue) Dequeue(ctx context.Context) (Item, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = Item{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			// Pass the token on so another idle consumer picks up the rest.
			if more {
				q.signal()
			}
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Item{}, false
		}
	}
}

// Done marks one previously dequeued item as fully processed.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		return
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.drained)
		q.drained = make(chan struct{})
	}
}

// Join blocks until every enqueued item has been marked Done, or ctx ends.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	if q.unfinished == 0 {
		q.mu.Unlock()
		return nil
	}
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of items waiting for a worker.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Unfinished returns waiting plus in-flight items.
func (q *Queue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
