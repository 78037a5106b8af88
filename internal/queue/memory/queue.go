// Package memory provides the in-process ingestion queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
// queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO of ingest items shared by many producers and workers.
//
// With capacity 0 the queue is unbounded and Enqueue never blocks; memory
// then grows with any backlog. With a positive capacity Enqueue blocks while
// the queue is full. Close stops new items but Dequeue keeps handing out
// what was already queued, so closing is a drain barrier.
type Queue struct {
	capacity int

	mu       sync.Mutex
	items    []ingest.Item
	head     int
	closed   bool
	notEmpty chan struct{}
	notFull  chan struct{}
	done     chan struct{}
}

// NewQueue creates a queue. capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		capacity: capacity,
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Enqueue appends an item, blocking while a bounded queue is full.
func (q *Queue) Enqueue(ctx context.Context, item ingest.Item) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.capacity == 0 || q.lenLocked() < q.capacity {
			q.items = append(q.items, item)
			q.broadcast(&q.notEmpty)
			q.mu.Unlock()
			return nil
		}
		wait := q.notFull
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("enqueue canceled: %w", ctx.Err())
		case <-wait:
		case <-q.done:
		}
	}
}

// Dequeue pops the oldest item, blocking while the queue is empty. After
// Close it returns ErrClosed once every queued item has been handed out.
func (q *Queue) Dequeue(ctx context.Context) (ingest.Item, error) {
	for {
		q.mu.Lock()
		if q.lenLocked() > 0 {
			item := q.items[q.head]
			q.items[q.head] = ingest.Item{}
			q.head++
			if q.head == len(q.items) {
				q.items = q.items[:0]
				q.head = 0
			} else if q.head > 1024 && q.head*2 > len(q.items) {
				q.items = append([]ingest.Item(nil), q.items[q.head:]...)
				q.head = 0
			}
			q.broadcast(&q.notFull)
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return ingest.Item{}, ErrClosed
		}
		wait := q.notEmpty
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ingest.Item{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		case <-q.done:
		}
	}
}

// Close stops accepting items and wakes every waiter. It is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Capacity returns the bound, 0 when unbounded.
func (q *Queue) Capacity() int { return q.capacity }

func (q *Queue) lenLocked() int {
	return len(q.items) - q.head
}

// broadcast wakes everyone waiting on *ch and arms a fresh channel.
func (q *Queue) broadcast(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}
