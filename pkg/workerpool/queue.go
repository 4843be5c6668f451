package workerpool

import (
	"context"
	"errors"
)

// ErrQueueClosed is returned by blocking queue operations after Close.
var ErrQueueClosed = errors.New("queue closed")

// BoundedQueue is a fixed-capacity FIFO queue of work items.
type BoundedQueue struct {
	items chan *WorkItem
}

func NewBoundedQueue(capacity int) *BoundedQueue {
	if capacity < 1 {
		capacity = 1
	}

	return &BoundedQueue{
		items: make(chan *WorkItem, capacity),
	}
}

// TryEnqueue adds an item without blocking. It returns false when the queue
// is at capacity.
func (q *BoundedQueue) TryEnqueue(item *WorkItem) bool {
	select {
	case q.items <- item:
		return true
	default:
		return false
	}
}

// Enqueue adds an item, blocking until space is available or the context is
// done.
func (q *BoundedQueue) Enqueue(ctx context.Context, item *WorkItem) error {
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryDequeue removes the oldest item without blocking. It reports false when
// the queue is empty.
func (q *BoundedQueue) TryDequeue() (*WorkItem, bool) {
	select {
	case item := <-q.items:
		return item, true
	default:
		return nil, false
	}
}

// Dequeue removes the oldest item, blocking until one is available or the
// context is done.
func (q *BoundedQueue) Dequeue(ctx context.Context) (*WorkItem, error) {
	select {
	case item, ok := <-q.items:
		if !ok {
			return nil, ErrQueueClosed
		}

		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *BoundedQueue) Size() int {
	return len(q.items)
}

func (q *BoundedQueue) IsFull() bool {
	return len(q.items) == cap(q.items)
}

func (q *BoundedQueue) Capacity() int {
	return cap(q.items)
}
