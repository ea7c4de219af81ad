// Package queue provides the unbounded FIFO used for every channel between
// supervisor goroutines: per-worker command queues, the global event queue
// and the new-job signal queue. Producers never block.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Unbounded is a multi-producer FIFO with a blocking, cancellable Pop.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{} // size 1: "items may be available"
	done   chan struct{}
}

func New[T any]() *Unbounded[T] {
	return &Unbounded[T]{
		items:  make([]T, 0, 16),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v. It reports false when the queue is already closed.
func (q *Unbounded[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return true
}

// Pop removes the oldest item, blocking until one is available, the queue is
// closed and drained (ErrClosed) or ctx is done.
func (q *Unbounded[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close stops accepting items. Items already queued can still be popped.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued items.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Unbounded[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
