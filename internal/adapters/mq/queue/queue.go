// Package queue provides a bounded in-memory queue with non-blocking
// enqueue and channel-based dequeue.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/kudos/pkg/metrics"
)

const defaultCapacity = 10_000

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue[T any] interface {
	// Enqueue adds an item. Returns ErrFull or ErrClosed when the item was
	// not accepted.
	Enqueue(ctx context.Context, item T) error

	// Dequeue returns a channel receiving items as they become available.
	// The channel is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan T

	// Len returns the current number of queued items.
	Len(ctx context.Context) int

	// Close stops accepting items. Buffered items can still be dequeued.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	name     string
	items    chan T
	capacity int

	mu     sync.RWMutex
	closed bool
}

var _ Queue[int] = (*InMemoryQueue[int])(nil)

// NewInMemoryQueue creates a queue; the default capacity is 10000.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	o := options{name: "events", capacity: defaultCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	q := &InMemoryQueue[T]{
		name:     o.name,
		items:    make(chan T, o.capacity),
		capacity: o.capacity,
	}
	metrics.UpdateQueueCapacity(q.name, q.capacity)
	metrics.UpdateQueueSize(q.name, 0)
	return q
}

// Name returns the metrics label of the queue.
func (q *InMemoryQueue[T]) Name() string { return q.name }

// Enqueue adds an item without blocking.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError(q.name, "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError(q.name, "context_cancelled")
		return fmt.Errorf("enqueue: %w", err)
	}

	select {
	case q.items <- item:
		metrics.RecordQueueEnqueue(q.name)
		metrics.UpdateQueueSize(q.name, len(q.items))
		return nil
	default:
		metrics.RecordQueueEnqueueError(q.name, "full")
		return ErrFull
	}
}

// Dequeue returns a channel that receives items until the queue is closed
// and drained, or ctx is done. An item taken from the queue is always
// delivered, so the caller must keep receiving until the channel closes.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-q.items:
				if !ok {
					return
				}
				out <- item
				metrics.RecordQueueDequeue(q.name)
				metrics.UpdateQueueSize(q.name, len(q.items))
			}
		}
	}()
	return out
}

// Drain removes and returns the items still buffered, without blocking.
func (q *InMemoryQueue[T]) Drain() []T {
	var out []T
	for {
		select {
		case item, ok := <-q.items:
			if !ok {
				metrics.UpdateQueueSize(q.name, 0)
				return out
			}
			out = append(out, item)
		default:
			metrics.UpdateQueueSize(q.name, len(q.items))
			return out
		}
	}
}

// Len returns the current number of queued items.
func (q *InMemoryQueue[T]) Len(_ context.Context) int {
	return len(q.items)
}

// Close stops accepting items.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
