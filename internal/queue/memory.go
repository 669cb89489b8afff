package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a bounded in-process FIFO. Items still buffered when the
// process exits are lost.
type MemoryQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool

	// ready holds a token while items may be waiting
	ready chan struct{}
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue[T any](config *Config) *MemoryQueue[T] {
	if config == nil {
		config = DefaultConfig("memory")
	}
	return &MemoryQueue[T]{
		capacity: config.capacity(),
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue appends item or fails with ErrQueueFull
func (q *MemoryQueue[T]) Enqueue(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, item)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Receive hands out up to maxItems buffered items. A closed queue is
// drained before it reports ErrQueueClosed.
func (q *MemoryQueue[T]) Receive(ctx context.Context, maxItems int, wait time.Duration) ([]T, error) {
	if maxItems <= 0 {
		maxItems = 1
	}

	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		batch, err := q.take(maxItems)
		if err != nil || len(batch) > 0 || deadline == nil {
			return batch, err
		}

		select {
		case <-q.ready:
		case <-deadline:
			return batch, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue[T]) take(maxItems int) ([]T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(maxItems, len(q.items))
	if n == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		return []T{}, nil
	}

	batch := make([]T, n)
	copy(batch, q.items)
	var zero T
	for i := 0; i < n; i++ {
		q.items[i] = zero
	}
	q.items = q.items[n:]

	// Leave a token for the rest of the backlog
	if len(q.items) > 0 && !q.closed {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return batch, nil
}

// Length returns the number of buffered items
func (q *MemoryQueue[T]) Length(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Close rejects further writes; buffered items can still be received
func (q *MemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ready)
	}
	return nil
}

// MemoryDeadLetterQueue keeps parked items in insertion order
type MemoryDeadLetterQueue[T any] struct {
	mu      sync.RWMutex
	entries []DeadLetter[T]
	closed  bool
}

// NewMemoryDeadLetterQueue creates a new in-memory dead letter queue
func NewMemoryDeadLetterQueue[T any]() *MemoryDeadLetterQueue[T] {
	return &MemoryDeadLetterQueue[T]{}
}

// Add parks item with its attempt count and last error
func (q *MemoryDeadLetterQueue[T]) Add(ctx context.Context, item T, attempts int, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.entries = append(q.entries, newDeadLetter(item, attempts, cause))
	return nil
}

// List returns up to maxItems entries, oldest first
func (q *MemoryDeadLetterQueue[T]) List(ctx context.Context, maxItems int) ([]DeadLetter[T], error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	n := len(q.entries)
	if maxItems > 0 {
		n = min(n, maxItems)
	}
	return append([]DeadLetter[T](nil), q.entries[:n]...), nil
}

// Get returns a copy of one entry
func (q *MemoryDeadLetterQueue[T]) Get(ctx context.Context, id string) (*DeadLetter[T], error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	if i := q.index(id); i >= 0 {
		entry := q.entries[i]
		return &entry, nil
	}
	return nil, ErrItemNotFound
}

// Remove drops one entry
func (q *MemoryDeadLetterQueue[T]) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	i := q.index(id)
	if i < 0 {
		return ErrItemNotFound
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return nil
}

func (q *MemoryDeadLetterQueue[T]) index(id string) int {
	for i := range q.entries {
		if q.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// Close discards every entry
func (q *MemoryDeadLetterQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.entries = nil
	return nil
}

func generateID() string {
	return uuid.NewString()
}
