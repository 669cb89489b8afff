// Package queue buffers work for background workers. Two backends exist:
// an in-process buffer, lost on restart, and a Redis list that survives
// restarts and can be shared between replicas.
//
// Consumers receive items in batches, retry with exponential backoff and
// park items that keep failing in a dead-letter queue together with the
// number of attempts made and the last error, where an operator can
// inspect and re-enqueue them.
package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a FIFO of T shared by producers and one consumer loop
type Queue[T any] interface {
	// Enqueue appends item, failing with ErrQueueFull instead of blocking
	Enqueue(ctx context.Context, item T) error

	// Receive returns up to maxItems items, waiting at most wait for the
	// first one. An empty slice means nothing arrived in time.
	Receive(ctx context.Context, maxItems int, wait time.Duration) ([]T, error)

	Length(ctx context.Context) (int, error)

	Close() error
}

// DeadLetterQueue holds items that a worker gave up on
type DeadLetterQueue[T any] interface {
	// Add parks item after attempts tries; cause may be nil
	Add(ctx context.Context, item T, attempts int, cause error) error

	// List returns up to maxItems entries, oldest first; 0 means all
	List(ctx context.Context, maxItems int) ([]DeadLetter[T], error)

	// Get returns a single entry or ErrItemNotFound
	Get(ctx context.Context, id string) (*DeadLetter[T], error)

	// Remove deletes an entry or returns ErrItemNotFound
	Remove(ctx context.Context, id string) error

	Close() error
}

// DeadLetter is one parked item
type DeadLetter[T any] struct {
	ID       string    `json:"id"`
	Item     T         `json:"item"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

func newDeadLetter[T any](item T, attempts int, cause error) DeadLetter[T] {
	var msg string
	if cause != nil {
		msg = cause.Error()
	}
	return DeadLetter[T]{
		ID:       generateID(),
		Item:     item,
		Error:    msg,
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of items handed out per Receive
	BatchSize int

	// BatchTimeout is how long a consumer waits for the first item
	BatchTimeout time.Duration

	// Capacity bounds the memory backend; 0 means ten batches
	Capacity int

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled on every retry
	RetryBackoff time.Duration

	// UseRedis selects the Redis backend
	UseRedis bool

	// QueueName namespaces the Redis keys
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		UseRedis:     false,
		QueueName:    queueName,
	}
}

func (c *Config) capacity() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	if c.BatchSize > 0 {
		return c.BatchSize * 10
	}
	return 1000
}

// New builds a queue and its dead-letter queue for config. client is only
// used when config.UseRedis is set and must then be non-nil.
func New[T any](config *Config, client *redis.Client) (Queue[T], DeadLetterQueue[T], error) {
	if config == nil {
		config = DefaultConfig("default")
	}
	if !config.UseRedis {
		return NewMemoryQueue[T](config), NewMemoryDeadLetterQueue[T](), nil
	}
	if client == nil {
		return nil, nil, ErrRedisRequired
	}
	return NewRedisQueue[T](client, config), NewRedisDeadLetterQueue[T](client, config), nil
}
