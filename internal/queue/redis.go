package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a FIFO of JSON-encoded T kept in a Redis list. Payloads
// that no longer decode into T are moved aside to "<key>:malformed"
// instead of being handed to the consumer. The client is shared and owned
// by the caller.
type RedisQueue[T any] struct {
	client       *redis.Client
	key          string
	malformedKey string
}

// NewRedisQueue creates a new Redis-backed queue
func NewRedisQueue[T any](client *redis.Client, config *Config) *RedisQueue[T] {
	if config == nil {
		config = DefaultConfig("redis")
	}
	key := "queue:" + config.QueueName
	return &RedisQueue[T]{
		client:       client,
		key:          key,
		malformedKey: key + ":malformed",
	}
}

// Enqueue appends item to the list
func (q *RedisQueue[T]) Enqueue(ctx context.Context, item T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}
	return nil
}

// Receive blocks on the list for up to wait, then drains without blocking
func (q *RedisQueue[T]) Receive(ctx context.Context, maxItems int, wait time.Duration) ([]T, error) {
	if maxItems <= 0 {
		maxItems = 1
	}

	var first string
	if wait > 0 {
		res, err := q.client.BLPop(ctx, wait, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return []T{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop from Redis: %w", err)
		}
		// res[0] is the key
		first = res[1]
	} else {
		v, err := q.client.LPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return []T{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop from Redis: %w", err)
		}
		first = v
	}

	raw := []string{first}
	for len(raw) < maxItems {
		v, err := q.client.LPop(ctx, q.key).Result()
		if err != nil {
			break
		}
		raw = append(raw, v)
	}

	batch := make([]T, 0, len(raw))
	for _, payload := range raw {
		var item T
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			q.client.RPush(context.WithoutCancel(ctx), q.malformedKey, payload)
			continue
		}
		batch = append(batch, item)
	}
	return batch, nil
}

// Length returns the list length
func (q *RedisQueue[T]) Length(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(n), nil
}

// Close is a no-op; the shared client is closed by its owner
func (q *RedisQueue[T]) Close() error {
	return nil
}

// RedisDeadLetterQueue stores entries in a hash keyed by ID and keeps
// their failure order in a sorted set, so List pages without loading the
// whole hash.
type RedisDeadLetterQueue[T any] struct {
	client   *redis.Client
	key      string
	orderKey string
}

// NewRedisDeadLetterQueue creates a new Redis-backed dead letter queue
func NewRedisDeadLetterQueue[T any](client *redis.Client, config *Config) *RedisDeadLetterQueue[T] {
	if config == nil {
		config = DefaultConfig("redis")
	}
	key := "dlq:" + config.QueueName
	return &RedisDeadLetterQueue[T]{
		client:   client,
		key:      key,
		orderKey: key + ":order",
	}
}

// Add parks item with its attempt count and last error
func (q *RedisDeadLetterQueue[T]) Add(ctx context.Context, item T, attempts int, cause error) error {
	entry := newDeadLetter(item, attempts, cause)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key, entry.ID, data)
		pipe.ZAdd(ctx, q.orderKey, redis.Z{Score: float64(entry.FailedAt.UnixMicro()), Member: entry.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", err)
	}
	return nil
}

// List returns up to maxItems entries, oldest first
func (q *RedisDeadLetterQueue[T]) List(ctx context.Context, maxItems int) ([]DeadLetter[T], error) {
	stop := int64(-1)
	if maxItems > 0 {
		stop = int64(maxItems - 1)
	}
	ids, err := q.client.ZRange(ctx, q.orderKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	if len(ids) == 0 {
		return []DeadLetter[T]{}, nil
	}

	values, err := q.client.HMGet(ctx, q.key, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letters: %w", err)
	}

	entries := make([]DeadLetter[T], 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var entry DeadLetter[T]
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Get returns a single entry
func (q *RedisDeadLetterQueue[T]) Get(ctx context.Context, id string) (*DeadLetter[T], error) {
	data, err := q.client.HGet(ctx, q.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}

	var entry DeadLetter[T]
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode dead letter: %w", err)
	}
	return &entry, nil
}

// Remove drops one entry
func (q *RedisDeadLetterQueue[T]) Remove(ctx context.Context, id string) error {
	var deleted *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.HDel(ctx, q.key, id)
		pipe.ZRem(ctx, q.orderKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove from dead letter queue: %w", err)
	}
	if deleted.Val() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner
func (q *RedisDeadLetterQueue[T]) Close() error {
	return nil
}
