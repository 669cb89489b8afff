package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_EnqueueReceive(t *testing.T) {
	q := NewMemoryQueue[string](DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	require.NoError(t, q.Enqueue(ctx, "job-2"))

	items, err := q.Receive(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1", "job-2"}, items)
}

func TestMemoryQueue_Batches(t *testing.T) {
	q := NewMemoryQueue[int](DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(ctx, i))
	}

	items, err := q.Receive(ctx, 5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, items)

	items, err = q.Receive(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 7, 8, 9}, items)
}

func TestMemoryQueue_ReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue[string](DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	start := time.Now()
	items, err := q.Receive(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	items, err = q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryQueue_ReceiveWakesOnEnqueue(t *testing.T) {
	q := NewMemoryQueue[string](DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, "late")
	}()

	items, err := q.Receive(ctx, 10, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, items)
}

func TestMemoryQueue_Capacity(t *testing.T) {
	config := DefaultConfig("test")
	config.Capacity = 2
	q := NewMemoryQueue[int](config)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, 1))
	require.NoError(t, q.Enqueue(ctx, 2))
	assert.ErrorIs(t, q.Enqueue(ctx, 3), ErrQueueFull)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewMemoryQueue[int](DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, q.Enqueue(ctx, i))
			}
		}()
	}
	wg.Wait()

	total := 0
	for total < 100 {
		items, err := q.Receive(ctx, 50, 100*time.Millisecond)
		require.NoError(t, err)
		require.NotEmpty(t, items)
		total += len(items)
	}
	assert.Equal(t, 100, total)
}

func TestMemoryQueue_CloseDrainsBacklog(t *testing.T) {
	q := NewMemoryQueue[string](DefaultConfig("test"))
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "pending"))

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, "x"), ErrQueueClosed)

	items, err := q.Receive(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"pending"}, items)

	_, err = q.Receive(ctx, 10, time.Second)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryDeadLetterQueue_Lifecycle(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue[string]()
	defer dlq.Close()
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, "job-1", 4, errors.New("first failure")))
	require.NoError(t, dlq.Add(ctx, "job-2", 1, errors.New("second failure")))

	entries, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "job-1", entries[0].Item)
	assert.Equal(t, "first failure", entries[0].Error)
	assert.Equal(t, 4, entries[0].Attempts)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	got, err := dlq.Get(ctx, entries[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "job-2", got.Item)
	assert.Equal(t, 1, got.Attempts)

	require.NoError(t, dlq.Remove(ctx, entries[0].ID))
	assert.ErrorIs(t, dlq.Remove(ctx, entries[0].ID), ErrItemNotFound)
	_, err = dlq.Get(ctx, entries[0].ID)
	assert.ErrorIs(t, err, ErrItemNotFound)

	entries, err = dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryDeadLetterQueue_NilCause(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue[string]()
	ctx := context.Background()

	require.NotPanics(t, func() {
		require.NoError(t, dlq.Add(ctx, "job-1", 0, nil))
	})

	entries, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Error)
}

func TestMemoryDeadLetterQueue_Closed(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue[string]()
	require.NoError(t, dlq.Close())

	assert.ErrorIs(t, dlq.Add(context.Background(), "x", 1, errors.New("boom")), ErrQueueClosed)
	_, err := dlq.List(context.Background(), 0)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestNew_SelectsBackend(t *testing.T) {
	q, dlq, err := New[string](DefaultConfig("settlements"), nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue[string]{}, q)
	assert.IsType(t, &MemoryDeadLetterQueue[string]{}, dlq)

	config := DefaultConfig("settlements")
	config.UseRedis = true
	_, _, err = New[string](config, nil)
	assert.ErrorIs(t, err, ErrRedisRequired)
}
