package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transcribe_gateway/internal/queue"
	"transcribe_gateway/internal/utils"
)

// SettleFunc applies one settlement
type SettleFunc interface {
	Settle(ctx context.Context, req SettleRequest) (*SettleResult, error)
}

// ErrDeadLetterDisabled is returned when no dead letter queue is configured
var ErrDeadLetterDisabled = errors.New("dead letter queue not configured")

// errInterrupted marks a settlement handed back to the queue on shutdown
var errInterrupted = errors.New("settlement interrupted by shutdown")

// SettlementQueueWorker retries settlements that failed on a transient
// store error. Items that keep failing, or fail permanently, end up in the
// dead letter queue with the number of attempts made.
type SettlementQueueWorker struct {
	queue    queue.Queue[SettleRequest]
	dlq      queue.DeadLetterQueue[SettleRequest]
	settler  SettleFunc
	config   *queue.Config
	logger   *utils.Logger
	stopOnce sync.Once

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewSettlementQueueWorker creates a new settlement queue worker
func NewSettlementQueueWorker(q queue.Queue[SettleRequest], dlq queue.DeadLetterQueue[SettleRequest], settler SettleFunc, config *queue.Config) *SettlementQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("settlements")
	}

	return &SettlementQueueWorker{
		queue:       q,
		dlq:         dlq,
		settler:     settler,
		config:      config,
		logger:      utils.NewLogger("settlement-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *SettlementQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *SettlementQueueWorker) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.stoppedChan
	return nil
}

// Enqueue schedules a settlement for a later attempt
func (w *SettlementQueueWorker) Enqueue(ctx context.Context, req SettleRequest) error {
	return w.queue.Enqueue(ctx, req)
}

func (w *SettlementQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Settlement worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Settlement worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

func (w *SettlementQueueWorker) processBatch(ctx context.Context) {
	items, err := w.queue.Receive(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("Failed to dequeue settlements", "error", err)
		w.sleep(ctx, time.Second)
		return
	}

	if len(items) == 0 {
		return
	}

	w.logger.Debug("Processing settlement batch", "count", len(items))

	for i, item := range items {
		err := w.processItem(ctx, item)
		if errors.Is(err, errInterrupted) {
			for _, rest := range items[i+1:] {
				w.requeue(ctx, rest)
			}
			return
		}
		if err != nil {
			w.logger.Error("Failed to process settlement", "error", err)
		}
	}
}

// processItem settles one item with retries. A shutdown during a backoff
// puts the item back on the queue; only settlements that actually failed
// reach the dead letter queue.
func (w *SettlementQueueWorker) processItem(ctx context.Context, req SettleRequest) error {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying settlement", "job_id", req.JobID, "attempt", attempt, "backoff", backoff)
			if !w.sleep(ctx, backoff) {
				w.requeue(ctx, req)
				return errInterrupted
			}
		}

		attempts++
		result, err := w.settler.Settle(ctx, req)
		if err == nil {
			w.logger.Debug("Settlement processed", "job_id", req.JobID, "duplicate", result.Duplicate)
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
		w.logger.Warn("Settlement attempt failed", "job_id", req.JobID, "attempt", attempt, "error", err)
	}

	if w.dlq != nil {
		// The worker context may already be cancelled during shutdown.
		dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.dlq.Add(dlCtx, req, attempts, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "job_id", req.JobID, "error", err)
		} else {
			w.logger.Warn("Settlement moved to DLQ", "job_id", req.JobID, "attempts", attempts, "error", lastErr)
		}
	}

	if !IsRetryable(lastErr) {
		return lastErr
	}
	return fmt.Errorf("%w: %w", queue.ErrMaxRetriesExceeded, lastErr)
}

// requeue hands an unfinished settlement back to the queue
func (w *SettlementQueueWorker) requeue(ctx context.Context, req SettleRequest) {
	qCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.queue.Enqueue(qCtx, req); err != nil {
		w.logger.Error("Failed to requeue interrupted settlement", "job_id", req.JobID, "error", err)
		return
	}
	w.logger.Info("Requeued interrupted settlement", "job_id", req.JobID)
}

// sleep waits for d and reports false when interrupted
func (w *SettlementQueueWorker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	}
}

// GetQueueLength returns the current queue length
func (w *SettlementQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *SettlementQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetter[SettleRequest], error) {
	if w.dlq == nil {
		return nil, ErrDeadLetterDisabled
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a dead-lettered settlement
func (w *SettlementQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return ErrDeadLetterDisabled
	}

	entry, err := w.dlq.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := w.queue.Enqueue(ctx, entry.Item); err != nil {
		return fmt.Errorf("failed to re-enqueue item: %w", err)
	}

	if err := w.dlq.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to remove from DLQ: %w", err)
	}

	return nil
}
