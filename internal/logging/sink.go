package logging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"transcribe_gateway/internal/queue"
	"transcribe_gateway/internal/utils"
)

// AuditRecord describes one applied settlement. Credentials never appear here.
type AuditRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	JobID         string    `json:"job_id"`
	Mode          string    `json:"mode"`
	UserID        string    `json:"user_id"`
	TeamID        string    `json:"team_id,omitempty"`
	ProjectID     string    `json:"project_id,omitempty"`
	ConsumedUnits float64   `json:"consumed_units"`
	CostUSD       float64   `json:"cost_usd,omitempty"`

	// Balance after the settlement: guest dollars or member seconds
	NewConsumed *float64 `json:"new_consumed,omitempty"`
}

// Sink receives audit records from the settlement path
type Sink interface {
	Enqueue(rec *AuditRecord) error
	Shutdown(ctx context.Context) error
}

// NoopSink discards records
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *AuditRecord) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}

// BatchWriter persists a batch of records and returns where they went
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*AuditRecord) (string, error)
}

// S3SinkConfig configures the buffered S3 sink
type S3SinkConfig struct {
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

// DefaultS3SinkConfig returns sensible defaults for a bucket
func DefaultS3SinkConfig(bucket, region string) S3SinkConfig {
	return S3SinkConfig{
		BufferSize:    10000,
		FlushSize:     500,
		FlushInterval: time.Minute,
		S3Bucket:      bucket,
		S3Region:      region,
		S3Prefix:      "settlements/",
		PodName:       "gateway",
	}
}

// S3Sink buffers records in a memory queue and writes them in batches
type S3Sink struct {
	queue         queue.Queue[*AuditRecord]
	writer        BatchWriter
	flushSize     int
	flushInterval time.Duration
	logger        *utils.Logger

	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewS3Sink connects to S3 and starts the flush loop
func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (*S3Sink, error) {
	writer, err := NewS3Writer(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix, cfg.PodName)
	if err != nil {
		return nil, err
	}
	return NewBufferedSink(writer, cfg), nil
}

// NewBufferedSink starts a sink over any BatchWriter
func NewBufferedSink(writer BatchWriter, cfg S3SinkConfig) *S3Sink {
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.BufferSize < cfg.FlushSize {
		cfg.BufferSize = cfg.FlushSize * 10
	}

	qc := queue.DefaultConfig("audit")
	qc.BatchSize = cfg.FlushSize
	qc.BatchTimeout = cfg.FlushInterval
	qc.Capacity = cfg.BufferSize

	s := &S3Sink{
		queue:         queue.NewMemoryQueue[*AuditRecord](qc),
		writer:        writer,
		flushSize:     cfg.FlushSize,
		flushInterval: cfg.FlushInterval,
		logger:        utils.NewLogger("audit-sink"),
		stopChan:      make(chan struct{}),
		stoppedChan:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue buffers a record; a full buffer fails with queue.ErrQueueFull
func (s *S3Sink) Enqueue(rec *AuditRecord) error {
	if err := s.queue.Enqueue(context.Background(), rec); err != nil {
		return fmt.Errorf("failed to buffer audit record: %w", err)
	}
	return nil
}

// Shutdown flushes buffered records and stops the loop
func (s *S3Sink) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	select {
	case <-s.stoppedChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *S3Sink) run() {
	defer close(s.stoppedChan)

	batch := make([]*AuditRecord, 0, s.flushSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.writer.WriteBatch(ctx, batch); err != nil {
			s.logger.Error("Failed to write audit batch", "count", len(batch), "error", err)
		}
		batch = make([]*AuditRecord, 0, s.flushSize)
	}

	lastFlush := time.Now()
	for {
		select {
		case <-s.stopChan:
			s.drain(&batch)
			flush()
			s.queue.Close()
			return
		default:
		}

		wait := s.flushInterval - time.Since(lastFlush)
		if wait > 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		if wait <= 0 {
			wait = time.Millisecond
		}

		items, err := s.queue.Receive(context.Background(), s.flushSize-len(batch), wait)
		if err != nil {
			s.logger.Error("Failed to read audit buffer", "error", err)
			continue
		}
		batch = append(batch, items...)

		if len(batch) >= s.flushSize || time.Since(lastFlush) >= s.flushInterval {
			flush()
			lastFlush = time.Now()
		}
	}
}

func (s *S3Sink) drain(batch *[]*AuditRecord) {
	for {
		items, err := s.queue.Receive(context.Background(), s.flushSize, 0)
		if err != nil || len(items) == 0 {
			return
		}
		*batch = append(*batch, items...)
	}
}
