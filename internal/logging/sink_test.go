package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]*AuditRecord
}

func (w *recordingWriter) WriteBatch(_ context.Context, records []*AuditRecord) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, records)
	return "key", nil
}

func (w *recordingWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func TestNoopSink(t *testing.T) {
	sink := NewNoopSink()
	assert.NoError(t, sink.Enqueue(&AuditRecord{JobID: "job-1"}))
	assert.NoError(t, sink.Shutdown(context.Background()))
}

func TestBufferedSink_FlushesOnSize(t *testing.T) {
	writer := &recordingWriter{}
	sink := NewBufferedSink(writer, S3SinkConfig{FlushSize: 5, FlushInterval: time.Hour})

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Enqueue(&AuditRecord{JobID: "job", ConsumedUnits: float64(i)}))
	}

	assert.Eventually(t, func() bool { return writer.total() == 5 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, sink.Shutdown(context.Background()))
}

func TestBufferedSink_FlushesOnShutdown(t *testing.T) {
	writer := &recordingWriter{}
	sink := NewBufferedSink(writer, S3SinkConfig{FlushSize: 100, FlushInterval: time.Hour})

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Enqueue(&AuditRecord{JobID: "job"}))
	}
	require.NoError(t, sink.Shutdown(context.Background()))

	assert.Equal(t, 3, writer.total())
	require.NoError(t, sink.Shutdown(context.Background()))
}

func TestBufferedSink_FlushesOnInterval(t *testing.T) {
	writer := &recordingWriter{}
	sink := NewBufferedSink(writer, S3SinkConfig{FlushSize: 100, FlushInterval: 50 * time.Millisecond})
	defer sink.Shutdown(context.Background())

	require.NoError(t, sink.Enqueue(&AuditRecord{JobID: "job"}))
	assert.Eventually(t, func() bool { return writer.total() == 1 }, 2*time.Second, 10*time.Millisecond)
}

type fakePutObject struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutObject) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Writer_WriteBatch(t *testing.T) {
	client := &fakePutObject{}
	w := NewS3WriterWithClient(client, "audit-bucket", "settlements/", "gateway-0")
	w.now = func() time.Time { return time.Date(2026, 10, 17, 14, 30, 22, 5, time.UTC) }

	consumed := 0.105
	key, err := w.WriteBatch(context.Background(), []*AuditRecord{
		{JobID: "job-1", Mode: "guest", UserID: "alice", ConsumedUnits: 10, CostUSD: 0.005, NewConsumed: &consumed},
		{JobID: "job-2", Mode: "team", UserID: "bob", TeamID: "t1", ConsumedUnits: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "settlements/2026/10/17/gateway-0-20261017-143022-5.jsonl", key)
	assert.Equal(t, "audit-bucket", *client.input.Bucket)

	scanner := bufio.NewScanner(bytes.NewReader(client.body))
	var lines []AuditRecord
	for scanner.Scan() {
		var rec AuditRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "job-1", lines[0].JobID)
	assert.Equal(t, "t1", lines[1].TeamID)
}

func TestS3Writer_EmptyBatch(t *testing.T) {
	client := &fakePutObject{}
	w := NewS3WriterWithClient(client, "b", "", "p")

	key, err := w.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Nil(t, client.input)
}

func TestS3Writer_UploadError(t *testing.T) {
	w := NewS3WriterWithClient(&fakePutObject{err: errors.New("access denied")}, "b", "", "p")

	_, err := w.WriteBatch(context.Background(), []*AuditRecord{{JobID: "job-1"}})
	assert.Error(t, err)
}
