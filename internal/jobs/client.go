// Package jobs talks to the serverless transcription endpoint. Every call
// carries the credential chosen by billing resolution, so the upstream
// provider bills the right account.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the upstream job state
type Status string

const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// Terminal reports whether the job will not change state again
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidCredential is returned when the upstream rejects the credential
	ErrInvalidCredential = errors.New("credential rejected by job gateway")

	// ErrJobNotFound is returned when the upstream does not know the job
	ErrJobNotFound = errors.New("job not found")
)

// UpstreamError carries a non-success upstream response
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("job gateway returned status %d: %s", e.StatusCode, e.Body)
}

// Spec describes a transcription job. Input, when set, is sent verbatim;
// otherwise a whisper job is built from FileURL.
type Spec struct {
	FileURL  string                 `json:"file_url,omitempty"`
	Language string                 `json:"language,omitempty"`
	Diarize  *bool                  `json:"diarize,omitempty"`
	Input    map[string]interface{} `json:"input,omitempty"`
}

// Validate checks that a job names something to transcribe
func (s Spec) Validate() error {
	if len(s.Input) == 0 && s.FileURL == "" {
		return errors.New("either file_url or input is required")
	}
	return nil
}

// JobStatus is a poll result
type JobStatus struct {
	ID     string          `json:"id"`
	Status Status          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`

	// ConsumedSeconds is the billed execution time, set once the job completes
	ConsumedSeconds float64 `json:"consumed_seconds"`
}

// Client submits and polls jobs
type Client interface {
	Submit(ctx context.Context, credential string, spec Spec) (string, error)
	Poll(ctx context.Context, credential, jobID string) (*JobStatus, error)
	ValidateCredential(ctx context.Context, credential string) error
}
