package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"transcribe_gateway/internal/utils"
)

const (
	defaultTimeout = 30 * time.Second

	defaultEngine   = "stable-whisper"
	defaultModel    = "ivrit-ai/whisper-large-v3-turbo-ct2"
	defaultLanguage = "he"

	// maxErrorBody bounds how much of an upstream error body is kept
	maxErrorBody = 2048
)

// HTTPClient implements Client against a RunPod-style serverless endpoint:
// POST {base}/run, GET {base}/status/{id}, GET {base}/health.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *utils.Logger
}

// NewHTTPClient creates a client for the endpoint at baseURL
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: utils.NewLogger("job-gateway"),
	}
}

// Submit starts a job and returns its upstream id
func (c *HTTPClient) Submit(ctx context.Context, credential string, spec Spec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]interface{}{"input": buildInput(spec)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var out struct {
		ID     string `json:"id"`
		Status Status `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/run", credential, body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("job gateway returned no job id")
	}

	c.logger.Debug("Job submitted", "job_id", out.ID, "status", out.Status)
	return out.ID, nil
}

// Poll fetches the job state. executionTime is reported in milliseconds
// and converted to seconds.
func (c *HTTPClient) Poll(ctx context.Context, credential, jobID string) (*JobStatus, error) {
	var out struct {
		ID            string          `json:"id"`
		Status        Status          `json:"status"`
		Output        json.RawMessage `json:"output"`
		Error         string          `json:"error"`
		ExecutionTime float64         `json:"executionTime"`
	}
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(jobID), credential, nil, &out); err != nil {
		return nil, err
	}

	status := &JobStatus{
		ID:     out.ID,
		Status: out.Status,
		Output: out.Output,
		Error:  out.Error,
	}
	if status.ID == "" {
		status.ID = jobID
	}
	if out.Status == StatusCompleted && out.ExecutionTime > 0 {
		status.ConsumedSeconds = out.ExecutionTime / 1000.0
	}
	return status, nil
}

// ValidateCredential checks that the endpoint accepts credential
func (c *HTTPClient) ValidateCredential(ctx context.Context, credential string) error {
	return c.do(ctx, http.MethodGet, "/health", credential, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path, credential string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+credential)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrInvalidCredential
	case resp.StatusCode == http.StatusNotFound:
		return ErrJobNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func buildInput(spec Spec) map[string]interface{} {
	if len(spec.Input) > 0 {
		return spec.Input
	}

	language := spec.Language
	if language == "" {
		language = defaultLanguage
	}
	diarize := true
	if spec.Diarize != nil {
		diarize = *spec.Diarize
	}

	return map[string]interface{}{
		"engine": defaultEngine,
		"model":  defaultModel,
		"transcribe_args": map[string]interface{}{
			"url":             spec.FileURL,
			"language":        language,
			"diarize":         diarize,
			"vad":             true,
			"word_timestamps": true,
		},
	}
}
