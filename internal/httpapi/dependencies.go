package httpapi

import (
	"context"
	"net/http"

	"transcribe_gateway/internal/auth"
	"transcribe_gateway/internal/billing"
	"transcribe_gateway/internal/jobs"
	"transcribe_gateway/internal/metrics"
	"transcribe_gateway/internal/models"
	"transcribe_gateway/internal/queue"
	"transcribe_gateway/internal/ratelimit"
	"transcribe_gateway/internal/vault"
)

// BillingResolver picks a billing source
type BillingResolver interface {
	Resolve(ctx context.Context, req billing.ResolveRequest) (*billing.Decision, error)
}

// UsageSettler applies usage exactly once per job
type UsageSettler interface {
	Settle(ctx context.Context, req billing.SettleRequest) (*billing.SettleResult, error)
}

// CredentialSource decrypts stored credentials
type CredentialSource interface {
	Retrieve(ctx context.Context, p models.Principal) (string, bool, error)
}

// JobStore records submitted jobs and their billing source
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	UpdateStatus(ctx context.Context, id, status string) error
	MarkSettled(ctx context.Context, id string, consumedSeconds float64) error
}

// PreferenceStore reads and writes user mode preferences
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (*models.UserModePreference, error)
	Upsert(ctx context.Context, pref *models.UserModePreference) error
}

// SettlementQueue defers failed settlements and exposes the dead letter queue
type SettlementQueue interface {
	Enqueue(ctx context.Context, req billing.SettleRequest) error
	GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetter[billing.SettleRequest], error)
	RetryDeadLetterItem(ctx context.Context, id string) error
}

// HealthChecker is a dependency probed by /health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// MetricsRecorder is a metrics.Recorder that can also serve its registry
type MetricsRecorder interface {
	metrics.Recorder
	Handler() http.Handler
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	APIKeys     auth.APIKeyStore
	Resolver    BillingResolver
	Settler     UsageSettler
	Credentials CredentialSource
	Handles     *vault.Handles
	Jobs        jobs.Client
	JobStore    JobStore
	Preferences PreferenceStore
	Settlements SettlementQueue
	RateLimit   ratelimit.Limiter
	Metrics     MetricsRecorder
	Settings    billing.Settings
	Health      map[string]HealthChecker

	// closers run in order on Shutdown
	closers []func(ctx context.Context) error
}

// Shutdown stops workers and closes connections
func (d *Dependencies) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, c := range d.closers {
		if err := c(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
