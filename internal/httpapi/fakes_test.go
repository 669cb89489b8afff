package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"transcribe_gateway/internal/auth"
	"transcribe_gateway/internal/billing"
	"transcribe_gateway/internal/config"
	"transcribe_gateway/internal/jobs"
	"transcribe_gateway/internal/ledger"
	"transcribe_gateway/internal/metrics"
	"transcribe_gateway/internal/models"
	"transcribe_gateway/internal/queue"
	"transcribe_gateway/internal/ratelimit"
	"transcribe_gateway/internal/storage"
	"transcribe_gateway/internal/vault"
)

const (
	billingKey  = "svc-billing-key"
	operatorKey = "svc-operator-key"
	sharedKey   = "shared-guest-key"
)

type memoryCredentials struct {
	mu      sync.Mutex
	secrets map[string]string
}

func (m *memoryCredentials) Retrieve(_ context.Context, p models.Principal) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[p.String()]
	return s, ok, nil
}

// noTeams is a team directory and usage recorder for a user base without teams
type noTeams struct{}

func (noTeams) GetByID(context.Context, uuid.UUID) (*models.Team, error) {
	return nil, storage.ErrTeamNotFound
}

func (noTeams) GetMembership(context.Context, uuid.UUID, string) (*models.TeamMembership, error) {
	return nil, storage.ErrMembershipNotFound
}

func (noTeams) ListForMember(context.Context, string) ([]*models.Team, error) {
	return nil, nil
}

// RecordTeamUsage fails like the team foreign key would
func (noTeams) RecordTeamUsage(context.Context, *models.TeamUsageEvent) (*storage.TeamUsageResult, error) {
	return nil, fmt.Errorf("failed to insert usage event: %w", storage.ErrIntegrityViolation)
}

type memoryPreferences struct {
	mu    sync.Mutex
	prefs map[string]*models.UserModePreference
}

func (m *memoryPreferences) Get(_ context.Context, userID string) (*models.UserModePreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, storage.ErrPreferenceNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *memoryPreferences) Upsert(_ context.Context, pref *models.UserModePreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *pref
	copied.UpdatedAt = time.Now()
	m.prefs[pref.UserID] = &copied
	return nil
}

type memoryJobs struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func (m *memoryJobs) Create(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	copied.SubmittedAt = time.Now()
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memoryJobs) GetByID(_ context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	copied := *j
	return &copied, nil
}

func (m *memoryJobs) UpdateStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	j.Status = status
	return nil
}

func (m *memoryJobs) MarkSettled(_ context.Context, id string, consumedSeconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	now := time.Now()
	j.SettledAt = &now
	j.ConsumedSeconds = &consumedSeconds
	return nil
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

// fakeGateway is a RunPod-style upstream recording the credentials it sees
type fakeGateway struct {
	mu          sync.Mutex
	credentials []string
	status      jobs.Status
	executionMs float64
	server      *httptest.Server
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{status: jobs.StatusInProgress}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "IN_QUEUE"})
	})
	mux.HandleFunc("GET /status/{id}", func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		if r.PathValue("id") != "job-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":            "job-1",
			"status":        g.status,
			"executionTime": g.executionMs,
			"output":        map[string]string{"text": "shalom"},
		})
	})
	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) record(r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.credentials = append(g.credentials, r.Header.Get("Authorization"))
}

func (g *fakeGateway) complete(executionMs float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = jobs.StatusCompleted
	g.executionMs = executionMs
}

func (g *fakeGateway) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.credentials...)
}

type testServer struct {
	handler     http.Handler
	deps        *Dependencies
	cfg         *config.Config
	gateway     *fakeGateway
	ledger      *ledger.Ledger
	credentials *memoryCredentials
	jobStore    *memoryJobs
}

func newTestServer(t *testing.T, settings billing.Settings) *testServer {
	t.Helper()

	cfg := &config.Config{
		JWTSecret: []byte("httpapi-test-secret"),
		RateLimit: config.RateLimitConfig{SubmitPerMinute: 0},
	}
	gateway := newFakeGateway(t)

	apiKeys, err := auth.NewInMemoryAPIKeyStore([]config.ServiceKeyConfig{
		{Name: "worker", Key: billingKey, Scope: "billing"},
		{Name: "ops", Key: operatorKey, Scope: "operator"},
	})
	require.NoError(t, err)

	credentials := &memoryCredentials{secrets: make(map[string]string)}
	guestLedger := ledger.New(ledger.NewMemoryStore(), settings.DefaultGuestLimit)
	prefs := &memoryPreferences{prefs: make(map[string]*models.UserModePreference)}
	jobStore := &memoryJobs{jobs: make(map[string]*models.Job)}

	resolver := billing.NewResolver(settings, credentials, guestLedger, noTeams{}, prefs)
	settler := billing.NewSettler(settings, guestLedger, noTeams{}, billing.NewMemoryGuard())

	qcfg := queue.DefaultConfig("settlements-test")
	q, dlq, err := queue.New[billing.SettleRequest](qcfg, nil)
	require.NoError(t, err)
	worker := billing.NewSettlementQueueWorker(q, dlq, settler, qcfg)

	deps := &Dependencies{
		APIKeys:     apiKeys,
		Resolver:    resolver,
		Settler:     settler,
		Credentials: credentials,
		Handles:     vault.NewHandles(16, time.Minute),
		Jobs:        jobs.NewHTTPClient(gateway.server.URL, 5*time.Second),
		JobStore:    jobStore,
		Preferences: prefs,
		Settlements: worker,
		RateLimit:   ratelimit.NewNoopLimiter(),
		Metrics:     metrics.NewPrometheus("httpapi_test"),
		Settings:    settings,
		Health: map[string]HealthChecker{
			"database": healthFunc(func(context.Context) error { return nil }),
		},
	}

	return &testServer{
		handler:     Routes(deps, cfg),
		deps:        deps,
		cfg:         cfg,
		gateway:     gateway,
		ledger:      guestLedger,
		credentials: credentials,
		jobStore:    jobStore,
	}
}

func guestSettings() billing.Settings {
	s := billing.DefaultSettings()
	s.FallbackCredential = sharedKey
	return s
}
