package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcribe_gateway/internal/auth"
	"transcribe_gateway/internal/billing"
	"transcribe_gateway/internal/models"
)

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) asUser(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, _, err := auth.GenerateUserJWT(userID, time.Hour, s.cfg)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func service(key string) map[string]string {
	return map[string]string{"X-API-Key": key}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestResolve_GuestIssuesSingleUseHandle(t *testing.T) {
	s := newTestServer(t, guestSettings())

	w := s.do(t, http.MethodPost, "/v1/billing/resolve", map[string]string{"user_id": "alice@example.com"}, service(billingKey))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "guest", body["mode"])
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, 1.0, body["remaining"])
	assert.NotContains(t, w.Body.String(), sharedKey)

	handle, _ := body["credential_handle"].(string)
	require.NotEmpty(t, handle)

	w = s.do(t, http.MethodPost, "/v1/billing/credentials/redeem", map[string]string{"credential_handle": handle}, service(billingKey))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sharedKey, decode(t, w)["credential"])

	w = s.do(t, http.MethodPost, "/v1/billing/credentials/redeem", map[string]string{"credential_handle": handle}, service(billingKey))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolve_ExplicitModeDenied(t *testing.T) {
	s := newTestServer(t, guestSettings())

	w := s.do(t, http.MethodPost, "/v1/billing/resolve",
		map[string]string{"user_id": "alice@example.com", "mode": "personal"}, service(billingKey))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "personal", body["mode"])
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, string(billing.ReasonNoPersonalCredential), body["reason"])
	assert.NotEmpty(t, body["message"])
	assert.NotContains(t, body, "credential_handle")
}

func TestResolve_RequestErrors(t *testing.T) {
	s := newTestServer(t, guestSettings())

	tests := []struct {
		name    string
		body    interface{}
		headers map[string]string
		want    int
	}{
		{"missing key", map[string]string{"user_id": "a"}, nil, http.StatusUnauthorized},
		{"unknown key", map[string]string{"user_id": "a"}, service("nope"), http.StatusUnauthorized},
		{"unknown mode", map[string]string{"user_id": "a", "mode": "corporate"}, service(billingKey), http.StatusBadRequest},
		{"missing user", map[string]string{"mode": "guest"}, service(billingKey), http.StatusBadRequest},
		{"unknown field", map[string]string{"user_id": "a", "credential": "x"}, service(billingKey), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/billing/resolve", tt.body, tt.headers)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestResolve_GuestWithoutFallbackIsMisconfiguration(t *testing.T) {
	s := newTestServer(t, billing.DefaultSettings())

	w := s.do(t, http.MethodPost, "/v1/billing/resolve", map[string]string{"user_id": "alice@example.com"}, service(billingKey))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "billing_misconfigured", decode(t, w)["code"])
}

func TestSettle_GuestChargedOnce(t *testing.T) {
	s := newTestServer(t, guestSettings())
	req := map[string]interface{}{
		"job_id":         "job-42",
		"mode":           "guest",
		"user_id":        "alice@example.com",
		"consumed_units": 10,
	}

	w := s.do(t, http.MethodPost, "/v1/usage/settle", req, service(billingKey))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["duplicate"])
	assert.InDelta(t, 0.005, body["cost"], 1e-9)

	w = s.do(t, http.MethodPost, "/v1/usage/settle", req, service(billingKey))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["duplicate"])

	balance, err := s.ledger.GetUsage(context.Background(), models.UserPrincipal("alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 0.005, balance.Consumed)
}

func TestSettle_InvalidRequest(t *testing.T) {
	s := newTestServer(t, guestSettings())

	w := s.do(t, http.MethodPost, "/v1/usage/settle", map[string]interface{}{
		"job_id":         "job-1",
		"mode":           "guest",
		"user_id":        "alice@example.com",
		"consumed_units": -3,
	}, service(billingKey))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettle_UnknownTeamIsBadRequest(t *testing.T) {
	s := newTestServer(t, guestSettings())

	w := s.do(t, http.MethodPost, "/v1/usage/settle", map[string]interface{}{
		"job_id":         "job-7",
		"mode":           "team",
		"user_id":        "alice@example.com",
		"team_id":        "6f1c2b1e-3d4a-4b5c-8d9e-0f1a2b3c4d5e",
		"consumed_units": 12,
	}, service(billingKey))
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	length, err := s.deps.Settlements.(*billing.SettlementQueueWorker).GetQueueLength(context.Background())
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestSubmitAndPoll_SettlesOnCompletion(t *testing.T) {
	s := newTestServer(t, guestSettings())
	alice := s.asUser(t, "alice@example.com")

	w := s.do(t, http.MethodPost, "/v1/transcriptions", map[string]string{"file_url": "https://files.example.com/a.mp3"}, alice)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, "guest", body["billing_mode"])

	job, err := s.jobStore.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ModeGuest, job.Mode)
	assert.Equal(t, "alice@example.com", job.UserID)

	// Still running: nothing is settled
	w = s.do(t, http.MethodGet, "/v1/transcriptions/job-1", nil, alice)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode(t, w)["settled"])

	s.gateway.complete(10_000)

	w = s.do(t, http.MethodGet, "/v1/transcriptions/job-1", nil, alice)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Equal(t, true, body["settled"])
	assert.Equal(t, 10.0, body["consumed_seconds"])
	usage, _ := body["usage"].(map[string]interface{})
	require.NotNil(t, usage)
	assert.InDelta(t, 0.005, usage["cost_usd"], 1e-9)

	// A second poll does not charge again
	w = s.do(t, http.MethodGet, "/v1/transcriptions/job-1", nil, alice)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["settled"])
	assert.NotContains(t, body, "usage")

	balance, err := s.ledger.GetUsage(context.Background(), models.UserPrincipal("alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 0.005, balance.Consumed)

	for _, h := range s.gateway.seen() {
		assert.Equal(t, "Bearer "+sharedKey, h)
	}
}

func TestSubmit_PersonalCredentialUsed(t *testing.T) {
	s := newTestServer(t, guestSettings())
	s.credentials.secrets[models.UserPrincipal("bob@example.com").String()] = "bob-own-key"

	w := s.do(t, http.MethodPost, "/v1/transcriptions", map[string]string{"file_url": "https://files.example.com/b.mp3"}, s.asUser(t, "bob@example.com"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "personal", decode(t, w)["billing_mode"])
	assert.Equal(t, []string{"Bearer bob-own-key"}, s.gateway.seen())
}

func TestSubmit_Denied(t *testing.T) {
	s := newTestServer(t, guestSettings())

	w := s.do(t, http.MethodPost, "/v1/transcriptions",
		map[string]string{"file_url": "https://files.example.com/a.mp3", "mode": "personal"},
		s.asUser(t, "alice@example.com"))
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	body := decode(t, w)
	assert.Equal(t, string(billing.ReasonNoPersonalCredential), body["code"])
	assert.NotEmpty(t, body["message"])
	assert.Empty(t, s.gateway.seen(), "denied jobs never reach the gateway")
}

func TestSubmit_RequestErrors(t *testing.T) {
	s := newTestServer(t, guestSettings())

	w := s.do(t, http.MethodPost, "/v1/transcriptions", map[string]string{"file_url": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/v1/transcriptions", map[string]string{"language": "he"}, s.asUser(t, "alice@example.com"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatus_OtherUsersJobIsHidden(t *testing.T) {
	s := newTestServer(t, guestSettings())

	w := s.do(t, http.MethodPost, "/v1/transcriptions", map[string]string{"file_url": "https://files.example.com/a.mp3"}, s.asUser(t, "alice@example.com"))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(t, http.MethodGet, "/v1/transcriptions/job-1", nil, s.asUser(t, "mallory@example.com"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/v1/transcriptions/unknown", nil, s.asUser(t, "alice@example.com"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatus_PersonalCredentialRemoved(t *testing.T) {
	s := newTestServer(t, guestSettings())
	p := models.UserPrincipal("bob@example.com").String()
	s.credentials.secrets[p] = "bob-own-key"
	bob := s.asUser(t, "bob@example.com")

	w := s.do(t, http.MethodPost, "/v1/transcriptions", map[string]string{"file_url": "https://files.example.com/b.mp3"}, bob)
	require.Equal(t, http.StatusAccepted, w.Code)

	delete(s.credentials.secrets, p)
	w = s.do(t, http.MethodGet, "/v1/transcriptions/job-1", nil, bob)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPreferences(t *testing.T) {
	s := newTestServer(t, guestSettings())
	alice := s.asUser(t, "alice@example.com")

	w := s.do(t, http.MethodGet, "/v1/preferences", nil, alice)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPut, "/v1/preferences", map[string]string{"preferred_mode": "team"}, alice)
	assert.Equal(t, http.StatusBadRequest, w.Code, "team mode needs a team")

	w = s.do(t, http.MethodPut, "/v1/preferences",
		map[string]string{"preferred_mode": "guest", "active_team_id": "7f1c8f0e-7d44-4a4e-9b7e-1f2a3b4c5d6e"}, alice)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/v1/preferences",
		map[string]string{"preferred_mode": "team", "active_team_id": "7f1c8f0e-7d44-4a4e-9b7e-1f2a3b4c5d6e"}, alice)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/v1/preferences", nil, alice)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "team", body["preferred_mode"])
	assert.Equal(t, "7f1c8f0e-7d44-4a4e-9b7e-1f2a3b4c5d6e", body["active_team_id"])

	// The stored team does not exist, so resolution degrades to guest
	w = s.do(t, http.MethodPost, "/v1/billing/resolve", map[string]string{"user_id": "alice@example.com"}, service(billingKey))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "guest", decode(t, w)["mode"])
}

func TestDeadLetterEndpoints(t *testing.T) {
	s := newTestServer(t, guestSettings())

	w := s.do(t, http.MethodGet, "/v1/settlements/dead-letter", nil, service(billingKey))
	assert.Equal(t, http.StatusForbidden, w.Code, "billing keys cannot manage the dead letter queue")

	w = s.do(t, http.MethodGet, "/v1/settlements/dead-letter?limit=10", nil, service(operatorKey))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, decode(t, w)["count"])

	w = s.do(t, http.MethodGet, "/v1/settlements/dead-letter?limit=-1", nil, service(operatorKey))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/settlements/dead-letter/missing/retry", nil, service(operatorKey))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, guestSettings())

	w := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	s.deps.Health["redis"] = healthFunc(func(context.Context) error { return errors.New("connection refused") })
	w = s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	checks, _ := body["checks"].(map[string]interface{})
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, guestSettings())
	s.do(t, http.MethodPost, "/v1/billing/resolve", map[string]string{"user_id": "alice@example.com"}, service(billingKey))

	w := s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "httpapi_test_api_http_requests_total")
}
