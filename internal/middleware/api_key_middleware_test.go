package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcribe_gateway/internal/auth"
	"transcribe_gateway/internal/config"
)

func newTestKeyStore(t *testing.T) auth.APIKeyStore {
	t.Helper()
	store, err := auth.NewInMemoryAPIKeyStore([]config.ServiceKeyConfig{
		{Name: "worker", Key: "worker-key", Scope: "billing"},
		{Name: "ops", Key: "ops-key", Scope: "operator"},
	})
	require.NoError(t, err)
	return store
}

func okHandler(t *testing.T, wantName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		record, ok := GetAPIKeyRecord(r.Context())
		if assert.True(t, ok, "API key record not found in context") {
			assert.Equal(t, wantName, record.Name)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyMiddleware(t *testing.T) {
	store := newTestKeyStore(t)

	tests := []struct {
		name     string
		required auth.Scope
		header   string
		value    string
		wantName string
		want     int
	}{
		{name: "X-API-Key header", required: auth.ScopeBilling, header: "X-API-Key", value: "worker-key", wantName: "worker", want: http.StatusOK},
		{name: "bearer header", required: auth.ScopeBilling, header: "Authorization", value: "Bearer worker-key", wantName: "worker", want: http.StatusOK},
		{name: "operator covers billing", required: auth.ScopeBilling, header: "X-API-Key", value: "ops-key", wantName: "ops", want: http.StatusOK},
		{name: "billing cannot operate", required: auth.ScopeOperator, header: "X-API-Key", value: "worker-key", want: http.StatusForbidden},
		{name: "missing key", required: auth.ScopeBilling, want: http.StatusUnauthorized},
		{name: "invalid key", required: auth.ScopeBilling, header: "X-API-Key", value: "nope", want: http.StatusUnauthorized},
		{name: "basic auth is ignored", required: auth.ScopeBilling, header: "Authorization", value: "Basic d29ya2VyLWtleQ==", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := APIKeyMiddleware(store, tt.required)(okHandler(t, tt.wantName))
			req := httptest.NewRequest(http.MethodPost, "/v1/billing/resolve", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}
