package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcribe_gateway/internal/auth"
	"transcribe_gateway/internal/config"
	"transcribe_gateway/internal/ratelimit"
)

func testConfig() *config.Config {
	return &config.Config{JWTSecret: []byte("middleware-test-secret")}
}

func TestUserJWTMiddleware(t *testing.T) {
	cfg := testConfig()
	token, _, err := auth.GenerateUserJWT("alice@example.com", time.Hour, cfg)
	require.NoError(t, err)

	var seen string
	handler := UserJWTMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/transcriptions/x", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "alice@example.com", seen)
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token+"x")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) AllowWithDetails(_ context.Context, key string, limit int) (bool, int, time.Time, error) {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return false, 0, time.Time{}, s.err
	}
	if s.allowed {
		return true, limit - 1, time.Now().Add(time.Minute), nil
	}
	return false, 0, time.Now().Add(30 * time.Second), nil
}

var _ ratelimit.Limiter = (*stubLimiter)(nil)

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })
	authed := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", nil)
		return req.WithContext(WithUserID(req.Context(), "alice"))
	}

	t.Run("allowed", func(t *testing.T) {
		limiter := &stubLimiter{allowed: true}
		w := httptest.NewRecorder()
		RateLimitMiddleware(limiter, 10, "submit", nil)(next).ServeHTTP(w, authed())

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, []string{"submit:alice"}, limiter.keys)
	})

	t.Run("denied", func(t *testing.T) {
		w := httptest.NewRecorder()
		RateLimitMiddleware(&stubLimiter{}, 10, "submit", nil)(next).ServeHTTP(w, authed())

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	})

	t.Run("limiter failure fails open", func(t *testing.T) {
		w := httptest.NewRecorder()
		RateLimitMiddleware(&stubLimiter{err: errors.New("redis down")}, 10, "submit", nil)(next).ServeHTTP(w, authed())
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		limiter := &stubLimiter{}
		w := httptest.NewRecorder()
		RateLimitMiddleware(limiter, 0, "submit", nil)(next).ServeHTTP(w, authed())
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Empty(t, limiter.keys)
	})
}
