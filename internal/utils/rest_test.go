package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
	}{
		{name: "bad request", code: http.StatusBadRequest, message: "Invalid input"},
		{name: "unauthorized", code: http.StatusUnauthorized, message: "Authentication required"},
		{name: "payment required", code: http.StatusPaymentRequired, message: "guest_exhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondWithError(w, tt.code, tt.message)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.message, response.Error)
		})
	}
}

func TestRespondWithErrorCode(t *testing.T) {
	w := httptest.NewRecorder()
	RespondWithErrorCode(w, http.StatusPaymentRequired, "quota_exceeded", "ask the team owner to raise your quota")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "quota_exceeded", response.Code)
	assert.Equal(t, "ask the team owner to raise your quota", response.Message)
}

func TestRespondWithJSON(t *testing.T) {
	w := httptest.NewRecorder()
	payload := map[string]interface{}{"ok": true, "duplicate": false}

	err := RespondWithJSON(w, http.StatusOK, payload)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, false, got["duplicate"])
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		UserID string `json:"user_id"`
	}

	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"user_id":"a@b.c"}`))
		var b body
		require.NoError(t, DecodeJSON(r, &b))
		assert.Equal(t, "a@b.c", b.UserID)
	})

	t.Run("empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var b body
		err := DecodeJSON(r, &b)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("unknown field", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"user":"x"}`))
		var b body
		assert.Error(t, DecodeJSON(r, &b))
	})
}
