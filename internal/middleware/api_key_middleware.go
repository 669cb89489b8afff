package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"transcribe_gateway/internal/auth"
	"transcribe_gateway/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// APIKeyRecordKey is the context key for storing the authenticated API key record
	APIKeyRecordKey ContextKey = "apiKeyRecord"
)

// APIKeyMiddleware validates service API keys and adds the key record to the
// request context. Keys whose scope does not cover required get 403.
func APIKeyMiddleware(store auth.APIKeyStore, required auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract API key from header
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				// Try Authorization header with "Bearer" prefix
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					apiKey = strings.TrimPrefix(authHeader, "Bearer ")
				}
			}

			if apiKey == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing API key")
				return
			}

			keyRecord, err := store.Lookup(r.Context(), apiKey)
			if err != nil {
				if errors.Is(err, auth.ErrKeyNotFound) {
					utils.RespondWithError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				utils.RespondWithError(w, http.StatusInternalServerError, "Error validating API key")
				return
			}

			if !keyRecord.Allows(required) {
				utils.RespondWithError(w, http.StatusForbidden, "API key lacks the "+required.String()+" scope")
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyRecordKey, keyRecord)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKeyRecord retrieves the API key record from the request context
func GetAPIKeyRecord(ctx context.Context) (*auth.APIKeyRecord, bool) {
	record, ok := ctx.Value(APIKeyRecordKey).(*auth.APIKeyRecord)
	return record, ok
}
