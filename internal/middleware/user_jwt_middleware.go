package middleware

import (
	"context"
	"net/http"
	"strings"

	"transcribe_gateway/internal/auth"
	"transcribe_gateway/internal/config"
	"transcribe_gateway/internal/utils"
)

// Context keys for storing user authentication data
const (
	UserClaimsKey ContextKey = "userClaims"
	UserIDKey     ContextKey = "userID"
)

// UserJWTMiddleware validates end-user bearer tokens
func UserJWTMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}

			claims, err := auth.ValidateUserJWT(strings.TrimPrefix(authHeader, "Bearer "), cfg)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID retrieves the authenticated user id from the request context
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok && id != ""
}

// WithUserID returns a context carrying userID, as UserJWTMiddleware would
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
