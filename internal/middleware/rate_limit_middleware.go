package middleware

import (
	"net/http"
	"strconv"
	"time"

	"transcribe_gateway/internal/metrics"
	"transcribe_gateway/internal/ratelimit"
	"transcribe_gateway/internal/utils"
)

// RateLimitMiddleware limits requests per authenticated user. It must run
// after UserJWTMiddleware. Limiter failures let the request through.
func RateLimitMiddleware(limiter ratelimit.Limiter, limit int, route string, m metrics.Recorder) func(http.Handler) http.Handler {
	logger := utils.NewLogger("rate-limit")
	if m == nil {
		m = metrics.Noop{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserID(r.Context())
			if !ok || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, resetAt, err := limiter.AllowWithDetails(r.Context(), route+":"+userID, limit)
			if err != nil {
				logger.Warn("Rate limiter unavailable; allowing request", "route", route, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !resetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			}

			if !allowed {
				m.RecordRateLimitHit(route)
				retryAfter := int(time.Until(resetAt).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				utils.RespondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
