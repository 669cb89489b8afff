package httpapi

import (
	"context"
	"net/http"
	"time"

	"transcribe_gateway/internal/utils"
)

const healthTimeout = 2 * time.Second

// handleHealth probes every registered dependency
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(d.Health))
	for name, checker := range d.Health {
		if err := checker.Health(ctx); err != nil {
			logger.Warn("Health check failed", "dependency", name, "error", err)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	utils.RespondWithJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}
