package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"transcribe_gateway/internal/billing"
	"transcribe_gateway/internal/queue"
	"transcribe_gateway/internal/utils"
)

const (
	defaultDeadLetterPage = 50
	maxDeadLetterPage     = 500
)

// handleListDeadLetters lists settlements that exhausted their retries
func (d *Dependencies) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeadLetterPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDeadLetterPage)
	}

	items, err := d.Settlements.GetDeadLetterItems(r.Context(), limit)
	if err != nil {
		if errors.Is(err, billing.ErrDeadLetterDisabled) {
			utils.RespondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		logger.Error("Failed to list dead letter items", "error", err)
		utils.RespondWithError(w, http.StatusServiceUnavailable, "dead letter queue unavailable")
		return
	}
	if items == nil {
		items = []queue.DeadLetter[billing.SettleRequest]{}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// handleRetryDeadLetter moves one dead-lettered settlement back to the queue
func (d *Dependencies) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := d.Settlements.RetryDeadLetterItem(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, queue.ErrItemNotFound):
			utils.RespondWithError(w, http.StatusNotFound, "dead letter item not found")
		case errors.Is(err, billing.ErrDeadLetterDisabled):
			utils.RespondWithError(w, http.StatusNotFound, err.Error())
		default:
			logger.Error("Failed to retry dead letter item", "id", id, "error", err)
			utils.RespondWithError(w, http.StatusServiceUnavailable, "dead letter queue unavailable")
		}
		return
	}

	logger.Info("Dead letter settlement requeued", "id", id)
	utils.RespondWithJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "requeued"})
}
