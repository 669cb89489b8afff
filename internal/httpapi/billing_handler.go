package httpapi

import (
	"errors"
	"net/http"

	"transcribe_gateway/internal/billing"
	"transcribe_gateway/internal/models"
	"transcribe_gateway/internal/utils"
)

type resolveRequest struct {
	UserID    string `json:"user_id"`
	Mode      string `json:"mode,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

type resolveResponse struct {
	Mode             models.BillingMode `json:"mode"`
	Allowed          bool               `json:"allowed"`
	Reason           billing.Reason     `json:"reason,omitempty"`
	Message          string             `json:"message,omitempty"`
	CredentialHandle string             `json:"credential_handle,omitempty"`
	Remaining        *float64           `json:"remaining,omitempty"`
	TeamID           string             `json:"team_id,omitempty"`
	ProjectID        string             `json:"project_id,omitempty"`
}

type settleResponse struct {
	OK          bool     `json:"ok"`
	Duplicate   bool     `json:"duplicate"`
	Cost        float64  `json:"cost,omitempty"`
	NewConsumed *float64 `json:"new_consumed,omitempty"`
}

type redeemRequest struct {
	Handle string `json:"credential_handle"`
}

// handleResolve answers which billing source a request would use. The
// credential itself is replaced by a single-use handle.
func (d *Dependencies) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := models.ParseBillingMode(req.Mode)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	decision, err := d.Resolver.Resolve(r.Context(), billing.ResolveRequest{
		UserID:    req.UserID,
		Mode:      mode,
		TeamID:    req.TeamID,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		respondBillingError(w, err)
		return
	}

	resp := resolveResponse{
		Mode:      decision.Mode,
		Allowed:   decision.Allowed,
		Reason:    decision.Reason,
		Message:   decision.Message(),
		Remaining: decision.Remaining,
	}
	if decision.TeamID != nil {
		resp.TeamID = decision.TeamID.String()
	}
	if decision.ProjectID != nil {
		resp.ProjectID = decision.ProjectID.String()
	}
	if decision.Allowed {
		resp.CredentialHandle = d.Handles.Issue(decision.Credential())
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// handleRedeem exchanges a credential handle for the credential, once
func (d *Dependencies) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	secret, ok := d.Handles.Redeem(req.Handle)
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "credential handle is unknown, expired or already used")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"credential": secret})
}

// handleSettle applies the usage of a finished job
func (d *Dependencies) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req billing.SettleRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := d.Settler.Settle(r.Context(), req)
	if err != nil {
		respondBillingError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, settleResponse{
		OK:          true,
		Duplicate:   result.Duplicate,
		Cost:        result.Cost,
		NewConsumed: result.NewConsumed,
	})
}

// respondBillingError maps the billing error model onto HTTP statuses
func respondBillingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrInvalidSettlement):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case billing.IsFatal(err):
		logger.Error("Billing misconfiguration", "error", err)
		utils.RespondWithErrorCode(w, http.StatusInternalServerError, "billing_misconfigured", "Guest billing is not configured on this gateway")
	case billing.IsRetryable(err):
		logger.Warn("Billing store unavailable", "error", err)
		utils.RespondWithErrorCode(w, http.StatusServiceUnavailable, "store_unavailable", "Billing storage is temporarily unavailable, retry later")
	default:
		logger.Error("Billing request failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
	}
}
