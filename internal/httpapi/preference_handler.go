package httpapi

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"transcribe_gateway/internal/middleware"
	"transcribe_gateway/internal/models"
	"transcribe_gateway/internal/storage"
	"transcribe_gateway/internal/utils"
)

type preferenceRequest struct {
	PreferredMode   string `json:"preferred_mode"`
	ActiveTeamID    string `json:"active_team_id,omitempty"`
	ActiveProjectID string `json:"active_project_id,omitempty"`
}

// handleGetPreference returns the stored billing preference of the caller
func (d *Dependencies) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	pref, err := d.Preferences.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrPreferenceNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "no billing preference stored")
			return
		}
		logger.Error("Failed to load preference", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusServiceUnavailable, "preference store unavailable")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, pref)
}

// handlePutPreference stores the caller's default billing source. A team
// preference names the team; team state is checked at resolve time.
func (d *Dependencies) handlePutPreference(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	var req preferenceRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	pref, err := buildPreference(userID, req)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := d.Preferences.Upsert(r.Context(), pref); err != nil {
		logger.Error("Failed to store preference", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusServiceUnavailable, "preference store unavailable")
		return
	}

	logger.Info("Billing preference updated", "user_id", userID, "mode", pref.PreferredMode)
	utils.RespondWithJSON(w, http.StatusOK, pref)
}

func buildPreference(userID string, req preferenceRequest) (*models.UserModePreference, error) {
	mode, err := models.ParseBillingMode(req.PreferredMode)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		return nil, errors.New("preferred_mode is required")
	}

	pref := &models.UserModePreference{UserID: userID, PreferredMode: mode}
	if mode != models.ModeTeam {
		if req.ActiveTeamID != "" || req.ActiveProjectID != "" {
			return nil, errors.New("active_team_id and active_project_id only apply to team mode")
		}
		return pref, nil
	}

	teamID, err := uuid.Parse(req.ActiveTeamID)
	if err != nil {
		return nil, errors.New("team mode requires a valid active_team_id")
	}
	pref.ActiveTeamID = &teamID
	if req.ActiveProjectID != "" {
		projectID, err := uuid.Parse(req.ActiveProjectID)
		if err != nil {
			return nil, errors.New("active_project_id is not a valid id")
		}
		pref.ActiveProjectID = &projectID
	}
	return pref, nil
}
