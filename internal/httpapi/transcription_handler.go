package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"transcribe_gateway/internal/billing"
	"transcribe_gateway/internal/jobs"
	"transcribe_gateway/internal/middleware"
	"transcribe_gateway/internal/models"
	"transcribe_gateway/internal/storage"
	"transcribe_gateway/internal/utils"
)

type submitRequest struct {
	Mode      string `json:"mode,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	jobs.Spec
}

type submitResponse struct {
	JobID       string             `json:"job_id"`
	Status      jobs.Status        `json:"status"`
	BillingMode models.BillingMode `json:"billing_mode"`
	TeamID      string             `json:"team_id,omitempty"`
	ProjectID   string             `json:"project_id,omitempty"`
	Remaining   *float64           `json:"remaining,omitempty"`
}

type usageSummary struct {
	Duplicate   bool     `json:"duplicate"`
	Cost        float64  `json:"cost_usd,omitempty"`
	NewConsumed *float64 `json:"new_consumed,omitempty"`
	Pending     bool     `json:"pending,omitempty"`
}

type statusResponse struct {
	JobID           string             `json:"job_id"`
	Status          jobs.Status        `json:"status"`
	BillingMode     models.BillingMode `json:"billing_mode"`
	TeamID          string             `json:"team_id,omitempty"`
	Output          json.RawMessage    `json:"output,omitempty"`
	Error           string             `json:"error,omitempty"`
	ConsumedSeconds float64            `json:"consumed_seconds,omitempty"`
	Settled         bool               `json:"settled"`
	Usage           *usageSummary      `json:"usage,omitempty"`
}

// handleSubmit resolves billing for the user and submits the job with the
// resolved credential.
//
// Flow:
//  1. Decode the job and the optional billing overrides
//  2. Resolve the billing source; a denial is a 402 with the reason
//  3. Submit upstream with the resolved credential
//  4. Record the job with its billing source for settlement
func (d *Dependencies) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	var req submitRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Spec.Validate(); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := models.ParseBillingMode(req.Mode)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := d.Resolver.Resolve(ctx, billing.ResolveRequest{
		UserID:    userID,
		Mode:      mode,
		TeamID:    req.TeamID,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		respondBillingError(w, err)
		return
	}
	if !decision.Allowed {
		logger.Debug("Billing denied", "user_id", userID, "mode", decision.Mode, "reason", decision.Reason)
		utils.RespondWithErrorCode(w, http.StatusPaymentRequired, string(decision.Reason), decision.Message())
		return
	}

	jobID, err := d.Jobs.Submit(ctx, decision.Credential(), req.Spec)
	if err != nil {
		respondJobGatewayError(w, err, decision.Mode)
		return
	}

	job := &models.Job{
		ID:        jobID,
		UserID:    userID,
		Mode:      decision.Mode,
		TeamID:    decision.TeamID,
		ProjectID: decision.ProjectID,
		Status:    string(jobs.StatusInQueue),
	}
	if err := d.JobStore.Create(ctx, job); err != nil {
		// The job runs upstream regardless; without the record it cannot be settled.
		logger.Error("Failed to record submitted job", "job_id", jobID, "user_id", userID, "mode", decision.Mode, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "job submitted but could not be recorded")
		return
	}

	logger.Info("Job submitted", "job_id", jobID, "user_id", userID, "mode", decision.Mode)

	resp := submitResponse{
		JobID:       jobID,
		Status:      jobs.StatusInQueue,
		BillingMode: decision.Mode,
		Remaining:   decision.Remaining,
	}
	if decision.TeamID != nil {
		resp.TeamID = decision.TeamID.String()
	}
	if decision.ProjectID != nil {
		resp.ProjectID = decision.ProjectID.String()
	}
	utils.RespondWithJSON(w, http.StatusAccepted, resp)
}

// handleStatus polls the job with the credential of its recorded billing
// source and settles it once it completes.
func (d *Dependencies) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	job, err := d.JobStore.GetByID(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "job not found")
			return
		}
		logger.Error("Failed to load job", "job_id", r.PathValue("id"), "error", err)
		utils.RespondWithError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	if job.UserID != userID {
		utils.RespondWithError(w, http.StatusNotFound, "job not found")
		return
	}

	credential, err := d.credentialFor(ctx, job)
	if err != nil {
		logger.Warn("No credential for recorded billing source", "job_id", job.ID, "mode", job.Mode, "error", err)
		utils.RespondWithError(w, http.StatusConflict, "the billing source used for this job no longer has a usable credential")
		return
	}

	status, err := d.Jobs.Poll(ctx, credential, job.ID)
	if err != nil {
		respondJobGatewayError(w, err, job.Mode)
		return
	}

	if string(status.Status) != job.Status {
		if err := d.JobStore.UpdateStatus(ctx, job.ID, string(status.Status)); err != nil {
			logger.Warn("Failed to update job status", "job_id", job.ID, "error", err)
		}
	}

	resp := statusResponse{
		JobID:           job.ID,
		Status:          status.Status,
		BillingMode:     job.Mode,
		Output:          status.Output,
		Error:           status.Error,
		ConsumedSeconds: status.ConsumedSeconds,
		Settled:         job.SettledAt != nil,
	}
	if job.TeamID != nil {
		resp.TeamID = job.TeamID.String()
	}

	if status.Status == jobs.StatusCompleted && job.SettledAt == nil {
		resp.Usage = d.settleJob(ctx, job, status.ConsumedSeconds)
		resp.Settled = resp.Usage != nil && !resp.Usage.Pending
	}

	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// settleJob settles a completed job. Retryable failures are queued for the
// settlement worker and reported as pending.
func (d *Dependencies) settleJob(ctx context.Context, job *models.Job, seconds float64) *usageSummary {
	req := billing.SettleRequest{
		JobID:         job.ID,
		Mode:          job.Mode,
		UserID:        job.UserID,
		ConsumedUnits: seconds,
	}
	if job.TeamID != nil {
		req.TeamID = job.TeamID.String()
	}
	if job.ProjectID != nil {
		req.ProjectID = job.ProjectID.String()
	}

	result, err := d.Settler.Settle(ctx, req)
	if err != nil {
		if billing.IsRetryable(err) && d.Settlements != nil {
			qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if qerr := d.Settlements.Enqueue(qctx, req); qerr != nil {
				logger.Error("Failed to queue settlement", "job_id", job.ID, "error", qerr)
			}
		} else {
			logger.Error("Settlement failed", "job_id", job.ID, "mode", job.Mode, "error", err)
		}
		return &usageSummary{Pending: true}
	}

	if err := d.JobStore.MarkSettled(ctx, job.ID, seconds); err != nil {
		logger.Warn("Failed to mark job settled", "job_id", job.ID, "error", err)
	}
	return &usageSummary{
		Duplicate:   result.Duplicate,
		Cost:        result.Cost,
		NewConsumed: result.NewConsumed,
	}
}

// credentialFor returns the credential of the billing source a job was
// submitted under
func (d *Dependencies) credentialFor(ctx context.Context, job *models.Job) (string, error) {
	switch job.Mode {
	case models.ModeGuest:
		if d.Settings.FallbackCredential == "" {
			return "", billing.ErrNoFallbackCredential
		}
		return d.Settings.FallbackCredential, nil
	case models.ModePersonal:
		return d.retrieve(ctx, models.UserPrincipal(job.UserID))
	case models.ModeTeam:
		if job.TeamID == nil {
			return "", errors.New("team job without team id")
		}
		return d.retrieve(ctx, models.TeamPrincipal(job.TeamID.String()))
	default:
		return "", errors.New("unknown billing mode " + string(job.Mode))
	}
}

func (d *Dependencies) retrieve(ctx context.Context, p models.Principal) (string, error) {
	secret, ok, err := d.Credentials.Retrieve(ctx, p)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", storage.ErrCredentialNotFound
	}
	return secret, nil
}

func respondJobGatewayError(w http.ResponseWriter, err error, mode models.BillingMode) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "job not found upstream")
	case errors.Is(err, jobs.ErrInvalidCredential):
		logger.Warn("Job gateway rejected credential", "mode", mode)
		utils.RespondWithErrorCode(w, http.StatusBadGateway, "credential_rejected", "The provider rejected the "+string(mode)+" credential")
	case errors.Is(err, context.DeadlineExceeded):
		utils.RespondWithError(w, http.StatusGatewayTimeout, "job gateway timed out")
	default:
		logger.Error("Job gateway request failed", "mode", mode, "error", err)
		utils.RespondWithError(w, http.StatusBadGateway, "job gateway error")
	}
}
