package billing

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"transcribe_gateway/internal/ledger"
	"transcribe_gateway/internal/logging"
	"transcribe_gateway/internal/metrics"
	"transcribe_gateway/internal/models"
	"transcribe_gateway/internal/storage"
	"transcribe_gateway/internal/utils"
)

// GuestLedger is the part of the ledger used by settlement
type GuestLedger interface {
	AddUsage(ctx context.Context, p models.Principal, delta float64) (float64, error)
}

// TeamUsageRecorder writes the usage event and increments counters in one transaction
type TeamUsageRecorder interface {
	RecordTeamUsage(ctx context.Context, event *models.TeamUsageEvent) (*storage.TeamUsageResult, error)
}

// SettleRequest describes a finished job
type SettleRequest struct {
	JobID         string             `json:"job_id"`
	Mode          models.BillingMode `json:"mode"`
	UserID        string             `json:"user_id"`
	TeamID        string             `json:"team_id,omitempty"`
	ProjectID     string             `json:"project_id,omitempty"`
	ConsumedUnits float64            `json:"consumed_units"`
}

// SettleResult reports what a settlement changed
type SettleResult struct {
	// Duplicate is true when the job had already been settled
	Duplicate bool

	// Cost is the USD charged to the guest allowance
	Cost float64

	// NewConsumed is the guest balance or member seconds after the settlement
	NewConsumed *float64
}

// Settler applies completed-job usage to the right balance exactly once
type Settler struct {
	settings Settings
	ledger   GuestLedger
	teams    TeamUsageRecorder
	guard    Guard
	audit    logging.Sink
	metrics  metrics.Recorder
	logger   *utils.Logger
}

// SettlerOption customizes a Settler
type SettlerOption func(*Settler)

// WithAuditSink emits an AuditRecord for every applied settlement
func WithAuditSink(sink logging.Sink) SettlerOption {
	return func(s *Settler) { s.audit = sink }
}

// WithSettlerMetrics reports settlement outcomes to m
func WithSettlerMetrics(m metrics.Recorder) SettlerOption {
	return func(s *Settler) { s.metrics = m }
}

// NewSettler creates a settler
func NewSettler(settings Settings, guestLedger GuestLedger, teams TeamUsageRecorder, guard Guard, opts ...SettlerOption) *Settler {
	s := &Settler{
		settings: settings,
		ledger:   guestLedger,
		teams:    teams,
		guard:    guard,
		audit:    logging.NewNoopSink(),
		metrics:  metrics.Noop{},
		logger:   utils.NewLogger("settlement"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settle applies a settlement. Calling it again for the same job id
// returns Duplicate and changes nothing.
func (s *Settler) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	teamID, projectID, err := validateSettlement(&req)
	if err != nil {
		s.metrics.RecordSettlement(string(req.Mode), "invalid", req.ConsumedUnits)
		return nil, err
	}

	claimed, err := s.guard.Claim(ctx, models.Settlement{
		JobID:         req.JobID,
		Mode:          req.Mode,
		UserID:        req.UserID,
		ConsumedUnits: req.ConsumedUnits,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		s.metrics.RecordSettlement(string(req.Mode), "error", req.ConsumedUnits)
		return nil, storeError("claim settlement", err)
	}
	if !claimed {
		s.logger.Info("Settlement already applied", "job_id", req.JobID)
		s.metrics.RecordSettlement(string(req.Mode), "duplicate", req.ConsumedUnits)
		return &SettleResult{Duplicate: true}, nil
	}

	result, err := s.apply(ctx, req, teamID, projectID)
	if err != nil {
		s.release(ctx, req.JobID)
		s.metrics.RecordSettlement(string(req.Mode), "error", req.ConsumedUnits)
		return nil, err
	}

	if result.Duplicate {
		s.metrics.RecordSettlement(string(req.Mode), "duplicate", req.ConsumedUnits)
		return result, nil
	}

	s.metrics.RecordSettlement(string(req.Mode), "applied", req.ConsumedUnits)
	s.emitAudit(req, result)
	return result, nil
}

func (s *Settler) apply(ctx context.Context, req SettleRequest, teamID, projectID *uuid.UUID) (*SettleResult, error) {
	switch req.Mode {
	case models.ModePersonal:
		// The provider bills the key owner directly.
		return &SettleResult{}, nil

	case models.ModeGuest:
		cost := ledger.Round6(s.settings.GuestCost(req.ConsumedUnits))
		consumed, err := s.ledger.AddUsage(ctx, models.UserPrincipal(req.UserID), cost)
		if err != nil {
			return nil, storeError("add guest usage", err)
		}
		s.logger.Debug("Guest usage settled", "job_id", req.JobID, "user_id", req.UserID, "cost", cost, "consumed", consumed)
		return &SettleResult{Cost: cost, NewConsumed: &consumed}, nil

	default:
		event := &models.TeamUsageEvent{
			TeamID:        *teamID,
			UserID:        req.UserID,
			ProjectID:     projectID,
			JobID:         req.JobID,
			ConsumedUnits: req.ConsumedUnits,
		}
		res, err := s.teams.RecordTeamUsage(ctx, event)
		if errors.Is(err, storage.ErrIntegrityViolation) {
			s.logger.Warn("Team usage rejected by a constraint", "job_id", req.JobID, "team_id", teamID.String(), "error", err)
			return nil, invalidSettlement("team %s does not accept this usage event", teamID)
		}
		if err != nil {
			return nil, storeError("record team usage", err)
		}
		if !res.Recorded {
			s.logger.Warn("Team usage event already recorded", "job_id", req.JobID, "team_id", teamID.String())
			return &SettleResult{Duplicate: true}, nil
		}
		if res.MemberConsumed == nil {
			s.logger.Warn("Member left the team before settlement; usage recorded without a member increment",
				"job_id", req.JobID, "team_id", teamID.String(), "user_id", req.UserID)
		}
		if projectID != nil && res.ProjectConsumed == nil {
			s.logger.Warn("Project not found in team; project usage ignored",
				"job_id", req.JobID, "project_id", projectID.String())
		}
		return &SettleResult{NewConsumed: res.MemberConsumed}, nil
	}
}

func (s *Settler) release(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.guard.Release(ctx, jobID); err != nil {
		s.logger.Error("Failed to release settlement claim; job will not settle again", "job_id", jobID, "error", err)
	}
}

func (s *Settler) emitAudit(req SettleRequest, result *SettleResult) {
	rec := &logging.AuditRecord{
		Timestamp:     time.Now().UTC(),
		JobID:         req.JobID,
		Mode:          string(req.Mode),
		UserID:        req.UserID,
		TeamID:        req.TeamID,
		ProjectID:     req.ProjectID,
		ConsumedUnits: req.ConsumedUnits,
		CostUSD:       result.Cost,
		NewConsumed:   result.NewConsumed,
	}
	if err := s.audit.Enqueue(rec); err != nil {
		s.logger.Warn("Failed to emit audit record", "job_id", req.JobID, "error", err)
	}
}

func validateSettlement(req *SettleRequest) (teamID, projectID *uuid.UUID, err error) {
	req.JobID = strings.TrimSpace(req.JobID)
	req.UserID = strings.TrimSpace(req.UserID)

	if req.JobID == "" {
		return nil, nil, invalidSettlement("job id is required")
	}
	if !req.Mode.Valid() {
		return nil, nil, invalidSettlement("unknown mode %q", req.Mode)
	}
	if math.IsNaN(req.ConsumedUnits) || math.IsInf(req.ConsumedUnits, 0) || req.ConsumedUnits < 0 {
		return nil, nil, invalidSettlement("consumed units must be a non-negative number, got %v", req.ConsumedUnits)
	}
	if req.Mode == models.ModePersonal {
		return nil, nil, nil
	}
	if req.UserID == "" {
		return nil, nil, invalidSettlement("user id is required for %s settlement", req.Mode)
	}
	if req.Mode == models.ModeGuest {
		return nil, nil, nil
	}

	id, perr := uuid.Parse(strings.TrimSpace(req.TeamID))
	if perr != nil {
		return nil, nil, invalidSettlement("team id %q is invalid", req.TeamID)
	}
	teamID = &id
	if req.ProjectID != "" {
		pid, perr := uuid.Parse(strings.TrimSpace(req.ProjectID))
		if perr != nil {
			return nil, nil, invalidSettlement("project id %q is invalid", req.ProjectID)
		}
		projectID = &pid
	}
	return teamID, projectID, nil
}
