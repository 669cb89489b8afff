package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"transcribe_gateway/internal/models"
)

// TeamUsageRepository records team settlements
type TeamUsageRepository struct {
	db *DB
}

// NewTeamUsageRepository creates a new team usage repository
func NewTeamUsageRepository(db *DB) *TeamUsageRepository {
	return &TeamUsageRepository{db: db}
}

// TeamUsageResult describes what RecordTeamUsage changed
type TeamUsageResult struct {
	// Recorded is false when an event for the job already existed
	Recorded bool

	// MemberConsumed is nil when the user is no longer a member
	MemberConsumed *float64

	// ProjectConsumed is nil when no project was attributed
	ProjectConsumed *float64
}

// RecordTeamUsage inserts the usage event and increments the member's (and
// project's) consumed seconds in a single transaction. The unique job_id
// makes a second call for the same job a no-op. An unknown team or a value
// rejected by a constraint yields ErrIntegrityViolation.
func (r *TeamUsageRepository) RecordTeamUsage(ctx context.Context, event *models.TeamUsageEvent) (*TeamUsageResult, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// A project that does not belong to the team is stored as NULL.
	insert := `
		INSERT INTO team_usage_events (id, team_id, user_id, project_id, job_id, consumed_units)
		VALUES ($1, $2, $3, (SELECT id FROM projects WHERE id = $4 AND team_id = $2), $5, ROUND($6::numeric, 6))
		ON CONFLICT (job_id) DO NOTHING
		RETURNING project_id, created_at
	`
	var projectID *uuid.UUID
	err = tx.QueryRowxContext(ctx, insert,
		event.ID, event.TeamID, event.UserID, event.ProjectID, event.JobID, event.ConsumedUnits,
	).Scan(&projectID, &event.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &TeamUsageResult{Recorded: false}, nil
		}
		return nil, wrapWriteError("failed to insert usage event", err)
	}
	event.ProjectID = projectID

	result := &TeamUsageResult{Recorded: true}

	member := `
		UPDATE team_members
		SET consumed_seconds = ROUND(consumed_seconds + $3::numeric, 6), updated_at = now()
		WHERE team_id = $1 AND user_id = $2
		RETURNING consumed_seconds
	`
	var memberConsumed float64
	err = tx.QueryRowxContext(ctx, member, event.TeamID, event.UserID, event.ConsumedUnits).Scan(&memberConsumed)
	switch {
	case err == nil:
		result.MemberConsumed = &memberConsumed
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, wrapWriteError("failed to increment member usage", err)
	}

	if projectID != nil {
		project := `
			UPDATE projects
			SET consumed_seconds = ROUND(consumed_seconds + $2::numeric, 6), updated_at = now()
			WHERE id = $1
			RETURNING consumed_seconds
		`
		var projectConsumed float64
		if err := tx.QueryRowxContext(ctx, project, *projectID, event.ConsumedUnits).Scan(&projectConsumed); err != nil {
			return nil, wrapWriteError("failed to increment project usage", err)
		}
		result.ProjectConsumed = &projectConsumed
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit usage: %w", err)
	}
	return result, nil
}

// ListEvents returns the most recent usage events of a team
func (r *TeamUsageRepository) ListEvents(ctx context.Context, teamID uuid.UUID, limit int) ([]*models.TeamUsageEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, team_id, user_id, project_id, job_id, consumed_units, created_at
		FROM team_usage_events
		WHERE team_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var events []*models.TeamUsageEvent
	if err := r.db.conn.SelectContext(ctx, &events, query, teamID, limit); err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}
	return events, nil
}

// TotalForTeam returns the seconds consumed across all members of a team
func (r *TeamUsageRepository) TotalForTeam(ctx context.Context, teamID uuid.UUID) (float64, error) {
	var total float64
	query := `SELECT COALESCE(SUM(consumed_units), 0) FROM team_usage_events WHERE team_id = $1`
	if err := r.db.conn.GetContext(ctx, &total, query, teamID); err != nil {
		return 0, fmt.Errorf("failed to sum team usage: %w", err)
	}
	return total, nil
}
