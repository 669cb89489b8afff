package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"transcribe_gateway/internal/models"
)

// ProjectRepository handles per-team projects
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create inserts a project
func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `
		INSERT INTO projects (id, team_id, name, quota_seconds)
		VALUES ($1, $2, $3, $4)
		RETURNING consumed_seconds, created_at, updated_at
	`
	err := r.db.conn.QueryRowxContext(ctx, query, p.ID, p.TeamID, p.Name, p.Quota).
		Scan(&p.ConsumedSeconds, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Get retrieves a project scoped to its team
func (r *ProjectRepository) Get(ctx context.Context, teamID, projectID uuid.UUID) (*models.Project, error) {
	var p models.Project
	query := `
		SELECT id, team_id, name, quota_seconds, consumed_seconds, created_at, updated_at
		FROM projects
		WHERE id = $1 AND team_id = $2
	`
	if err := r.db.conn.GetContext(ctx, &p, query, projectID, teamID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// ListByTeam returns the projects of a team
func (r *ProjectRepository) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]*models.Project, error) {
	query := `
		SELECT id, team_id, name, quota_seconds, consumed_seconds, created_at, updated_at
		FROM projects
		WHERE team_id = $1
		ORDER BY name ASC
	`
	var projects []*models.Project
	if err := r.db.conn.SelectContext(ctx, &projects, query, teamID); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}
