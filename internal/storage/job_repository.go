package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"transcribe_gateway/internal/models"
)

// JobRepository tracks submitted transcription jobs and their billing source
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create records a freshly submitted job
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, user_id, mode, team_id, project_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING submitted_at
	`
	err := r.db.conn.QueryRowxContext(ctx, query,
		job.ID, job.UserID, job.Mode, job.TeamID, job.ProjectID, job.Status,
	).Scan(&job.SubmittedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID retrieves a job
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	query := `
		SELECT id, user_id, mode, team_id, project_id, status, consumed_seconds, submitted_at, settled_at
		FROM jobs
		WHERE id = $1
	`
	if err := r.db.conn.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateStatus records the latest status reported by the job gateway
func (r *JobRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE jobs SET status = $2 WHERE id = $1`
	result, err := r.db.conn.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return expectOneRow(result, ErrJobNotFound)
}

// MarkSettled stores the billed duration and the settlement time
func (r *JobRepository) MarkSettled(ctx context.Context, id string, consumedSeconds float64) error {
	query := `
		UPDATE jobs
		SET consumed_seconds = ROUND($2::numeric, 6), settled_at = COALESCE(settled_at, now())
		WHERE id = $1
	`
	result, err := r.db.conn.ExecContext(ctx, query, id, consumedSeconds)
	if err != nil {
		return fmt.Errorf("failed to mark job settled: %w", err)
	}
	return expectOneRow(result, ErrJobNotFound)
}

func expectOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
