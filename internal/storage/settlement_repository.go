package storage

import (
	"context"
	"fmt"

	"transcribe_gateway/internal/models"
)

// SettlementRepository is the Postgres settlement guard: a job id can be
// claimed once.
type SettlementRepository struct {
	db *DB
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db *DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// Claim inserts the settlement marker. It returns false when the job was
// already claimed.
func (r *SettlementRepository) Claim(ctx context.Context, s models.Settlement) (bool, error) {
	query := `
		INSERT INTO settlements (job_id, mode, user_id, consumed_units)
		VALUES ($1, $2, $3, ROUND($4::numeric, 6))
		ON CONFLICT (job_id) DO NOTHING
	`
	result, err := r.db.conn.ExecContext(ctx, query, s.JobID, s.Mode, s.UserID, s.ConsumedUnits)
	if err != nil {
		return false, fmt.Errorf("failed to claim settlement: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// Release removes the marker so the job can be settled again
func (r *SettlementRepository) Release(ctx context.Context, jobID string) error {
	if _, err := r.db.conn.ExecContext(ctx, `DELETE FROM settlements WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to release settlement: %w", err)
	}
	return nil
}
