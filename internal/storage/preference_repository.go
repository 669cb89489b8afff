package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"transcribe_gateway/internal/models"
)

// PreferenceRepository stores one billing-mode preference per user
type PreferenceRepository struct {
	db *DB
}

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(db *DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns the stored preference or ErrPreferenceNotFound
func (r *PreferenceRepository) Get(ctx context.Context, userID string) (*models.UserModePreference, error) {
	var pref models.UserModePreference
	query := `
		SELECT user_id, preferred_mode, active_team_id, active_project_id, updated_at
		FROM user_preferences
		WHERE user_id = $1
	`
	if err := r.db.conn.GetContext(ctx, &pref, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}
	return &pref, nil
}

// Upsert replaces the preference of a user
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *models.UserModePreference) error {
	query := `
		INSERT INTO user_preferences (user_id, preferred_mode, active_team_id, active_project_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET preferred_mode = EXCLUDED.preferred_mode,
		    active_team_id = EXCLUDED.active_team_id,
		    active_project_id = EXCLUDED.active_project_id,
		    updated_at = now()
		RETURNING updated_at
	`
	err := r.db.conn.QueryRowxContext(ctx, query,
		pref.UserID, pref.PreferredMode, pref.ActiveTeamID, pref.ActiveProjectID,
	).Scan(&pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}
