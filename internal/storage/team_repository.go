package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"transcribe_gateway/internal/models"
)

// TeamRepository handles teams and their memberships
type TeamRepository struct {
	db *DB
}

// NewTeamRepository creates a new team repository
func NewTeamRepository(db *DB) *TeamRepository {
	return &TeamRepository{db: db}
}

const teamColumns = `id, name, owner_id, encrypted_credential, base_quota_seconds, created_at, updated_at`

const membershipColumns = `team_id, user_id, quota_seconds, consumed_seconds, is_admin, created_at, updated_at`

// CreateWithOwner inserts a team and its owner's membership in one
// transaction. The owner is an admin member with an unlimited quota.
func (r *TeamRepository) CreateWithOwner(ctx context.Context, team *models.Team) error {
	if team.ID == uuid.Nil {
		team.ID = uuid.New()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO teams (id, name, owner_id, encrypted_credential, base_quota_seconds)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowxContext(ctx, query,
		team.ID, team.Name, team.OwnerID, team.EncryptedCredential, team.BaseQuota,
	).Scan(&team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}

	member := `
		INSERT INTO team_members (team_id, user_id, quota_seconds, is_admin)
		VALUES ($1, $2, NULL, TRUE)
		ON CONFLICT (team_id, user_id) DO UPDATE SET is_admin = TRUE, quota_seconds = NULL
	`
	if _, err := tx.ExecContext(ctx, member, team.ID, team.OwnerID); err != nil {
		return fmt.Errorf("failed to add team owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit team: %w", err)
	}
	return nil
}

// GetByID retrieves a team by ID, served from the cache when fresh
func (r *TeamRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	if team, ok := r.db.teamCache.Get(id.String()); ok {
		return team, nil
	}

	var team models.Team
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`

	err := r.db.conn.GetContext(ctx, &team, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}

	r.db.teamCache.Set(id.String(), &team)
	return &team, nil
}

// ListForMember returns the teams a user belongs to, oldest membership first
func (r *TeamRepository) ListForMember(ctx context.Context, userID string) ([]*models.Team, error) {
	query := `
		SELECT t.id, t.name, t.owner_id, t.encrypted_credential, t.base_quota_seconds, t.created_at, t.updated_at
		FROM teams t
		JOIN team_members m ON m.team_id = t.id
		WHERE m.user_id = $1
		ORDER BY m.created_at ASC, t.id ASC
	`

	var teams []*models.Team
	if err := r.db.conn.SelectContext(ctx, &teams, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list teams for member: %w", err)
	}
	return teams, nil
}

// GetMembership retrieves the membership row of a user in a team
func (r *TeamRepository) GetMembership(ctx context.Context, teamID uuid.UUID, userID string) (*models.TeamMembership, error) {
	var m models.TeamMembership
	query := `SELECT ` + membershipColumns + ` FROM team_members WHERE team_id = $1 AND user_id = $2`

	err := r.db.conn.GetContext(ctx, &m, query, teamID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// ListMembers returns every membership of a team
func (r *TeamRepository) ListMembers(ctx context.Context, teamID uuid.UUID) ([]*models.TeamMembership, error) {
	query := `SELECT ` + membershipColumns + ` FROM team_members WHERE team_id = $1 ORDER BY created_at ASC`

	var members []*models.TeamMembership
	if err := r.db.conn.SelectContext(ctx, &members, query, teamID); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// AddMember inserts a membership; ErrMembershipExists when the pair exists
func (r *TeamRepository) AddMember(ctx context.Context, m *models.TeamMembership) error {
	query := `
		INSERT INTO team_members (team_id, user_id, quota_seconds, is_admin)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (team_id, user_id) DO NOTHING
		RETURNING consumed_seconds, created_at, updated_at
	`

	err := r.db.conn.QueryRowxContext(ctx, query, m.TeamID, m.UserID, m.Quota, m.IsAdmin).
		Scan(&m.ConsumedSeconds, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMembershipExists
		}
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership
func (r *TeamRepository) RemoveMember(ctx context.Context, teamID uuid.UUID, userID string) error {
	query := `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`
	return r.execExpectingRow(ctx, query, ErrMembershipNotFound, teamID, userID)
}

// UpdateMemberQuota replaces the quota of a member
func (r *TeamRepository) UpdateMemberQuota(ctx context.Context, teamID uuid.UUID, userID string, quota models.Quota) error {
	query := `UPDATE team_members SET quota_seconds = $3, updated_at = now() WHERE team_id = $1 AND user_id = $2`
	return r.execExpectingRow(ctx, query, ErrMembershipNotFound, teamID, userID, quota)
}

// SetEncryptedCredential replaces the stored team credential
func (r *TeamRepository) SetEncryptedCredential(ctx context.Context, teamID uuid.UUID, encrypted string) error {
	query := `UPDATE teams SET encrypted_credential = $2, updated_at = $3 WHERE id = $1`
	if err := r.execExpectingRow(ctx, query, ErrTeamNotFound, teamID, encrypted, time.Now()); err != nil {
		return err
	}
	r.db.teamCache.Delete(teamID.String())
	return nil
}

func (r *TeamRepository) execExpectingRow(ctx context.Context, query string, notFound error, args ...any) error {
	result, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update team data: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
