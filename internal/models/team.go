package models

import (
	"time"

	"github.com/google/uuid"
)

// Team shares a credential among its members. The owner is fixed at creation.
type Team struct {
	ID                  uuid.UUID `db:"id"`
	Name                string    `db:"name"`
	OwnerID             string    `db:"owner_id"`
	EncryptedCredential *string   `db:"encrypted_credential"`
	BaseQuota           Quota     `db:"base_quota_seconds"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// IsOwner reports whether userID owns the team.
func (t *Team) IsOwner(userID string) bool {
	return t.OwnerID == userID
}

// TeamMembership is a (team, member) pair with a per-member quota.
type TeamMembership struct {
	TeamID          uuid.UUID `db:"team_id" json:"team_id"`
	UserID          string    `db:"user_id" json:"user_id"`
	Quota           Quota     `db:"quota_seconds" json:"quota_seconds"`
	ConsumedSeconds float64   `db:"consumed_seconds" json:"consumed_seconds"`
	IsAdmin         bool      `db:"is_admin" json:"is_admin"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Project is an optional quota scope under a team.
type Project struct {
	ID              uuid.UUID `db:"id" json:"id"`
	TeamID          uuid.UUID `db:"team_id" json:"team_id"`
	Name            string    `db:"name" json:"name"`
	Quota           Quota     `db:"quota_seconds" json:"quota_seconds"`
	ConsumedSeconds float64   `db:"consumed_seconds" json:"consumed_seconds"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// TeamUsageEvent is the immutable audit row written for every team settlement.
type TeamUsageEvent struct {
	ID            uuid.UUID  `db:"id"`
	TeamID        uuid.UUID  `db:"team_id"`
	UserID        string     `db:"user_id"`
	ProjectID     *uuid.UUID `db:"project_id"`
	JobID         string     `db:"job_id"`
	ConsumedUnits float64    `db:"consumed_units"`
	CreatedAt     time.Time  `db:"created_at"`
}
