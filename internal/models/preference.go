package models

import (
	"time"

	"github.com/google/uuid"
)

// UserModePreference is the stored default billing source of a user.
type UserModePreference struct {
	UserID          string      `db:"user_id" json:"user_id"`
	PreferredMode   BillingMode `db:"preferred_mode" json:"preferred_mode"`
	ActiveTeamID    *uuid.UUID  `db:"active_team_id" json:"active_team_id,omitempty"`
	ActiveProjectID *uuid.UUID  `db:"active_project_id" json:"active_project_id,omitempty"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}
