package models

import (
	"time"

	"github.com/google/uuid"
)

// Job records which billing source a submitted transcription job was charged to.
type Job struct {
	ID              string      `db:"id"`
	UserID          string      `db:"user_id"`
	Mode            BillingMode `db:"mode"`
	TeamID          *uuid.UUID  `db:"team_id"`
	ProjectID       *uuid.UUID  `db:"project_id"`
	Status          string      `db:"status"`
	ConsumedSeconds *float64    `db:"consumed_seconds"`
	SubmittedAt     time.Time   `db:"submitted_at"`
	SettledAt       *time.Time  `db:"settled_at"`
}

// Settlement is the exactly-once marker for a settled job.
type Settlement struct {
	JobID         string      `db:"job_id"`
	Mode          BillingMode `db:"mode"`
	UserID        string      `db:"user_id"`
	ConsumedUnits float64     `db:"consumed_units"`
	CreatedAt     time.Time   `db:"created_at"`
}
