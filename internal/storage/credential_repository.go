package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"transcribe_gateway/internal/models"
)

// CredentialRepository reads and writes encrypted credentials for users
// (accounts table) and teams (teams table).
type CredentialRepository struct {
	db           *DB
	defaultLimit float64
}

// NewCredentialRepository creates a credential repository. defaultLimit is
// used when storing a personal credential creates the account row.
func NewCredentialRepository(db *DB, defaultLimit float64) *CredentialRepository {
	return &CredentialRepository{db: db, defaultLimit: defaultLimit}
}

// GetEncrypted returns the stored ciphertext or ErrCredentialNotFound
func (r *CredentialRepository) GetEncrypted(ctx context.Context, p models.Principal) (string, error) {
	var (
		query string
		arg   any
	)
	switch p.Kind {
	case models.PrincipalUser:
		query = `SELECT encrypted_credential FROM accounts WHERE user_id = $1`
		arg = p.ID
	case models.PrincipalTeam:
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return "", ErrCredentialNotFound
		}
		query = `SELECT encrypted_credential FROM teams WHERE id = $1`
		arg = id
	default:
		return "", fmt.Errorf("unknown principal kind %q", p.Kind)
	}

	var encrypted sql.NullString
	if err := r.db.conn.GetContext(ctx, &encrypted, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrCredentialNotFound
		}
		return "", fmt.Errorf("failed to get credential: %w", err)
	}
	if !encrypted.Valid || encrypted.String == "" {
		return "", ErrCredentialNotFound
	}
	return encrypted.String, nil
}

// PutEncrypted stores ciphertext for a principal
func (r *CredentialRepository) PutEncrypted(ctx context.Context, p models.Principal, encrypted string) error {
	switch p.Kind {
	case models.PrincipalUser:
		query := `
			INSERT INTO accounts (user_id, encrypted_credential, consumed_amount, limit_amount)
			VALUES ($1, $2, 0, $3)
			ON CONFLICT (user_id) DO UPDATE
			SET encrypted_credential = EXCLUDED.encrypted_credential, updated_at = now()
		`
		if _, err := r.db.conn.ExecContext(ctx, query, p.ID, encrypted, r.defaultLimit); err != nil {
			return fmt.Errorf("failed to store credential: %w", err)
		}
		return nil
	case models.PrincipalTeam:
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return ErrTeamNotFound
		}
		return NewTeamRepository(r.db).SetEncryptedCredential(ctx, id, encrypted)
	default:
		return fmt.Errorf("unknown principal kind %q", p.Kind)
	}
}
