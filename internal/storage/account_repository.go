package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"transcribe_gateway/internal/models"
)

// AccountRepository handles per-user guest balances and personal credentials.
// It implements ledger.Store on top of Postgres.
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Get retrieves an account by user id
func (r *AccountRepository) Get(ctx context.Context, userID string) (*models.Account, error) {
	var account models.Account
	query := `
		SELECT user_id, encrypted_credential, consumed_amount, limit_amount, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
	`

	err := r.db.conn.GetContext(ctx, &account, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// GetOrCreate returns the balance of a user, creating the row with a zero
// balance and defaultLimit when absent. Concurrent first access never
// produces duplicate rows.
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID string, defaultLimit float64) (models.Balance, error) {
	insert := `
		INSERT INTO accounts (user_id, consumed_amount, limit_amount)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.conn.ExecContext(ctx, insert, userID, defaultLimit); err != nil {
		return models.Balance{}, fmt.Errorf("failed to create account: %w", err)
	}

	var balance models.Balance
	query := `SELECT consumed_amount, limit_amount FROM accounts WHERE user_id = $1`
	if err := r.db.conn.GetContext(ctx, &balance, query, userID); err != nil {
		return models.Balance{}, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

// AtomicAdd increments consumed_amount by delta in a single statement and
// returns the new value rounded to 6 decimals. The row is created when absent.
func (r *AccountRepository) AtomicAdd(ctx context.Context, userID string, delta float64, defaultLimit float64) (float64, error) {
	query := `
		INSERT INTO accounts (user_id, consumed_amount, limit_amount)
		VALUES ($1, ROUND($2::numeric, 6), $3)
		ON CONFLICT (user_id) DO UPDATE
		SET consumed_amount = ROUND(accounts.consumed_amount + $2::numeric, 6),
		    updated_at = now()
		RETURNING consumed_amount
	`

	var consumed float64
	if err := r.db.conn.QueryRowxContext(ctx, query, userID, delta, defaultLimit).Scan(&consumed); err != nil {
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}

	return consumed, nil
}

// ResetUsage zeroes the consumed amount (administrative reset)
func (r *AccountRepository) ResetUsage(ctx context.Context, userID string) error {
	query := `UPDATE accounts SET consumed_amount = 0, updated_at = now() WHERE user_id = $1`

	result, err := r.db.conn.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetLimit changes the guest allowance of a user
func (r *AccountRepository) SetLimit(ctx context.Context, userID string, limit float64) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %v", limit)
	}
	query := `
		INSERT INTO accounts (user_id, consumed_amount, limit_amount)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO UPDATE SET limit_amount = EXCLUDED.limit_amount, updated_at = now()
	`
	if _, err := r.db.conn.ExecContext(ctx, query, userID, limit); err != nil {
		return fmt.Errorf("failed to set limit: %w", err)
	}
	return nil
}
