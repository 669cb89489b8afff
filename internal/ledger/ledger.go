// Package ledger tracks the guest allowance of each user: how much has been
// consumed against a fixed limit, in currency units.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"transcribe_gateway/internal/models"
)

var (
	// ErrNegativeDelta is returned when usage would decrease a balance
	ErrNegativeDelta = errors.New("usage delta must not be negative")

	// ErrInvalidDelta is returned for NaN or infinite deltas
	ErrInvalidDelta = errors.New("usage delta must be a finite number")

	// ErrUnsupportedPrincipal is returned for principals without a balance
	ErrUnsupportedPrincipal = errors.New("only user principals have a balance")
)

// Store is the persistence behind a Ledger. AtomicAdd must apply the delta
// in one indivisible step and create the row with defaultLimit when absent.
type Store interface {
	GetOrCreate(ctx context.Context, userID string, defaultLimit float64) (models.Balance, error)
	AtomicAdd(ctx context.Context, userID string, delta float64, defaultLimit float64) (float64, error)
}

// Ledger exposes balance reads and increments
type Ledger struct {
	store        Store
	defaultLimit float64
}

// New creates a ledger. defaultLimit is the allowance of a new account.
func New(store Store, defaultLimit float64) *Ledger {
	return &Ledger{store: store, defaultLimit: defaultLimit}
}

// GetUsage returns the balance, creating it on first access
func (l *Ledger) GetUsage(ctx context.Context, p models.Principal) (models.Balance, error) {
	if p.Kind != models.PrincipalUser {
		return models.Balance{}, ErrUnsupportedPrincipal
	}
	b, err := l.store.GetOrCreate(ctx, p.ID, l.defaultLimit)
	if err != nil {
		return models.Balance{}, fmt.Errorf("failed to get usage: %w", err)
	}
	return models.Balance{Consumed: Round6(b.Consumed), Limit: b.Limit}, nil
}

// AddUsage adds delta to the consumed amount and returns the new total
func (l *Ledger) AddUsage(ctx context.Context, p models.Principal, delta float64) (float64, error) {
	if p.Kind != models.PrincipalUser {
		return 0, ErrUnsupportedPrincipal
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0, ErrInvalidDelta
	}
	if delta < 0 {
		return 0, ErrNegativeDelta
	}

	consumed, err := l.store.AtomicAdd(ctx, p.ID, Round6(delta), l.defaultLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}
	return Round6(consumed), nil
}

// Remaining returns max(limit - consumed, 0)
func (l *Ledger) Remaining(ctx context.Context, p models.Principal) (float64, error) {
	b, err := l.GetUsage(ctx, p)
	if err != nil {
		return 0, err
	}
	return Round6(b.Remaining()), nil
}

// DefaultLimit returns the allowance given to new accounts
func (l *Ledger) DefaultLimit() float64 {
	return l.defaultLimit
}

// Round6 rounds half away from zero to 6 decimal places
func Round6(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(6).Float64()
	return f
}
