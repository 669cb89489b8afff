package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"transcribe_gateway/internal/models"
)

type memoryAccount struct {
	mu       sync.Mutex
	consumed decimal.Decimal
	limit    decimal.Decimal
}

// MemoryStore keeps balances in process. Each account has its own mutex.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*memoryAccount
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*memoryAccount)}
}

func (s *MemoryStore) account(userID string, defaultLimit float64) *memoryAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		a = &memoryAccount{limit: decimal.NewFromFloat(defaultLimit)}
		s.accounts[userID] = a
	}
	return a
}

// GetOrCreate implements Store
func (s *MemoryStore) GetOrCreate(_ context.Context, userID string, defaultLimit float64) (models.Balance, error) {
	a := s.account(userID, defaultLimit)
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.Balance{
		Consumed: a.consumed.InexactFloat64(),
		Limit:    a.limit.InexactFloat64(),
	}, nil
}

// AtomicAdd implements Store
func (s *MemoryStore) AtomicAdd(_ context.Context, userID string, delta float64, defaultLimit float64) (float64, error) {
	a := s.account(userID, defaultLimit)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consumed = a.consumed.Add(decimal.NewFromFloat(delta)).Round(6)
	return a.consumed.InexactFloat64(), nil
}

// SetLimit overrides the limit of an account
func (s *MemoryStore) SetLimit(userID string, limit float64) {
	a := s.account(userID, limit)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limit = decimal.NewFromFloat(limit)
}
