package auth

import (
	"context"
	"fmt"

	"transcribe_gateway/internal/config"
	"transcribe_gateway/internal/utils"
)

// APIKeyRecord is the view of a service API key needed at request time.
type APIKeyRecord struct {
	Name  string
	Scope Scope
}

// Allows reports whether this key may call an endpoint requiring scope
func (k *APIKeyRecord) Allows(scope Scope) bool {
	return k.Scope.HasPermission(scope)
}

// APIKeyStore resolves plaintext API keys into stored records.
type APIKeyStore interface {
	Lookup(ctx context.Context, plaintextKey string) (*APIKeyRecord, error)
}

// InMemoryAPIKeyStore keeps hashed service keys loaded from configuration.
type InMemoryAPIKeyStore struct {
	// map of hash(API key) -> record
	keys map[string]*APIKeyRecord
}

// NewInMemoryAPIKeyStore builds a store from configured keys. A key with
// no scope gets ScopeBilling.
func NewInMemoryAPIKeyStore(keys []config.ServiceKeyConfig) (*InMemoryAPIKeyStore, error) {
	s := &InMemoryAPIKeyStore{
		keys: make(map[string]*APIKeyRecord, len(keys)),
	}

	for _, k := range keys {
		scope := Scope(k.Scope)
		if scope == "" {
			scope = ScopeBilling
		}
		if !scope.IsValid() {
			return nil, fmt.Errorf("service key %q: unknown scope %q", k.Name, k.Scope)
		}
		s.keys[utils.HashString(k.Key)] = &APIKeyRecord{Name: k.Name, Scope: scope}
	}

	return s, nil
}

func (s *InMemoryAPIKeyStore) Lookup(ctx context.Context, plaintextKey string) (*APIKeyRecord, error) {
	rec, ok := s.keys[utils.HashString(plaintextKey)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	copied := *rec
	return &copied, nil
}
