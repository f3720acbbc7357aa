package tenants

import (
	"context"
	"sync"
)

// MemoryStore is a simple in-memory credential store for tests and early
// development.
type MemoryStore struct {
	mu   sync.Mutex
	sets map[string]CredentialSet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: map[string]CredentialSet{}}
}

func (s *MemoryStore) Put(set CredentialSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[set.TenantID] = set
}

func (s *MemoryStore) GetCredentials(_ context.Context, tenantID string) (CredentialSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[tenantID]
	if !ok {
		return CredentialSet{}, ErrTenantNotFound
	}
	return set, nil
}
