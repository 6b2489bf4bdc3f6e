package policy

import (
	"context"
	"sync"
)

// MemoryMemberships is an in-process MembershipSource for tests and
// embedded setups.
type MemoryMemberships struct {
	mu      sync.RWMutex
	entries map[string]Membership
}

func NewMemoryMemberships() *MemoryMemberships {
	return &MemoryMemberships{entries: make(map[string]Membership)}
}

func membershipKey(principalID, org string) string {
	return org + "\x00" + principalID
}

// Set upserts the membership for (principal, org).
func (m *MemoryMemberships) Set(ms Membership) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[membershipKey(ms.PrincipalID, ms.Org)] = ms
}

func (m *MemoryMemberships) Membership(_ context.Context, principalID, org string) (Membership, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.entries[membershipKey(principalID, org)]
	return ms, ok, nil
}

// MemoryPolicyStore is an in-process PolicyStore.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]map[string]Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]map[string]Policy)}
}

func (s *MemoryPolicyStore) ListPolicies(_ context.Context, org string) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Policy, 0, len(s.policies[org]))
	for _, p := range s.policies[org] {
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryPolicyStore) SavePolicy(_ context.Context, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policies[p.Org] == nil {
		s.policies[p.Org] = make(map[string]Policy)
	}
	s.policies[p.Org][p.ID] = p
	return nil
}

func (s *MemoryPolicyStore) DeletePolicy(_ context.Context, org, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies[org], id)
	return nil
}
