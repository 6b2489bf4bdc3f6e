package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps the chain in process memory. Used by tests and by
// deployments that ship entries to durable storage through a sink.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Head(_ context.Context) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return Entry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Sequence != uint64(len(s.entries)) {
		return ErrSequenceConflict
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) Range(_ context.Context, from, to uint64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from >= uint64(len(s.entries)) {
		return nil, nil
	}
	if to >= uint64(len(s.entries)) {
		to = uint64(len(s.entries)) - 1
	}

	out := make([]Entry, to-from+1)
	copy(out, s.entries[from:to+1])
	return out, nil
}

// Corrupt overwrites a stored field in place. Test hook for integrity checks;
// the production Store interface has no mutation path.
func (s *MemoryStore) Corrupt(sequence uint64, mutate func(*Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sequence >= uint64(len(s.entries)) {
		return false
	}
	mutate(&s.entries[sequence])
	return true
}
