package memory

import (
	"context"
	"sync"

	energy "community-energy/internal/energy/domain"
)

// StateStore keeps the ledger state in process.
type StateStore struct {
	mu    sync.RWMutex
	state *energy.State
	saves int
}

// NewStateStore constructs an empty store.
func NewStateStore() *StateStore {
	return &StateStore{}
}

// Load returns a copy of the saved state, or nil.
func (s *StateStore) Load(ctx context.Context) (*energy.State, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, nil
	}
	state := s.state.Clone()
	return &state, nil
}

// Save replaces the saved state.
func (s *StateStore) Save(ctx context.Context, state energy.State) error {
	_ = ctx
	saved := state.Clone()
	s.mu.Lock()
	s.state = &saved
	s.saves++
	s.mu.Unlock()
	return nil
}

// Saves returns how many times Save succeeded.
func (s *StateStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
