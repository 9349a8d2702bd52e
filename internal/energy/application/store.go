package application

import (
	"context"

	energy "community-energy/internal/energy/domain"
)

// StateStore persists the ledger state of one community.
type StateStore interface {
	// Load returns the stored state, or nil when nothing was saved yet.
	Load(ctx context.Context) (*energy.State, error)
	// Save replaces the stored state.
	Save(ctx context.Context, state energy.State) error
}

// EventPublisher publishes domain events after a commit.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}
