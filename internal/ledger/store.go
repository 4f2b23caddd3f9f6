package ledger

import (
	"context"
	"sync"

	"github.com/yourorg/credit-stake-ea/internal/model"
)

// Store holds stake positions keyed by user.
// Update must run fn atomically with respect to other updates of the same user
// and persist the position only when fn returns nil.
type Store interface {
	Load(ctx context.Context, user string) (model.StakePosition, error)
	Update(ctx context.Context, user string, fn func(*model.StakePosition) error) (model.StakePosition, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]model.StakePosition
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]model.StakePosition)}
}

// Load returns the user's position, or the empty position if none exists.
func (s *MemoryStore) Load(ctx context.Context, user string) (model.StakePosition, error) {
	if err := ctx.Err(); err != nil {
		return model.StakePosition{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.positions[user]; ok {
		return p, nil
	}
	return model.NewStakePosition(user), nil
}

// Update applies fn to a copy of the position and stores the result if fn succeeds.
func (s *MemoryStore) Update(ctx context.Context, user string, fn func(*model.StakePosition) error) (model.StakePosition, error) {
	if err := ctx.Err(); err != nil {
		return model.StakePosition{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[user]
	if !ok {
		p = model.NewStakePosition(user)
	}
	orig := p
	if err := fn(&p); err != nil {
		return orig, err
	}
	p.User = user
	s.positions[user] = p
	return p, nil
}
