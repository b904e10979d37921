package memory

import (
	"context"
	"sort"
	"sync"

	"pump-trader/internal/domain"
	"pump-trader/internal/storage"
)

// MirrorPositionStore is an in-memory implementation of
// storage.MirrorPositionStore.
type MirrorPositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MirrorPosition // keyed by mint
}

// NewMirrorPositionStore creates a new in-memory mirror position store.
func NewMirrorPositionStore() *MirrorPositionStore {
	return &MirrorPositionStore{
		data: make(map[string]*domain.MirrorPosition),
	}
}

// Upsert creates or replaces the position for a mint.
func (s *MirrorPositionStore) Upsert(_ context.Context, pos *domain.MirrorPosition) error {
	if pos == nil || pos.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	posCopy := *pos
	s.data[pos.Mint] = &posCopy
	return nil
}

// Get retrieves a position by mint. Returns ErrNotFound if absent.
func (s *MirrorPositionStore) Get(_ context.Context, mint string) (*domain.MirrorPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, exists := s.data[mint]
	if !exists {
		return nil, storage.ErrNotFound
	}

	posCopy := *pos
	return &posCopy, nil
}

// Delete removes a position. Deleting an absent mint is a no-op.
func (s *MirrorPositionStore) Delete(_ context.Context, mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, mint)
	return nil
}

// List returns all open mirrored positions ordered by mint.
func (s *MirrorPositionStore) List(_ context.Context) ([]*domain.MirrorPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.MirrorPosition, 0, len(s.data))
	for _, pos := range s.data {
		posCopy := *pos
		out = append(out, &posCopy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out, nil
}
