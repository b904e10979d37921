package memory

import (
	"context"
	"sync"

	"pump-trader/internal/storage"
)

// SignatureStore is an in-memory implementation of storage.SignatureStore.
type SignatureStore struct {
	mu   sync.RWMutex
	data map[string]struct{}
}

// NewSignatureStore creates a new in-memory signature store.
func NewSignatureStore() *SignatureStore {
	return &SignatureStore{
		data: make(map[string]struct{}),
	}
}

// MarkProcessed records a signature. Returns ErrDuplicateKey if present.
func (s *SignatureStore) MarkProcessed(_ context.Context, signature string) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[signature]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[signature] = struct{}{}
	return nil
}

// IsProcessed reports whether a signature has been recorded.
func (s *SignatureStore) IsProcessed(_ context.Context, signature string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.data[signature]
	return exists, nil
}

// Count returns the number of recorded signatures.
func (s *SignatureStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data), nil
}
