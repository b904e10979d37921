package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"pump-trader/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
// Values round-trip through JSON exactly like the disk-backed stores.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string][]byte),
	}
}

// Save marshals value as JSON and stores it under key.
func (s *SnapshotStore) Save(_ context.Context, key string, value interface{}) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal snapshot %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	return nil
}

// Load unmarshals the stored JSON for key into out.
func (s *SnapshotStore) Load(_ context.Context, key string, out interface{}) error {
	s.mu.RLock()
	raw, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return storage.ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal snapshot %q: %w", key, err)
	}
	return nil
}
