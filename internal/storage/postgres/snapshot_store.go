package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"pump-trader/internal/storage"
)

// SnapshotStore is a PostgreSQL implementation of storage.SnapshotStore.
// Snapshots are stored as JSONB keyed by name.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new PostgreSQL snapshot store.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save marshals value as JSON and stores it under key.
func (s *SnapshotStore) Save(ctx context.Context, key string, value interface{}) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", key, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO state_snapshots (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = NOW()
	`, key, data)

	return err
}

// Load unmarshals the stored JSON for key into out.
// Returns ErrNotFound when no snapshot exists.
func (s *SnapshotStore) Load(ctx context.Context, key string, out interface{}) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `SELECT value FROM state_snapshots WHERE key = $1`, key)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal snapshot %s: %w", key, err)
	}
	return nil
}
