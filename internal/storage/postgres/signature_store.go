package postgres

import (
	"context"

	"pump-trader/internal/storage"
)

// SignatureStore is a PostgreSQL implementation of storage.SignatureStore.
// Backed by the processed_signatures table.
type SignatureStore struct {
	pool *Pool
}

// NewSignatureStore creates a new PostgreSQL signature store.
func NewSignatureStore(pool *Pool) *SignatureStore {
	return &SignatureStore{pool: pool}
}

// MarkProcessed records a signature. Returns ErrDuplicateKey when the
// signature is already in the set.
func (s *SignatureStore) MarkProcessed(ctx context.Context, signature string) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_signatures (signature)
		VALUES ($1)
		ON CONFLICT (signature) DO NOTHING
	`, signature)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}

// IsProcessed checks whether a signature has been recorded.
func (s *SignatureStore) IsProcessed(ctx context.Context, signature string) (bool, error) {
	if signature == "" {
		return false, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM processed_signatures WHERE signature = $1)
	`, signature)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Count returns the number of recorded signatures.
func (s *SignatureStore) Count(ctx context.Context) (int, error) {
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM processed_signatures`)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
