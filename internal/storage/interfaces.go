// Package storage defines persistence interfaces for the trading core.
// Implementations live in memory, postgres and clickhouse subpackages.
package storage

import (
	"context"

	"pump-trader/internal/domain"
)

// SignatureStore tracks permanently processed wallet transaction signatures.
// The set only grows; a signature marked processed never re-triggers work.
type SignatureStore interface {
	// MarkProcessed records a signature. Returns ErrDuplicateKey when the
	// signature is already in the set.
	MarkProcessed(ctx context.Context, signature string) error

	// IsProcessed reports whether a signature has been recorded.
	IsProcessed(ctx context.Context, signature string) (bool, error)

	// Count returns the number of recorded signatures.
	Count(ctx context.Context) (int, error)
}

// MirrorPositionStore persists the bot's mirrored positions keyed by mint.
type MirrorPositionStore interface {
	// Upsert creates or replaces the position for a mint.
	Upsert(ctx context.Context, pos *domain.MirrorPosition) error

	// Get retrieves a position by mint. Returns ErrNotFound when absent.
	Get(ctx context.Context, mint string) (*domain.MirrorPosition, error)

	// Delete removes a position. Deleting an absent mint is a no-op.
	Delete(ctx context.Context, mint string) error

	// List returns all open mirrored positions.
	List(ctx context.Context) ([]*domain.MirrorPosition, error)
}

// TradeLogStore is the append-only audit log of mirrored trades.
type TradeLogStore interface {
	// Append stores a trade record. Returns ErrDuplicateKey for a
	// duplicate trade ID.
	Append(ctx context.Context, trade *domain.MirrorTrade) error

	// List returns up to limit most recent trades; limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*domain.MirrorTrade, error)
}

// SnapshotStore persists small JSON-serializable state blobs (queue and
// cooldown snapshots) keyed by name.
type SnapshotStore interface {
	// Save marshals value as JSON and stores it under key.
	Save(ctx context.Context, key string, value interface{}) error

	// Load unmarshals the stored JSON for key into out.
	// Returns ErrNotFound when no snapshot exists.
	Load(ctx context.Context, key string, out interface{}) error
}
