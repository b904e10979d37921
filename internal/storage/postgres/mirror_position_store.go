package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"pump-trader/internal/domain"
	"pump-trader/internal/storage"
)

// MirrorPositionStore is a PostgreSQL implementation of
// storage.MirrorPositionStore.
type MirrorPositionStore struct {
	pool *Pool
}

// NewMirrorPositionStore creates a new PostgreSQL mirror position store.
func NewMirrorPositionStore(pool *Pool) *MirrorPositionStore {
	return &MirrorPositionStore{pool: pool}
}

// Upsert creates or replaces the position for a mint.
func (s *MirrorPositionStore) Upsert(ctx context.Context, pos *domain.MirrorPosition) error {
	if pos == nil || pos.Mint == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO mirror_positions (mint, symbol, source_wallet, entry_time, entry_market_cap, cost_basis_sol, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (mint) DO UPDATE
		SET symbol = EXCLUDED.symbol,
		    source_wallet = EXCLUDED.source_wallet,
		    entry_time = EXCLUDED.entry_time,
		    entry_market_cap = EXCLUDED.entry_market_cap,
		    cost_basis_sol = EXCLUDED.cost_basis_sol,
		    updated_at = NOW()
	`, pos.Mint, pos.Symbol, pos.SourceWallet, pos.EntryTime, pos.EntryMarketCap, pos.CostBasisSOL)

	return err
}

// Get retrieves a position by mint. Returns ErrNotFound when absent.
func (s *MirrorPositionStore) Get(ctx context.Context, mint string) (*domain.MirrorPosition, error) {
	if mint == "" {
		return nil, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT mint, symbol, source_wallet, entry_time, entry_market_cap, cost_basis_sol
		FROM mirror_positions
		WHERE mint = $1
	`, mint)

	var pos domain.MirrorPosition
	err := row.Scan(&pos.Mint, &pos.Symbol, &pos.SourceWallet, &pos.EntryTime, &pos.EntryMarketCap, &pos.CostBasisSOL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &pos, nil
}

// Delete removes a position. Deleting an absent mint is a no-op.
func (s *MirrorPositionStore) Delete(ctx context.Context, mint string) error {
	if mint == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `DELETE FROM mirror_positions WHERE mint = $1`, mint)
	return err
}

// List returns all open mirrored positions.
func (s *MirrorPositionStore) List(ctx context.Context) ([]*domain.MirrorPosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT mint, symbol, source_wallet, entry_time, entry_market_cap, cost_basis_sol
		FROM mirror_positions
		ORDER BY entry_time
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.MirrorPosition
	for rows.Next() {
		var pos domain.MirrorPosition
		if err := rows.Scan(&pos.Mint, &pos.Symbol, &pos.SourceWallet, &pos.EntryTime, &pos.EntryMarketCap, &pos.CostBasisSOL); err != nil {
			return nil, err
		}
		positions = append(positions, &pos)
	}
	return positions, rows.Err()
}
