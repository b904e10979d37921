package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"pump-trader/internal/domain"
	"pump-trader/internal/storage"
)

// TradeLogStore is a PostgreSQL implementation of storage.TradeLogStore.
// The log is append-only; trade_id is the deduplication key.
type TradeLogStore struct {
	pool *Pool
}

// NewTradeLogStore creates a new PostgreSQL trade log store.
func NewTradeLogStore(pool *Pool) *TradeLogStore {
	return &TradeLogStore{pool: pool}
}

// Append stores a trade record. Returns ErrDuplicateKey for a duplicate
// trade ID.
func (s *TradeLogStore) Append(ctx context.Context, trade *domain.MirrorTrade) error {
	if trade == nil || trade.TradeID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO mirror_trades (
			trade_id, source_signature, source_wallet, mint, symbol, side,
			sol_amount, sell_percent, entry_market_cap, exit_market_cap,
			realized_pnl_sol, success, error, executed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, trade.TradeID, trade.SourceSignature, trade.SourceWallet, trade.Mint,
		trade.Symbol, trade.Side, trade.SOLAmount, trade.SellPercent,
		trade.EntryMarketCap, trade.ExitMarketCap, trade.RealizedPnLSOL,
		trade.Success, trade.Error, trade.ExecutedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return err
	}
	return nil
}

// List returns up to limit most recent trades; limit <= 0 means all.
func (s *TradeLogStore) List(ctx context.Context, limit int) ([]*domain.MirrorTrade, error) {
	query := `
		SELECT trade_id, source_signature, source_wallet, mint, symbol, side,
		       sol_amount, sell_percent, entry_market_cap, exit_market_cap,
		       realized_pnl_sol, success, error, executed_at
		FROM mirror_trades
		ORDER BY executed_at DESC
	`

	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.MirrorTrade
	for rows.Next() {
		var t domain.MirrorTrade
		if err := rows.Scan(&t.TradeID, &t.SourceSignature, &t.SourceWallet,
			&t.Mint, &t.Symbol, &t.Side, &t.SOLAmount, &t.SellPercent,
			&t.EntryMarketCap, &t.ExitMarketCap, &t.RealizedPnLSOL,
			&t.Success, &t.Error, &t.ExecutedAt); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}
