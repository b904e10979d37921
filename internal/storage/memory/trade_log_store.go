package memory

import (
	"context"
	"sync"

	"pump-trader/internal/domain"
	"pump-trader/internal/storage"
)

// TradeLogStore is an in-memory implementation of storage.TradeLogStore.
type TradeLogStore struct {
	mu     sync.RWMutex
	trades []*domain.MirrorTrade
	byID   map[string]struct{}
}

// NewTradeLogStore creates a new in-memory trade log.
func NewTradeLogStore() *TradeLogStore {
	return &TradeLogStore{
		byID: make(map[string]struct{}),
	}
}

// Append stores a trade record. Returns ErrDuplicateKey for a duplicate ID.
func (s *TradeLogStore) Append(_ context.Context, trade *domain.MirrorTrade) error {
	if trade == nil || trade.TradeID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[trade.TradeID]; exists {
		return storage.ErrDuplicateKey
	}

	tradeCopy := *trade
	s.trades = append(s.trades, &tradeCopy)
	s.byID[trade.TradeID] = struct{}{}
	return nil
}

// List returns up to limit most recent trades; limit <= 0 means all.
func (s *TradeLogStore) List(_ context.Context, limit int) ([]*domain.MirrorTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.trades)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*domain.MirrorTrade, 0, n)
	// Most recent first
	for i := len(s.trades) - 1; i >= 0 && len(out) < n; i-- {
		tradeCopy := *s.trades[i]
		out = append(out, &tradeCopy)
	}
	return out, nil
}
