// Package trading defines the trade executor boundary and a paper
// implementation used for dry runs and tests. Real order routing
// (signing, broadcasting) is out of scope for the core.
package trading

import (
	"context"

	"pump-trader/internal/domain"
)

// Executor places buy and sell orders for the bot.
type Executor interface {
	// Buy spends amountSOL on the given mint. Tags carry free-form
	// labels (mirror source wallet, entry reason) for audit.
	Buy(ctx context.Context, mint, symbol string, amountSOL float64, tags []string) (*domain.TradeResult, error)

	// Sell liquidates percent of the held position. overridePrice > 0
	// forces the fill price; otherwise the current market price is used.
	// Returns nil when there is nothing to sell.
	Sell(ctx context.Context, mint, symbol string, percent float64, reason string, overridePrice float64) (*domain.TradeResult, error)
}
