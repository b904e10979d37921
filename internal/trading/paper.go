package trading

import (
	"context"
	"fmt"
	"log"
	"sync"

	"pump-trader/internal/domain"
)

// PriceLookup resolves the current price for a mint.
// ok is false when no usable price is available.
type PriceLookup func(mint string) (price float64, ok bool)

// paperHolding is one simulated position.
type paperHolding struct {
	quantity     float64
	costBasisSOL float64
}

// PaperExecutor fills orders against the aggregator's current price without
// touching the chain.
type PaperExecutor struct {
	lookup PriceLookup
	logger *log.Logger

	mu         sync.Mutex
	balanceSOL float64
	holdings   map[string]*paperHolding
}

// NewPaperExecutor creates a paper executor with a starting SOL balance.
func NewPaperExecutor(startingSOL float64, lookup PriceLookup, logger *log.Logger) *PaperExecutor {
	if logger == nil {
		logger = log.New(log.Writer(), "[paper] ", log.LstdFlags)
	}
	return &PaperExecutor{
		lookup:     lookup,
		logger:     logger,
		balanceSOL: startingSOL,
		holdings:   make(map[string]*paperHolding),
	}
}

// Buy spends amountSOL on the mint at the current price.
func (e *PaperExecutor) Buy(_ context.Context, mint, symbol string, amountSOL float64, tags []string) (*domain.TradeResult, error) {
	if amountSOL <= 0 {
		return nil, fmt.Errorf("buy amount must be positive, got %v", amountSOL)
	}

	price, ok := e.lookup(mint)
	if !ok || price <= 0 {
		return nil, fmt.Errorf("no price available for %s", mint)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if amountSOL > e.balanceSOL {
		return nil, fmt.Errorf("insufficient balance: have %.4f SOL, need %.4f", e.balanceSOL, amountSOL)
	}

	h := e.holdings[mint]
	if h == nil {
		h = &paperHolding{}
		e.holdings[mint] = h
	}
	h.quantity += amountSOL / price
	h.costBasisSOL += amountSOL
	e.balanceSOL -= amountSOL

	e.logger.Printf("buy %s %.4f SOL @ %.9f tags=%v", symbol, amountSOL, price, tags)

	return &domain.TradeResult{
		Mint:      mint,
		Symbol:    symbol,
		Side:      domain.TradeSideBuy,
		AmountSOL: amountSOL,
		Price:     price,
		Success:   true,
	}, nil
}

// Sell liquidates percent of the held position.
func (e *PaperExecutor) Sell(_ context.Context, mint, symbol string, percent float64, reason string, overridePrice float64) (*domain.TradeResult, error) {
	if percent <= 0 {
		return nil, fmt.Errorf("sell percent must be positive, got %v", percent)
	}
	if percent > 100 {
		percent = 100
	}

	price := overridePrice
	if price <= 0 {
		p, ok := e.lookup(mint)
		if !ok || p <= 0 {
			return nil, fmt.Errorf("no price available for %s", mint)
		}
		price = p
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.holdings[mint]
	if h == nil || h.quantity <= 0 {
		return nil, nil // nothing to sell
	}

	soldQty := h.quantity * percent / 100
	proceeds := soldQty * price

	h.quantity -= soldQty
	h.costBasisSOL *= 1 - percent/100
	if percent >= 100 {
		delete(e.holdings, mint)
	}
	e.balanceSOL += proceeds

	e.logger.Printf("sell %s %.1f%% @ %.9f reason=%s", symbol, percent, price, reason)

	return &domain.TradeResult{
		Mint:       mint,
		Symbol:     symbol,
		Side:       domain.TradeSideSell,
		AmountSOL:  proceeds,
		Price:      price,
		PercentOut: percent,
		Success:    true,
	}, nil
}

// BalanceSOL returns the current simulated SOL balance.
func (e *PaperExecutor) BalanceSOL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balanceSOL
}

// HoldingQuantity returns the simulated token quantity held for a mint.
func (e *PaperExecutor) HoldingQuantity(mint string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h := e.holdings[mint]; h != nil {
		return h.quantity
	}
	return 0
}
