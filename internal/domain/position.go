package domain

import "time"

// PositionStatus describes the lifecycle state of a monitored position.
type PositionStatus string

const (
	PositionOpen            PositionStatus = "open"
	PositionPartiallyClosed PositionStatus = "partially_closed"
	PositionClosed          PositionStatus = "closed"
)

// Position is an open holding tracked by the exit engine.
// Price fields are written by the price feed aggregator; status and
// take-profit flags are written by the exit engine. No other writers.
type Position struct {
	Mint         string
	Symbol       string
	EntryPrice   float64
	EntryTime    time.Time
	CurrentPrice float64
	HighestPrice float64
	CostBasisSOL float64
	Quantity     float64
	// TakeProfitsHit records realized TP levels in the order they fired.
	TakeProfitsHit []int
	Status         PositionStatus
	LastNewHighAt  time.Time
}

// PnLPercent returns unrealized profit and loss relative to entry.
// Returns 0 when the entry price is unusable.
func (p *Position) PnLPercent() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// TakeProfitHit reports whether the given TP level has already fired.
func (p *Position) TakeProfitHit(level int) bool {
	for _, l := range p.TakeProfitsHit {
		if l == level {
			return true
		}
	}
	return false
}

// RecordTakeProfit marks a TP level as realized. Duplicate levels are ignored.
func (p *Position) RecordTakeProfit(level int) {
	if p.TakeProfitHit(level) {
		return
	}
	p.TakeProfitsHit = append(p.TakeProfitsHit, level)
}

// ObservePrice updates the current price and the highest price seen.
// Returns true when the sample set a new high.
func (p *Position) ObservePrice(price float64, at time.Time) bool {
	p.CurrentPrice = price
	if price > p.HighestPrice {
		p.HighestPrice = price
		p.LastNewHighAt = at
		return true
	}
	return false
}

// DropFromHighPercent returns how far the current price sits below the
// highest price seen, as a positive percentage. Zero when at the high.
func (p *Position) DropFromHighPercent() float64 {
	if p.HighestPrice <= 0 || p.CurrentPrice >= p.HighestPrice {
		return 0
	}
	return (p.HighestPrice - p.CurrentPrice) / p.HighestPrice * 100
}
