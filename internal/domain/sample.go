package domain

import "time"

// PriceSample is one observed price for a mint. Immutable once published;
// the aggregator keeps at most one current sample per mint per source.
type PriceSample struct {
	Mint      string
	Price     float64 // SOL per token, human units
	MarketCap float64 // quote currency
	Timestamp time.Time
	Source    SampleSource
	Slot      int64 // 0 when the source is not on-chain
}

// Age returns how old the sample is relative to now.
func (s *PriceSample) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}
