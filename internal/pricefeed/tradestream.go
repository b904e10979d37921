package pricefeed

import (
	"sync"

	"pump-trader/internal/domain"
)

// MemoryTradeStream is a TradeStream backed by an in-memory map. The
// trade-event feed records samples into it as they arrive; the aggregator
// reads the most recent one per mint.
type MemoryTradeStream struct {
	mu      sync.RWMutex
	samples map[string]domain.PriceSample
}

// NewMemoryTradeStream creates an empty trade-stream recorder.
func NewMemoryTradeStream() *MemoryTradeStream {
	return &MemoryTradeStream{samples: make(map[string]domain.PriceSample)}
}

// Record stores the sample as the mint's most recent trade-stream price.
func (s *MemoryTradeStream) Record(sample domain.PriceSample) {
	sample.Source = domain.SourceTradeStream
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[sample.Mint] = sample
}

// LastSample returns the most recent sample recorded for a mint.
func (s *MemoryTradeStream) LastSample(mint string) (*domain.PriceSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.samples[mint]
	if !ok {
		return nil, false
	}
	return &sample, true
}

// Forget removes the mint's recorded sample.
func (s *MemoryTradeStream) Forget(mint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.samples, mint)
}
