package clickhouse

import (
	"context"
	"fmt"
	"sync"

	"pump-trader/internal/domain"
)

// SampleStore archives accepted price samples into ClickHouse in batches.
// Samples are buffered in memory and flushed once the buffer reaches the
// flush size; Close flushes the remainder.
type SampleStore struct {
	conn      *Conn
	flushSize int

	mu     sync.Mutex
	buffer []domain.PriceSample
}

// NewSampleStore creates a sample archive with the given flush size.
// flushSize <= 0 defaults to 100.
func NewSampleStore(conn *Conn, flushSize int) *SampleStore {
	if flushSize <= 0 {
		flushSize = 100
	}
	return &SampleStore{
		conn:      conn,
		flushSize: flushSize,
	}
}

// Archive buffers one sample, flushing the batch when full.
func (s *SampleStore) Archive(ctx context.Context, sample domain.PriceSample) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, sample)
	var batch []domain.PriceSample
	if len(s.buffer) >= s.flushSize {
		batch = s.buffer
		s.buffer = nil
	}
	s.mu.Unlock()

	if batch == nil {
		return nil
	}
	return s.insert(ctx, batch)
}

// Flush writes any buffered samples immediately.
func (s *SampleStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.insert(ctx, batch)
}

func (s *SampleStore) insert(ctx context.Context, samples []domain.PriceSample) error {
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_samples (
			mint, price, market_cap, source, slot, sampled_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, sample := range samples {
		err = batch.Append(
			sample.Mint, sample.Price, sample.MarketCap,
			sample.Source.String(), sample.Slot, sample.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByMint retrieves archived samples for a mint, ordered by time ASC.
func (s *SampleStore) GetByMint(ctx context.Context, mint string) ([]domain.PriceSample, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT mint, price, market_cap, source, slot, sampled_at
		FROM price_samples
		WHERE mint = ?
		ORDER BY sampled_at ASC
	`, mint)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []domain.PriceSample
	for rows.Next() {
		var sample domain.PriceSample
		var source string
		if err := rows.Scan(&sample.Mint, &sample.Price, &sample.MarketCap,
			&source, &sample.Slot, &sample.Timestamp); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sample.Source = domain.SampleSource(source)
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// Close flushes buffered samples. The connection is owned by the caller.
func (s *SampleStore) Close(ctx context.Context) error {
	return s.Flush(ctx)
}
