// Package candidates holds the priority queue of discovered tokens awaiting
// entry evaluation, with rejection cooldowns and a permanent processed set.
package candidates

import (
	"log"
	"sync"
	"time"

	"pump-trader/internal/domain"
)

// Config holds queue behavior parameters.
type Config struct {
	// RejectionCooldown is how long a rejected mint stays barred.
	RejectionCooldown time.Duration
	// MaxSize bounds the active queue; lowest-priority entries are
	// evicted first when exceeded.
	MaxSize int
	// SweepInterval is how often expired cooldowns are swept.
	SweepInterval time.Duration
	// Scoring holds priority scoring parameters.
	Scoring ScoreConfig
}

// DefaultConfig returns queue defaults.
func DefaultConfig() Config {
	return Config{
		RejectionCooldown: 15 * time.Minute,
		MaxSize:           200,
		SweepInterval:     time.Minute,
		Scoring:           DefaultScoreConfig(),
	}
}

// Queue is the candidate priority queue. Queue sizes are small, so lookups
// scan linearly.
type Queue struct {
	config Config
	logger *log.Logger
	now    func() time.Time

	mu        sync.Mutex
	queued    map[string]*domain.QueuedCandidate
	processed map[string]struct{}
	cooldowns map[string]*domain.RejectionRecord

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewQueue creates an empty candidate queue.
func NewQueue(config Config, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(log.Writer(), "[candidates] ", log.LstdFlags)
	}
	return &Queue{
		config:    config,
		logger:    logger,
		now:       time.Now,
		queued:    make(map[string]*domain.QueuedCandidate),
		processed: make(map[string]struct{}),
		cooldowns: make(map[string]*domain.RejectionRecord),
		sweepStop: make(chan struct{}),
	}
}

// Add enqueues a candidate, computing its priority from curve progress,
// market cap, trade count and socials. Returns true when newly queued.
// Silently rejects mints that were permanently processed, are inside a
// rejection cooldown, or are already queued (stored data is refreshed in
// place without changing queue position).
func (q *Queue) Add(c *domain.QueuedCandidate) bool {
	if c == nil || c.Mint == "" {
		return false
	}

	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, done := q.processed[c.Mint]; done {
		return false
	}

	if rec, cooling := q.cooldowns[c.Mint]; cooling {
		if !rec.Expired(now, q.config.RejectionCooldown) {
			return false
		}
		delete(q.cooldowns, c.Mint)
	}

	c.Priority = q.config.Scoring.Score(c.CurveProgress, c.MarketCap, c.TradeCount, c.HasSocials)

	if existing, ok := q.queued[c.Mint]; ok {
		// Refresh stored data in place, keep original enqueue time
		c.EnqueuedAt = existing.EnqueuedAt
		*existing = *c
		return false
	}

	c.EnqueuedAt = now
	cCopy := *c
	q.queued[c.Mint] = &cCopy

	q.trimLocked()
	return true
}

// Peek returns the highest-priority candidate without removing it,
// or nil when the queue is empty.
func (q *Queue) Peek() *domain.QueuedCandidate {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := q.maxLocked()
	if best == nil {
		return nil
	}
	bestCopy := *best
	return &bestCopy
}

// GetNext removes and returns the highest-priority candidate,
// or nil when the queue is empty.
func (q *Queue) GetNext() *domain.QueuedCandidate {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := q.maxLocked()
	if best == nil {
		return nil
	}
	delete(q.queued, best.Mint)
	return best
}

// MarkRejected removes a mint from the queue and starts its cooldown.
func (q *Queue) MarkRejected(mint, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.queued, mint)
	q.cooldowns[mint] = &domain.RejectionRecord{
		Mint:       mint,
		Reason:     reason,
		RejectedAt: q.now(),
	}
}

// MarkProcessed permanently excludes a mint from the queue.
func (q *Queue) MarkProcessed(mint string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.queued, mint)
	delete(q.cooldowns, mint)
	q.processed[mint] = struct{}{}
}

// Len returns the active queue size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

// SweepExpiredCooldowns drops cooldown entries whose window elapsed.
// Returns the number of entries removed.
func (q *Queue) SweepExpiredCooldowns() int {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for mint, rec := range q.cooldowns {
		if rec.Expired(now, q.config.RejectionCooldown) {
			delete(q.cooldowns, mint)
			removed++
		}
	}
	return removed
}

// StartSweeper runs the periodic cooldown sweep until StopSweeper.
func (q *Queue) StartSweeper() {
	go func() {
		ticker := time.NewTicker(q.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-q.sweepStop:
				return
			case <-ticker.C:
				if n := q.SweepExpiredCooldowns(); n > 0 {
					q.logger.Printf("swept %d expired cooldowns", n)
				}
			}
		}
	}()
}

// StopSweeper stops the periodic sweep. Safe to call more than once.
func (q *Queue) StopSweeper() {
	q.sweepOnce.Do(func() { close(q.sweepStop) })
}

// maxLocked returns the stored entry with the highest priority.
func (q *Queue) maxLocked() *domain.QueuedCandidate {
	var best *domain.QueuedCandidate
	for _, c := range q.queued {
		if best == nil || c.Priority > best.Priority {
			best = c
		}
	}
	return best
}

// trimLocked evicts lowest-priority entries while over MaxSize.
func (q *Queue) trimLocked() {
	if q.config.MaxSize <= 0 {
		return
	}
	for len(q.queued) > q.config.MaxSize {
		var worst *domain.QueuedCandidate
		for _, c := range q.queued {
			if worst == nil || c.Priority < worst.Priority {
				worst = c
			}
		}
		if worst == nil {
			return
		}
		delete(q.queued, worst.Mint)
		q.logger.Printf("evicted %s (priority %.1f), queue over %d", worst.Mint, worst.Priority, q.config.MaxSize)
	}
}
