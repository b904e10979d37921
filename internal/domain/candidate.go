package domain

import "time"

// QueuedCandidate is a discovered token awaiting entry evaluation.
// At most one entry per mint lives in the active queue.
type QueuedCandidate struct {
	Mint          string
	Symbol        string
	Priority      float64 // 0-100
	EnqueuedAt    time.Time
	SourceTag     string
	CurveProgress float64 // bonding-curve completion percent at discovery
	MarketCap     float64
	TradeCount    int
	HasSocials    bool
}

// RejectionRecord governs the cooldown window during which a rejected
// mint cannot re-enter the candidate queue.
type RejectionRecord struct {
	Mint       string
	Reason     string
	RejectedAt time.Time
}

// Expired reports whether the cooldown has elapsed at the given time.
func (r *RejectionRecord) Expired(now time.Time, cooldown time.Duration) bool {
	return now.Sub(r.RejectedAt) >= cooldown
}
