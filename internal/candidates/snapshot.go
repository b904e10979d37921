package candidates

import (
	"pump-trader/internal/domain"
)

// Snapshot is the JSON-serializable state needed to restore a queue across
// restarts.
type Snapshot struct {
	Queued     []domain.QueuedCandidate `json:"queued"`
	Processed  []string                 `json:"processed"`
	Rejections []domain.RejectionRecord `json:"rejections"`
}

// Snapshot captures the current queue state.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		Queued:     make([]domain.QueuedCandidate, 0, len(q.queued)),
		Processed:  make([]string, 0, len(q.processed)),
		Rejections: make([]domain.RejectionRecord, 0, len(q.cooldowns)),
	}
	for _, c := range q.queued {
		snap.Queued = append(snap.Queued, *c)
	}
	for mint := range q.processed {
		snap.Processed = append(snap.Processed, mint)
	}
	for _, rec := range q.cooldowns {
		snap.Rejections = append(snap.Rejections, *rec)
	}
	return snap
}

// Restore replaces the queue state with a snapshot.
func (q *Queue) Restore(snap Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queued = make(map[string]*domain.QueuedCandidate, len(snap.Queued))
	for i := range snap.Queued {
		c := snap.Queued[i]
		q.queued[c.Mint] = &c
	}
	q.processed = make(map[string]struct{}, len(snap.Processed))
	for _, mint := range snap.Processed {
		q.processed[mint] = struct{}{}
	}
	q.cooldowns = make(map[string]*domain.RejectionRecord, len(snap.Rejections))
	for i := range snap.Rejections {
		rec := snap.Rejections[i]
		q.cooldowns[rec.Mint] = &rec
	}
}
