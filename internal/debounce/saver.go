// Package debounce provides a coalescing save timer: many state mutations
// within a window produce exactly one write.
package debounce

import (
	"sync"
	"time"
)

// Saver coalesces calls to Schedule into a single invocation of the save
// function per window. Stop flushes any pending save synchronously.
type Saver struct {
	window time.Duration
	save   func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool
}

// NewSaver creates a Saver that invokes save at most once per window.
func NewSaver(window time.Duration, save func()) *Saver {
	return &Saver{
		window: window,
		save:   save,
	}
}

// Schedule arms the timer unless a save is already pending.
func (s *Saver) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.pending {
		return
	}
	s.pending = true
	s.timer = time.AfterFunc(s.window, s.fire)
}

// Flush runs a pending save immediately, cancelling the timer.
func (s *Saver) Flush() {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.pending = false
	s.mu.Unlock()

	s.save()
}

// Stop flushes any pending save and prevents further scheduling.
func (s *Saver) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.Flush()
}

func (s *Saver) fire() {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.mu.Unlock()

	s.save()
}
