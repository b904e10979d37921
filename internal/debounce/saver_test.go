package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSaver_CoalescesWithinWindow(t *testing.T) {
	var saves atomic.Int32
	s := NewSaver(50*time.Millisecond, func() { saves.Add(1) })

	for i := 0; i < 10; i++ {
		s.Schedule()
	}

	time.Sleep(150 * time.Millisecond)

	if got := saves.Load(); got != 1 {
		t.Errorf("saves = %d, want exactly 1", got)
	}
}

func TestSaver_SchedulesAgainAfterFire(t *testing.T) {
	var saves atomic.Int32
	s := NewSaver(20*time.Millisecond, func() { saves.Add(1) })

	s.Schedule()
	time.Sleep(60 * time.Millisecond)
	s.Schedule()
	time.Sleep(60 * time.Millisecond)

	if got := saves.Load(); got != 2 {
		t.Errorf("saves = %d, want 2", got)
	}
}

func TestSaver_StopFlushesPending(t *testing.T) {
	var saves atomic.Int32
	s := NewSaver(time.Hour, func() { saves.Add(1) })

	s.Schedule()
	s.Stop()

	if got := saves.Load(); got != 1 {
		t.Errorf("saves after Stop = %d, want 1", got)
	}

	// Scheduling after Stop is ignored
	s.Schedule()
	time.Sleep(20 * time.Millisecond)
	if got := saves.Load(); got != 1 {
		t.Errorf("saves after post-stop Schedule = %d, want 1", got)
	}
}

func TestSaver_FlushWithoutPendingIsNoop(t *testing.T) {
	var saves atomic.Int32
	s := NewSaver(time.Hour, func() { saves.Add(1) })

	s.Flush()
	if got := saves.Load(); got != 0 {
		t.Errorf("saves = %d, want 0", got)
	}
}
