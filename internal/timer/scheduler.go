package timer

import (
	"sync"
	"time"
)

// Scheduler tracks one latch per window so that a window that has run
// out triggers exactly one re-poll until it is seen counting again.
type Scheduler struct {
	mu      sync.Mutex
	latched map[string]bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{latched: make(map[string]bool)}
}

// Check reports whether the window named key has just run out. It
// returns true once per reset event. A nil resetsAt leaves the latch as
// it is.
func (s *Scheduler) Check(key string, resetsAt *time.Time, now time.Time) bool {
	if resetsAt == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if resetsAt.Sub(now) > 0 {
		s.latched[key] = false
		return false
	}
	if s.latched[key] {
		return false
	}
	s.latched[key] = true
	return true
}

// Reset clears every latch.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.latched)
}
