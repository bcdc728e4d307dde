// Package sched runs delayed callbacks that can be cancelled individually
// or all at once.
//
// Tasks may carry a key. Scheduling a key that already has a pending task
// keeps whichever of the two is due first, so repeated retry requests never
// postpone an earlier retry.
package sched

import (
	"sync"
	"time"
)

// Handle refers to one scheduled task.
type Handle struct {
	s     *Scheduler
	key   string
	due   time.Time
	timer Timer

	mu       sync.Mutex
	canceled bool
	fired    bool
}

// Due returns the time the task runs at.
func (h *Handle) Due() time.Time { return h.due }

// Key returns the key the task was scheduled under.
func (h *Handle) Key() string { return h.key }

// Cancel stops the task if it has not started yet and reports whether it
// was stopped by this call.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	if h.canceled || h.fired {
		h.mu.Unlock()
		return false
	}
	h.canceled = true
	h.mu.Unlock()

	h.timer.Stop()
	h.s.forget(h)
	return true
}

// Pending reports whether the task has neither run nor been cancelled.
func (h *Handle) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.canceled && !h.fired
}

// Scheduler owns a set of pending tasks.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	pending map[*Handle]struct{}
	keyed   map[string]*Handle
	closed  bool
}

// New creates a scheduler driven by clock. A nil clock uses wall time.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		clock:   clock,
		pending: make(map[*Handle]struct{}),
		keyed:   make(map[string]*Handle),
	}
}

// Now returns the scheduler clock's current time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// After runs fn once delay has elapsed. With a non-empty key, an earlier
// pending task under the same key is replaced only when the new task is
// due sooner; otherwise the existing handle is returned and fn is dropped.
// After returns nil once the scheduler has been stopped with CancelAll(true).
func (s *Scheduler) After(key string, delay time.Duration, fn func()) *Handle {
	if delay < 0 {
		delay = 0
	}
	due := s.clock.Now().Add(delay)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	var replaced *Handle
	if key != "" {
		if prev, ok := s.keyed[key]; ok && prev.Pending() {
			if !due.Before(prev.due) {
				s.mu.Unlock()
				return prev
			}
			replaced = prev
		}
	}

	h := &Handle{s: s, key: key, due: due}
	s.pending[h] = struct{}{}
	if key != "" {
		s.keyed[key] = h
	}
	h.timer = s.clock.AfterFunc(delay, func() { s.fire(h, fn) })
	s.mu.Unlock()

	if replaced != nil {
		replaced.Cancel()
	}
	return h
}

func (s *Scheduler) fire(h *Handle, fn func()) {
	h.mu.Lock()
	if h.canceled || h.fired {
		h.mu.Unlock()
		return
	}
	h.fired = true
	h.mu.Unlock()

	s.forget(h)
	fn()
}

func (s *Scheduler) forget(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, h)
	if h.key != "" && s.keyed[h.key] == h {
		delete(s.keyed, h.key)
	}
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// CancelAll cancels every pending task and returns how many were stopped.
// When stop is true the scheduler also refuses new tasks.
func (s *Scheduler) CancelAll(stop bool) int {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.pending))
	for h := range s.pending {
		handles = append(handles, h)
	}
	if stop {
		s.closed = true
	}
	s.mu.Unlock()

	n := 0
	for _, h := range handles {
		if h.Cancel() {
			n++
		}
	}
	return n
}
