package testutil

import (
	"sync"

	"github.com/tessera-io/tessera/internal/custody"
)

// ManualTimer implements custody.Timer with explicitly advanced logical
// time. Wakeups registered at or before the advanced deadline fire
// synchronously, in registration order, exactly once.
type ManualTimer struct {
	mu      sync.Mutex
	now     int64
	wakeups []wakeup
}

type wakeup struct {
	deadline int64
	waker    custody.Waker
	fired    bool
}

// NewManualTimer creates a timer at logical time 0.
func NewManualTimer() *ManualTimer {
	return &ManualTimer{}
}

// SetWakeup registers a one-shot wakeup. A deadline at or before the
// current time fires immediately.
func (t *ManualTimer) SetWakeup(deadline int64, waker custody.Waker) {
	t.mu.Lock()
	if deadline > t.now {
		t.wakeups = append(t.wakeups, wakeup{deadline: deadline, waker: waker})
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	waker.Wake()
}

// AdvanceTo moves logical time forward and fires every due wakeup.
// Wakers run outside the timer's lock so they may re-register wakeups.
func (t *ManualTimer) AdvanceTo(now int64) {
	t.mu.Lock()
	if now > t.now {
		t.now = now
	}
	var due []custody.Waker
	for i := range t.wakeups {
		w := &t.wakeups[i]
		if !w.fired && w.deadline <= t.now {
			w.fired = true
			due = append(due, w.waker)
		}
	}
	t.mu.Unlock()

	for _, w := range due {
		w.Wake()
	}
}

// Now returns the current logical time.
func (t *ManualTimer) Now() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

// Pending returns the number of registered, unfired wakeups.
func (t *ManualTimer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.wakeups {
		if !w.fired {
			n++
		}
	}
	return n
}
