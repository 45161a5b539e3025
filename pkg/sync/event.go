package sync

import (
	"sync"
	"time"
)

// Event is a resettable readiness latch. Set wakes every pending Wait and
// leaves the event set; Clear re-arms it; Wake unblocks pending waiters
// without setting it (used on disconnect so blocked readers can re-check
// state and give up).
type Event struct {
	mtx sync.Mutex
	set bool
	ch  chan struct{}
}

// NewEvent returns a cleared event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set marks the event and wakes all waiters. Idempotent.
func (e *Event) Set() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.set {
		return
	}
	e.set = true
	close(e.ch)
}

// Clear re-arms the event. Idempotent.
func (e *Event) Clear() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if !e.set {
		return
	}
	e.set = false
	e.ch = make(chan struct{})
}

// Wake unblocks all pending waiters without setting the event.
func (e *Event) Wake() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.set {
		return
	}
	close(e.ch)
	e.ch = make(chan struct{})
}

// IsSet reports the current state.
func (e *Event) IsSet() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.set
}

// Wait blocks until the event is set, a Wake fires, or the timeout elapses.
// It returns the event state at wake-up; a non-positive timeout only polls.
func (e *Event) Wait(timeout time.Duration) bool {
	e.mtx.Lock()
	if e.set {
		e.mtx.Unlock()
		return true
	}
	ch := e.ch
	e.mtx.Unlock()

	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return e.IsSet()
	case <-timer.C:
		return false
	}
}
