// ABOUTME: Pause and stop flags shared between the playback loop and the input listener
// ABOUTME: Flags are atomic; a notification channel wakes a paused playback loop
package control

import (
	"sync"
	"sync/atomic"
)

// State is the only mutable state shared by the playback controller and the
// control-signal listener of one playback.
type State struct {
	paused atomic.Bool
	stop   atomic.Bool

	changed chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
}

// NewState creates a state with both flags cleared
func NewState() *State {
	return &State{
		changed: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Paused reports whether playback should be suspended
func (s *State) Paused() bool {
	return s.paused.Load()
}

// SetPaused sets the pause flag
func (s *State) SetPaused(paused bool) {
	if s.paused.Swap(paused) != paused {
		s.notify()
	}
}

// TogglePause flips the pause flag and returns the new value
func (s *State) TogglePause() bool {
	for {
		old := s.paused.Load()
		if s.paused.CompareAndSwap(old, !old) {
			s.notify()
			return !old
		}
	}
}

// RequestStop sets the stop flag. It cannot be cleared.
func (s *State) RequestStop() {
	s.stop.Store(true)
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.notify()
}

// StopRequested reports whether stop has been requested
func (s *State) StopRequested() bool {
	return s.stop.Load()
}

// Stopped is closed once stop has been requested
func (s *State) Stopped() <-chan struct{} {
	return s.stopCh
}

// Changed receives a value after any flag changes. Only one consumer should read it.
func (s *State) Changed() <-chan struct{} {
	return s.changed
}

// Finish marks the playback as torn down so listeners exit. Safe to call more than once.
func (s *State) Finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed by Finish
func (s *State) Done() <-chan struct{} {
	return s.done
}

func (s *State) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}
