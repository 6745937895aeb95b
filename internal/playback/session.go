// ABOUTME: Elapsed-time bookkeeping for one playback
// ABOUTME: Subtracts time spent paused and clamps to the track duration
package playback

import "time"

// Session tracks wall-clock playback time. It is owned by one controller
// goroutine and is not safe for concurrent use.
type Session struct {
	now   func() time.Time
	total time.Duration

	started     bool
	start       time.Time
	paused      bool
	pauseStart  time.Time
	pausedTotal time.Duration
}

// NewSession creates a session for a track of the given duration
func NewSession(total time.Duration, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{now: now, total: total}
}

// Begin records the start of playback. Later calls are ignored.
func (s *Session) Begin() {
	if s.started {
		return
	}
	s.started = true
	s.start = s.now()
	s.pausedTotal = 0
}

// Started reports whether Begin has been called
func (s *Session) Started() bool {
	return s.started
}

// Pause marks the start of a pause
func (s *Session) Pause() {
	if !s.started || s.paused {
		return
	}
	s.paused = true
	s.pauseStart = s.now()
}

// Resume adds the finished pause to the paused total
func (s *Session) Resume() {
	if !s.paused {
		return
	}
	s.paused = false
	s.pausedTotal += s.now().Sub(s.pauseStart)
}

// IsPaused reports whether a pause is in progress
func (s *Session) IsPaused() bool {
	return s.paused
}

// PausedTotal returns the time spent paused, including a pause in progress
func (s *Session) PausedTotal() time.Duration {
	if s.paused {
		return s.pausedTotal + s.now().Sub(s.pauseStart)
	}
	return s.pausedTotal
}

// Elapsed returns now - start - paused, clamped to [0, total]
func (s *Session) Elapsed() time.Duration {
	if !s.started {
		return 0
	}

	elapsed := s.now().Sub(s.start) - s.PausedTotal()
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > s.total {
		elapsed = s.total
	}
	return elapsed
}

// Total returns the declared track duration
func (s *Session) Total() time.Duration {
	return s.total
}
