// ABOUTME: Tests for control state, sources, and the listener loop
// ABOUTME: Uses channel and line sources; the raw terminal source needs a TTY and is not covered
package control

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStateToggle(t *testing.T) {
	s := NewState()

	if s.Paused() {
		t.Fatal("expected new state to be unpaused")
	}
	if !s.TogglePause() || !s.Paused() {
		t.Error("expected first toggle to pause")
	}
	if s.TogglePause() || s.Paused() {
		t.Error("expected second toggle to resume")
	}

	select {
	case <-s.Changed():
	default:
		t.Error("expected change notification")
	}
}

func TestStateSetPausedNotifiesOnlyOnChange(t *testing.T) {
	s := NewState()
	s.SetPaused(false)

	select {
	case <-s.Changed():
		t.Error("unexpected notification when the flag did not change")
	default:
	}
}

func TestStateStopIsSticky(t *testing.T) {
	s := NewState()
	s.RequestStop()
	s.RequestStop()

	if !s.StopRequested() {
		t.Fatal("expected stop to be requested")
	}
	select {
	case <-s.Stopped():
	default:
		t.Error("expected Stopped channel to be closed")
	}
}

func TestStateConcurrentToggles(t *testing.T) {
	s := NewState()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.TogglePause()
		}()
	}
	wg.Wait()

	if s.Paused() {
		t.Error("expected an even number of toggles to leave playback unpaused")
	}
}

func TestStateFinishIdempotent(t *testing.T) {
	s := NewState()
	s.Finish()
	s.Finish()

	select {
	case <-s.Done():
	default:
		t.Error("expected Done to be closed")
	}
}

func TestKeyMapLookup(t *testing.T) {
	keys := DefaultKeyMap()

	tests := []struct {
		key  string
		want Signal
	}{
		{"p", SignalTogglePause},
		{" ", SignalTogglePause},
		{"q", SignalStop},
		{"x", SignalNone},
		{"", SignalNone},
	}

	for _, tt := range tests {
		if got := keys.Lookup(tt.key); got != tt.want {
			t.Errorf("Lookup(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestChanSourceTimeout(t *testing.T) {
	src := NewChanSource(1)
	defer src.Close()

	start := time.Now()
	sig, err := src.Next(30 * time.Millisecond)
	if err != nil || sig != SignalNone {
		t.Fatalf("expected SignalNone, got %v (%v)", sig, err)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Error("expected Next to wait for the timeout")
	}
}

func TestChanSourceClosed(t *testing.T) {
	src := NewChanSource(1)
	src.Close()

	if src.Send(SignalStop) {
		t.Error("expected Send to fail after Close")
	}
	if _, err := src.Next(time.Second); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("expected ErrSourceClosed, got %v", err)
	}
}

func TestChanSourceClosedDiscardsQueuedSignals(t *testing.T) {
	for i := 0; i < 50; i++ {
		src := NewChanSource(4)
		src.Send(SignalTogglePause)
		src.Send(SignalStop)
		src.Close()

		sig, err := src.Next(time.Second)
		if !errors.Is(err, ErrSourceClosed) {
			t.Fatalf("run %d: expected ErrSourceClosed, got %v (%v)", i, sig, err)
		}
	}
}

// countingSource wraps a source and counts Close calls
type countingSource struct {
	Source
	mu     sync.Mutex
	closes int
}

func (c *countingSource) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.Source.Close()
}

func TestListenerToggleThenStop(t *testing.T) {
	state := NewState()
	src := &countingSource{Source: NewChanSource(4)}
	ch := src.Source.(*ChanSource)

	var signals []Signal
	l := &Listener{
		Source:       src,
		State:        state,
		PollInterval: 10 * time.Millisecond,
		OnSignal:     func(s Signal) { signals = append(signals, s) },
	}

	ch.Send(SignalTogglePause)
	ch.Send(SignalStop)

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !state.Paused() {
		t.Error("expected toggle to pause playback")
	}
	if !state.StopRequested() {
		t.Error("expected stop to be requested")
	}
	if len(signals) != 2 {
		t.Errorf("expected 2 applied signals, got %v", signals)
	}
	if src.closes != 1 {
		t.Errorf("expected source closed once, got %d", src.closes)
	}
}

func TestListenerExitsWhenFinished(t *testing.T) {
	state := NewState()
	src := &countingSource{Source: NewChanSource(1)}
	l := &Listener{Source: src, State: state, PollInterval: 10 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	state.Finish()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("listener did not exit after Finish")
	}

	if state.StopRequested() {
		t.Error("finishing should not request stop")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.closes != 1 {
		t.Errorf("expected source closed once, got %d", src.closes)
	}
}

func TestListenerExitsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{Source: NewChanSource(1), State: NewState(), PollInterval: 10 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not exit after cancel")
	}
}

type failingSource struct{}

func (failingSource) Next(time.Duration) (Signal, error) { return SignalNone, errors.New("boom") }
func (failingSource) Close() error                       { return nil }

func TestListenerSourceError(t *testing.T) {
	l := &Listener{Source: failingSource{}, State: NewState()}
	if err := l.Run(context.Background()); err == nil {
		t.Error("expected source error to be returned")
	}
}

func TestLineFeedSource(t *testing.T) {
	feed := NewLineFeed(strings.NewReader("x\nP\nq\n1\n"))
	src := feed.Source(DefaultKeyMap())

	want := []Signal{SignalNone, SignalTogglePause, SignalStop}
	for i, w := range want {
		sig, err := src.Next(time.Second)
		if err != nil {
			t.Fatalf("line %d: unexpected error: %v", i, err)
		}
		if sig != w {
			t.Errorf("line %d: expected %v, got %v", i, w, sig)
		}
	}
	src.Close()

	// The feed outlives the source, so the menu can read the next line
	line, err := feed.ReadLine()
	if err != nil || line != "1" {
		t.Errorf("expected remaining line %q, got %q (%v)", "1", line, err)
	}

	if _, err := feed.ReadLine(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestListenerEndsOnEOF(t *testing.T) {
	feed := NewLineFeed(strings.NewReader(""))
	state := NewState()
	l := &Listener{Source: feed.Source(DefaultKeyMap()), State: state, PollInterval: 10 * time.Millisecond}

	if err := l.Run(context.Background()); err != nil {
		t.Errorf("expected EOF to end the listener quietly, got %v", err)
	}
	if state.StopRequested() {
		t.Error("end of input should not stop playback")
	}
}
