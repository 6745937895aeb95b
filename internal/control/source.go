// ABOUTME: Control signals and the sources that produce them
// ABOUTME: Sources hide where input comes from (raw terminal, line input, or a channel)
package control

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// Signal is a user intent read from a Source
type Signal int

const (
	SignalNone Signal = iota
	SignalTogglePause
	SignalStop
)

func (s Signal) String() string {
	switch s {
	case SignalTogglePause:
		return "toggle-pause"
	case SignalStop:
		return "stop"
	default:
		return "none"
	}
}

// ErrSourceClosed is returned by Next after Close
var ErrSourceClosed = errors.New("control source closed")

// Source yields control signals. Next blocks for at most timeout and returns
// SignalNone if nothing arrived. Close releases any input resource the source holds.
type Source interface {
	Next(timeout time.Duration) (Signal, error)
	Close() error
}

// KeyMap assigns keys to signals
type KeyMap struct {
	TogglePause []string
	Stop        []string
}

// DefaultKeyMap toggles on p or space and stops on q
func DefaultKeyMap() KeyMap {
	return KeyMap{
		TogglePause: []string{"p", " "},
		Stop:        []string{"q"},
	}
}

// Lookup maps a key to its signal. Unknown keys are ignored.
func (k KeyMap) Lookup(key string) Signal {
	for _, s := range k.Stop {
		if key == s {
			return SignalStop
		}
	}
	for _, s := range k.TogglePause {
		if key == s {
			return SignalTogglePause
		}
	}
	return SignalNone
}

// ChanSource reads signals from a channel. Send never blocks; signals sent
// while the buffer is full are dropped.
type ChanSource struct {
	signals   chan Signal
	closed    chan struct{}
	closeOnce sync.Once
}

// NewChanSource creates a channel-fed source
func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{
		signals: make(chan Signal, buffer),
		closed:  make(chan struct{}),
	}
}

// Send queues a signal and reports whether it was accepted
func (c *ChanSource) Send(sig Signal) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.signals <- sig:
		return true
	default:
		return false
	}
}

func (c *ChanSource) Next(timeout time.Duration) (Signal, error) {
	select {
	case <-c.closed:
		return SignalNone, ErrSourceClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sig := <-c.signals:
		return sig, nil
	case <-c.closed:
		return SignalNone, ErrSourceClosed
	case <-timer.C:
		return SignalNone, nil
	}
}

func (c *ChanSource) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// LineFeed reads lines from a reader in the background for the lifetime of
// the program. The menu and every playback share one feed so no goroutine is
// left behind holding a line meant for someone else.
type LineFeed struct {
	lines chan string
	done  chan struct{}
	err   error
}

// NewLineFeed starts reading lines from r
func NewLineFeed(r io.Reader) *LineFeed {
	f := &LineFeed{
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go f.read(r)
	return f
}

func (f *LineFeed) read(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		f.lines <- scanner.Text()
	}

	f.err = scanner.Err()
	if f.err == nil {
		f.err = io.EOF
	}
	close(f.done)
}

// ReadLine blocks until the next line or the end of input
func (f *LineFeed) ReadLine() (string, error) {
	select {
	case line := <-f.lines:
		return line, nil
	case <-f.done:
		return "", f.err
	}
}

// Source returns a control source reading one key per line from the feed.
// Closing it leaves the feed running.
func (f *LineFeed) Source(keys KeyMap) *LineSource {
	return &LineSource{feed: f, keys: keys, closed: make(chan struct{})}
}

// LineSource maps each line of a LineFeed to a signal
type LineSource struct {
	feed      *LineFeed
	keys      KeyMap
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *LineSource) Next(timeout time.Duration) (Signal, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.closed:
		return SignalNone, ErrSourceClosed
	default:
	}

	select {
	case line := <-l.feed.lines:
		key := strings.ToLower(strings.TrimSpace(line))
		if key == "" && line != "" {
			key = " "
		}
		return l.keys.Lookup(key), nil
	case <-l.feed.done:
		return SignalNone, l.feed.err
	case <-l.closed:
		return SignalNone, ErrSourceClosed
	case <-timer.C:
		return SignalNone, nil
	}
}

func (l *LineSource) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}
