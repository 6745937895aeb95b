// ABOUTME: Raw-mode keyboard source for interactive terminals
// ABOUTME: Puts the terminal in raw mode and restores it on Close
package control

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/muesli/cancelreader"
)

const ctrlC = "ctrl+c"

// TerminalSource reads single key presses from a terminal
type TerminalSource struct {
	keys  KeyMap
	fd    uintptr
	state *term.State
	input cancelreader.CancelReader

	keysCh chan string
	errc   chan error

	closeOnce sync.Once
	closeErr  error
}

// IsTerminal reports whether f is an interactive terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(f.Fd())
}

// NewTerminalSource switches f into raw mode and starts reading keys.
// Close must be called to restore the terminal.
func NewTerminalSource(f *os.File, keys KeyMap) (*TerminalSource, error) {
	fd := f.Fd()
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%s is not a terminal", f.Name())
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to enter raw mode: %w", err)
	}

	input, err := cancelreader.NewReader(f)
	if err != nil {
		term.Restore(fd, state)
		return nil, fmt.Errorf("failed to create input reader: %w", err)
	}

	t := &TerminalSource{
		keys:   keys,
		fd:     fd,
		state:  state,
		input:  input,
		keysCh: make(chan string, 16),
		errc:   make(chan error, 1),
	}
	go t.read()
	return t, nil
}

func (t *TerminalSource) read() {
	buf := make([]byte, 64)
	for {
		n, err := t.input.Read(buf)
		for _, b := range buf[:n] {
			key := string(rune(b))
			if b == 3 {
				// ctrl+c arrives as a byte in raw mode
				key = ctrlC
			}
			select {
			case t.keysCh <- key:
			default:
			}
		}
		if err != nil {
			if errors.Is(err, cancelreader.ErrCanceled) {
				err = ErrSourceClosed
			}
			t.errc <- err
			return
		}
	}
}

func (t *TerminalSource) Next(timeout time.Duration) (Signal, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case key := <-t.keysCh:
		if key == ctrlC {
			return SignalStop, nil
		}
		return t.keys.Lookup(key), nil
	case err := <-t.errc:
		t.errc <- err
		return SignalNone, err
	case <-timer.C:
		return SignalNone, nil
	}
}

// Close stops reading and restores the terminal mode. Safe to call more than once.
func (t *TerminalSource) Close() error {
	t.closeOnce.Do(func() {
		t.input.Cancel()
		if err := t.input.Close(); err != nil {
			log.Printf("Error closing terminal reader: %v", err)
		}
		if err := term.Restore(t.fd, t.state); err != nil {
			t.closeErr = fmt.Errorf("failed to restore terminal: %w", err)
		}
	})
	return t.closeErr
}
