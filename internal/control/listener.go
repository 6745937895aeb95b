// ABOUTME: Polls a control Source and applies signals to the shared State
// ABOUTME: Runs alongside the playback controller for the length of one playback
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

// DefaultPollInterval bounds how long one Next call may block
const DefaultPollInterval = 100 * time.Millisecond

// Listener feeds signals from a Source into a State
type Listener struct {
	Source       Source
	State        *State
	PollInterval time.Duration

	// OnSignal, if set, is called after a signal has been applied
	OnSignal func(Signal)
}

// Run polls until stop is signalled, the state is finished, ctx is cancelled,
// or the source fails. The source is closed on every exit path.
// End of input is not an error; playback simply continues without control.
func (l *Listener) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := l.Source.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	interval := l.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.State.Done():
			return nil
		default:
		}

		sig, err := l.Source.Next(interval)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrSourceClosed) {
				return nil
			}
			return fmt.Errorf("control source failed: %w", err)
		}

		switch sig {
		case SignalTogglePause:
			paused := l.State.TogglePause()
			log.Printf("Playback paused: %v", paused)
		case SignalStop:
			l.State.RequestStop()
			log.Printf("Playback stop requested")
		default:
			continue
		}

		if l.OnSignal != nil {
			l.OnSignal(sig)
		}
		if sig == SignalStop {
			return nil
		}
	}
}
