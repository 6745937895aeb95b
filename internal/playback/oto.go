// ABOUTME: Oto-based audio sink
// ABOUTME: Streams PCM through an io.Pipe into an oto player
package playback

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows only one context per process, so the first Open fixes the format
var (
	otoMu         sync.Mutex
	otoCtx        *oto.Context
	otoSampleRate int
	otoChannels   int
)

var (
	// ErrFormatMismatch is returned when a track needs a different format than the open device
	ErrFormatMismatch = errors.New("audio output format mismatch")
	// ErrDrainTimeout is returned when buffered audio is still playing after drainTimeout
	ErrDrainTimeout = errors.New("audio output did not drain")
)

const drainTimeout = 10 * time.Second

func sharedContext(sampleRate, channels int) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		if otoSampleRate != sampleRate || otoChannels != channels {
			return nil, fmt.Errorf("%w: device is %dHz %dch, track is %dHz %dch",
				ErrFormatMismatch, otoSampleRate, otoChannels, sampleRate, channels)
		}
		return otoCtx, nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	otoCtx = ctx
	otoSampleRate = sampleRate
	otoChannels = channels

	log.Printf("Audio output initialized: %dHz, %d channels", sampleRate, channels)
	return otoCtx, nil
}

// OtoSink plays PCM on the default output device. One OtoSink serves one playback.
type OtoSink struct {
	mu         sync.Mutex
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	closeOnce  sync.Once
	closed     bool
}

// NewOtoSink creates an unopened sink
func NewOtoSink() *OtoSink {
	return &OtoSink{}
}

func (o *OtoSink) Open(sampleRate, channels int) error {
	ctx, err := sharedContext(sampleRate, channels)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("sink closed")
	}
	if o.player != nil {
		return nil
	}

	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = ctx.NewPlayer(o.pipeReader)
	o.player.Play()
	return nil
}

func (o *OtoSink) Write(p []byte) error {
	o.mu.Lock()
	w := o.pipeWriter
	o.mu.Unlock()

	if w == nil {
		return fmt.Errorf("output not initialized")
	}
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

func (o *OtoSink) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		o.player.Pause()
	}
	return nil
}

func (o *OtoSink) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		o.player.Play()
	}
	return nil
}

// Drain ends the input and waits for the player to run out of audio
func (o *OtoSink) Drain() error {
	o.mu.Lock()
	player, w := o.player, o.pipeWriter
	o.mu.Unlock()

	if player == nil {
		return nil
	}

	var closeErr error
	if err := w.Close(); err != nil {
		closeErr = fmt.Errorf("failed to end output pipe: %w", err)
	}
	return errors.Join(closeErr, waitDrained(player.IsPlaying, drainTimeout, 10*time.Millisecond))
}

// waitDrained polls playing until it reports false or timeout passes
func waitDrained(playing func() bool, timeout, poll time.Duration) error {
	deadline := time.Now().Add(timeout)
	for playing() {
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w after %v", ErrDrainTimeout, timeout)
		}
		time.Sleep(poll)
	}
	return nil
}

func (o *OtoSink) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.mu.Lock()
		defer o.mu.Unlock()

		o.closed = true
		if o.pipeWriter != nil {
			o.pipeWriter.Close()
		}
		if o.player != nil {
			o.player.Pause()
			err = o.player.Close()
		}
		if o.pipeReader != nil {
			o.pipeReader.Close()
		}
	})
	return err
}
