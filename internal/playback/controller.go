// ABOUTME: Playback controller state machine
// ABOUTME: Consumes an ordered chunk stream, honours pause and stop, and always cleans up once
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackstream/internal/control"
	"github.com/Resonate-Protocol/trackstream/internal/protocol"
	"github.com/Resonate-Protocol/trackstream/internal/stream"
)

// State is a playback state
type State int

const (
	StateIdle State = iota
	StateStreaming
	StatePaused
	StateFinished
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateFinished || s == StateStopped || s == StateFailed
}

// Defaults
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultChunkTimeout = 30 * time.Second
)

var (
	// ErrTransportInterrupted wraps every failure of the inbound stream
	ErrTransportInterrupted = errors.New("transport interrupted")
	ErrSequenceGap          = errors.New("chunk sequence gap")
	ErrChunkTimeout         = errors.New("timed out waiting for chunk")
)

// ChunkStream is the inbound side of a stream. Recv returns io.EOF after the
// last chunk. Close releases the stream and may be called more than once.
type ChunkStream interface {
	Recv(ctx context.Context) (stream.Chunk, error)
	Close() error
}

// Progress is reported after every chunk, every pause poll, and every transition
type Progress struct {
	State      State
	Elapsed    time.Duration
	Total      time.Duration
	Bytes      int64
	TotalBytes int64
	Chunks     uint64
}

// Percent returns bytes received as a percentage of the expected total
func (p Progress) Percent() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	pct := float64(p.Bytes) * 100 / float64(p.TotalBytes)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Result summarises a finished playback
type Result struct {
	State   State
	Chunks  uint64
	Bytes   int64
	Elapsed time.Duration
	Paused  time.Duration
}

// Config tunes a Controller
type Config struct {
	PollInterval time.Duration
	ChunkTimeout time.Duration
	Now          func() time.Time
	OnProgress   func(Progress)
}

// Controller plays one stream at a time into a sink
type Controller struct {
	sink    Sink
	control *control.State
	config  Config
}

// NewController creates a controller. state is shared with the control listener.
func NewController(sink Sink, state *control.State, config Config) *Controller {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Controller{sink: sink, control: state, config: config}
}

// run holds the per-playback state of Play
type run struct {
	c       *Controller
	track   protocol.TrackInfo
	in      ChunkStream
	session *Session

	state  State
	opened bool
	next   uint64
	bytes  int64

	cleanupOnce sync.Once
}

// Play consumes in until it ends, stop is requested, or the transport fails.
// The sink and the stream are closed and the control state is finished on
// every path. A stop request is not an error; transport failures are
// returned wrapped in ErrTransportInterrupted.
func (c *Controller) Play(ctx context.Context, track protocol.TrackInfo, in ChunkStream) (Result, error) {
	r := &run{
		c:       c,
		track:   track,
		in:      in,
		session: NewSession(time.Duration(track.DurationSeconds)*time.Second, c.config.Now),
		state:   StateIdle,
	}

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A stop request also interrupts a blocked Recv
	go func() {
		select {
		case <-c.control.Stopped():
			cancel()
		case <-playCtx.Done():
		}
	}()

	err := func() error {
		defer r.cleanup()
		return r.loop(ctx, playCtx)
	}()

	if err != nil {
		log.Printf("Playback of %s ended: %s: %v", track.FileName, r.state, err)
	} else {
		log.Printf("Playback of %s ended: %s", track.FileName, r.state)
	}

	return Result{
		State:   r.state,
		Chunks:  r.next,
		Bytes:   r.bytes,
		Elapsed: r.session.Elapsed(),
		Paused:  r.session.PausedTotal(),
	}, err
}

func (r *run) loop(parent, ctx context.Context) error {
	c := r.c
	for {
		if c.control.StopRequested() {
			r.transition(StateStopped)
			return nil
		}

		chunk, err := r.recv(ctx)
		if err == io.EOF {
			r.transition(StateFinished)
			return nil
		}
		if err != nil {
			if c.control.StopRequested() {
				r.transition(StateStopped)
				return nil
			}
			if parent.Err() != nil {
				r.transition(StateStopped)
				return parent.Err()
			}
			r.transition(StateFailed)
			return fmt.Errorf("%w: %w", ErrTransportInterrupted, err)
		}

		if chunk.Sequence != r.next {
			r.transition(StateFailed)
			return fmt.Errorf("%w: %w: expected %d, got %d", ErrTransportInterrupted, ErrSequenceGap, r.next, chunk.Sequence)
		}

		if r.state == StateIdle {
			if err := c.sink.Open(r.track.SampleRate, r.track.Channels); err != nil {
				r.transition(StateFailed)
				return fmt.Errorf("failed to open output: %w", err)
			}
			r.opened = true
			r.session.Begin()
			r.transition(StateStreaming)
		}

		if c.control.StopRequested() {
			r.transition(StateStopped)
			return nil
		}

		if err := r.waitWhilePaused(ctx); err != nil {
			if c.control.StopRequested() {
				r.transition(StateStopped)
				return nil
			}
			r.transition(StateStopped)
			return err
		}
		if c.control.StopRequested() {
			r.transition(StateStopped)
			return nil
		}

		if err := c.sink.Write(chunk.Data); err != nil {
			r.transition(StateFailed)
			return fmt.Errorf("output write failed: %w", err)
		}

		r.next++
		r.bytes += int64(len(chunk.Data))
		r.report()
	}
}

// recv waits for the next chunk, bounded by the chunk timeout
func (r *run) recv(ctx context.Context) (stream.Chunk, error) {
	timeout := r.c.config.ChunkTimeout
	if timeout <= 0 {
		return r.in.Recv(ctx)
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chunk, err := r.in.Recv(rctx)
	if err != nil && ctx.Err() == nil && errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return chunk, fmt.Errorf("%w after %v", ErrChunkTimeout, timeout)
	}
	return chunk, err
}

// waitWhilePaused blocks while the pause flag is set, accounting the paused time.
// It returns early when stop is requested or ctx ends.
func (r *run) waitWhilePaused(ctx context.Context) error {
	c := r.c
	if !c.control.Paused() {
		return nil
	}

	r.session.Pause()
	if err := c.sink.Suspend(); err != nil {
		log.Printf("Error suspending output: %v", err)
	}
	r.transition(StatePaused)

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for c.control.Paused() && !c.control.StopRequested() {
		select {
		case <-ctx.Done():
			r.session.Resume()
			return ctx.Err()
		case <-c.control.Changed():
		case <-ticker.C:
			r.report()
		}
	}

	r.session.Resume()
	if c.control.StopRequested() {
		return nil
	}

	if err := c.sink.Resume(); err != nil {
		log.Printf("Error resuming output: %v", err)
	}
	r.transition(StateStreaming)
	return nil
}

func (r *run) transition(s State) {
	if r.state == s {
		return
	}
	r.state = s
	r.report()
}

func (r *run) report() {
	if r.c.config.OnProgress == nil {
		return
	}
	r.c.config.OnProgress(Progress{
		State:      r.state,
		Elapsed:    r.session.Elapsed(),
		Total:      r.session.Total(),
		Bytes:      r.bytes,
		TotalBytes: r.track.PCMBytes,
		Chunks:     r.next,
	})
}

// cleanup releases the sink and the stream and finishes the control state.
// It runs at most once per playback.
func (r *run) cleanup() {
	r.cleanupOnce.Do(func() {
		c := r.c
		if r.opened && r.state == StateFinished {
			if d, ok := c.sink.(Drainer); ok {
				if err := d.Drain(); err != nil {
					log.Printf("Error draining output: %v", err)
				}
			}
		}
		if err := c.sink.Close(); err != nil {
			log.Printf("Error closing output: %v", err)
		}
		if err := r.in.Close(); err != nil {
			log.Printf("Error closing stream: %v", err)
		}
		c.control.Finish()
	})
}
