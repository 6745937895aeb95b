// ABOUTME: Client side of one track/stream request
// ABOUTME: Buffers ordered chunk frames and reports how the stream ended
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Resonate-Protocol/trackstream/internal/protocol"
	"github.com/Resonate-Protocol/trackstream/internal/stream"
)

// streamBuffer is how many frames are held before the reader stops reading
// from the connection
const streamBuffer = 64

var (
	// ErrStreamInterrupted is returned when a stream ends without delivering the whole track
	ErrStreamInterrupted = errors.New("stream interrupted")
	// ErrStreamClosed is returned by Recv after Close
	ErrStreamClosed = errors.New("stream closed")
)

type streamItem struct {
	chunk *stream.Chunk
	end   *protocol.StreamEnd
	err   error
}

type startResult struct {
	start protocol.StreamStart
	err   error
}

// Stream receives the chunks of one track. Recv returns io.EOF once the
// server reports every chunk delivered.
type Stream struct {
	client *Client
	id     string
	info   protocol.StreamStart

	startCh   chan startResult
	startOnce sync.Once

	items chan streamItem

	closed    chan struct{}
	closeOnce sync.Once
	ended     chan struct{}
	endOnce   sync.Once

	received uint64
	bytes    int64
	final    error
}

func newStream(c *Client, id string) *Stream {
	return &Stream{
		client:  c,
		id:      id,
		startCh: make(chan startResult, 1),
		items:   make(chan streamItem, streamBuffer),
		closed:  make(chan struct{}),
		ended:   make(chan struct{}),
	}
}

func chunkOf(seq uint64, data []byte) *stream.Chunk {
	return &stream.Chunk{Sequence: seq, Data: data}
}

// Stream requests a track and waits for the server to start sending it.
// A previous stream must have ended, or been closed and acknowledged, first.
func (c *Client) Stream(ctx context.Context, fileName string) (*Stream, error) {
	c.mu.Lock()
	prev := c.active
	c.mu.Unlock()

	if prev != nil {
		select {
		case <-prev.ended:
		case <-c.done:
			return nil, c.closedErr()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s := newStream(c, c.newID())

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: another stream is active", protocol.ErrBusy)
	}
	c.active = s
	c.mu.Unlock()

	if err := c.sendJSON(protocol.NewMessage(protocol.TypeTrackStream, s.id, protocol.TrackRequest{FileName: fileName})); err != nil {
		c.finishStream(s)
		return nil, fmt.Errorf("failed to send %s: %w", protocol.TypeTrackStream, err)
	}

	select {
	case r := <-s.startCh:
		if r.err != nil {
			return nil, r.err
		}
		s.info = r.start
		return s, nil
	case <-c.done:
		c.finishStream(s)
		return nil, c.closedErr()
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// ID returns the request ID of the stream
func (s *Stream) ID() string {
	return s.id
}

// Info returns the stream/start payload
func (s *Stream) Info() protocol.StreamStart {
	return s.info
}

// Ended is closed once the server has sent its final message for the stream
func (s *Stream) Ended() <-chan struct{} {
	return s.ended
}

// Recv returns the next chunk in arrival order
func (s *Stream) Recv(ctx context.Context) (stream.Chunk, error) {
	if s.final != nil {
		return stream.Chunk{}, s.final
	}
	if s.isClosed() {
		return stream.Chunk{}, ErrStreamClosed
	}

	select {
	case it := <-s.items:
		return s.handle(it)
	case <-s.closed:
		return stream.Chunk{}, ErrStreamClosed
	case <-ctx.Done():
		return stream.Chunk{}, ctx.Err()
	case <-s.client.done:
		if s.isClosed() {
			return stream.Chunk{}, ErrStreamClosed
		}
		// Frames read before the connection dropped are still delivered
		select {
		case it := <-s.items:
			return s.handle(it)
		default:
		}
		s.final = fmt.Errorf("%w: %w", ErrStreamInterrupted, s.client.closedErr())
		return stream.Chunk{}, s.final
	}
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Stream) handle(it streamItem) (stream.Chunk, error) {
	switch {
	case it.chunk != nil:
		s.received++
		s.bytes += int64(len(it.chunk.Data))
		return *it.chunk, nil

	case it.end != nil:
		switch {
		case it.end.Reason != protocol.EndComplete:
			s.final = fmt.Errorf("%w: server reported %s", ErrStreamInterrupted, it.end.Reason)
		case it.end.Chunks != s.received || it.end.Bytes != s.bytes:
			s.final = fmt.Errorf("%w: server sent %d chunks, received %d", ErrStreamInterrupted, it.end.Chunks, s.received)
		default:
			s.final = io.EOF
		}

	default:
		s.final = it.err
	}
	return stream.Chunk{}, s.final
}

// Close abandons the stream. If the server is still sending, it is asked to stop
// and remaining frames are discarded.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)

		select {
		case <-s.ended:
			return
		case <-s.client.done:
			return
		default:
		}

		if sendErr := s.client.sendJSON(protocol.NewMessage(protocol.TypeStreamCancel, s.id, protocol.StreamCancel{})); sendErr != nil {
			err = fmt.Errorf("failed to send %s: %w", protocol.TypeStreamCancel, sendErr)
		}
	})
	return err
}

// begin reports the outcome of the request. It returns false if the stream
// had already started.
func (s *Stream) begin(start protocol.StreamStart, err error) (first bool) {
	s.startOnce.Do(func() {
		first = true
		s.startCh <- startResult{start: start, err: err}
	})
	return first
}

// deliver blocks until Recv takes the item or the stream is closed
func (s *Stream) deliver(it streamItem) {
	select {
	case s.items <- it:
	case <-s.closed:
	}
}

func (s *Stream) markEnded() {
	s.endOnce.Do(func() { close(s.ended) })
}
