// ABOUTME: Tests for the playback controller state machine
// ABOUTME: Drives the controller with fake streams and sinks to check pause, stop, failure, and cleanup
package playback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/trackstream/internal/control"
	"github.com/Resonate-Protocol/trackstream/internal/protocol"
	"github.com/Resonate-Protocol/trackstream/internal/stream"
)

// fakeSink records every call
type fakeSink struct {
	mu       sync.Mutex
	opens    int
	writes   [][]byte
	suspends int
	resumes  int
	closes   int
	drains   int
	drainErr error

	onWrite   func(i int)
	suspended chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{suspended: make(chan struct{}, 8)}
}

func (s *fakeSink) Open(sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	return nil
}

func (s *fakeSink) Write(p []byte) error {
	s.mu.Lock()
	i := len(s.writes)
	s.writes = append(s.writes, append([]byte(nil), p...))
	onWrite := s.onWrite
	s.mu.Unlock()

	if onWrite != nil {
		onWrite(i)
	}
	return nil
}

func (s *fakeSink) Suspend() error {
	s.mu.Lock()
	s.suspends++
	s.mu.Unlock()
	s.suspended <- struct{}{}
	return nil
}

func (s *fakeSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumes++
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSink) counts() (writes, suspends, resumes, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes), s.suspends, s.resumes, s.closes
}

// drainingSink adds Drain to fakeSink
type drainingSink struct {
	*fakeSink
}

func (s drainingSink) Drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drains++
	return s.drainErr
}

// fakeStream replays chunks, then fails, blocks, or ends
type fakeStream struct {
	mu     sync.Mutex
	chunks []stream.Chunk
	pos    int
	err    error
	block  bool
	closes int
}

func (f *fakeStream) Recv(ctx context.Context) (stream.Chunk, error) {
	f.mu.Lock()
	if f.pos < len(f.chunks) {
		c := f.chunks[f.pos]
		f.pos++
		f.mu.Unlock()
		return c, nil
	}
	err, block := f.err, f.block
	f.mu.Unlock()

	if err != nil {
		return stream.Chunk{}, err
	}
	if block {
		<-ctx.Done()
		return stream.Chunk{}, ctx.Err()
	}
	return stream.Chunk{}, io.EOF
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeStream) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func makeChunks(n, size int) []stream.Chunk {
	data := make([]byte, n*size)
	for i := range data {
		data[i] = byte(i)
	}
	var chunks []stream.Chunk
	seg := stream.NewSegmenter(data, size)
	for c := range seg.Chunks() {
		chunks = append(chunks, c)
	}
	return chunks
}

func testTrack() protocol.TrackInfo {
	return protocol.TrackInfo{
		FileName:        "test.wav",
		DurationSeconds: 10,
		SampleRate:      44100,
		Channels:        2,
		Codec:           "PCM",
		BitDepth:        16,
		PCMBytes:        4 * 16,
	}
}

func assertFinished(t *testing.T, state *control.State) {
	t.Helper()
	select {
	case <-state.Done():
	default:
		t.Error("expected control state to be finished")
	}
}

func TestPlayFinishes(t *testing.T) {
	sink := drainingSink{newFakeSink()}
	state := control.NewState()
	in := &fakeStream{chunks: makeChunks(4, 16)}

	var progress []Progress
	c := NewController(sink, state, Config{OnProgress: func(p Progress) { progress = append(progress, p) }})

	res, err := c.Play(context.Background(), testTrack(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.State != StateFinished {
		t.Errorf("expected finished, got %s", res.State)
	}
	if res.Chunks != 4 || res.Bytes != 64 {
		t.Errorf("expected 4 chunks and 64 bytes, got %d and %d", res.Chunks, res.Bytes)
	}

	var played bytes.Buffer
	for _, w := range sink.writes {
		played.Write(w)
	}
	var want bytes.Buffer
	for _, c := range in.chunks {
		want.Write(c.Data)
	}
	if !bytes.Equal(played.Bytes(), want.Bytes()) {
		t.Error("sink did not receive the stream bytes in order")
	}

	if sink.opens != 1 || sink.closes != 1 || sink.drains != 1 {
		t.Errorf("expected open/close/drain once, got %d/%d/%d", sink.opens, sink.closes, sink.drains)
	}
	if in.closeCount() != 1 {
		t.Errorf("expected stream closed once, got %d", in.closeCount())
	}
	assertFinished(t, state)

	last := progress[len(progress)-1]
	if last.State != StateFinished {
		t.Errorf("expected last progress state finished, got %s", last.State)
	}
	if last.Percent() != 100 {
		t.Errorf("expected 100%% progress, got %.1f", last.Percent())
	}
	for _, p := range progress {
		if p.Elapsed < 0 || p.Elapsed > p.Total {
			t.Errorf("progress elapsed %v outside [0, %v]", p.Elapsed, p.Total)
		}
	}
}

func TestPlayDrainFailureStillFinishes(t *testing.T) {
	fake := newFakeSink()
	fake.drainErr = ErrDrainTimeout
	sink := drainingSink{fake}
	state := control.NewState()

	res, err := NewController(sink, state, Config{}).Play(context.Background(), testTrack(), &fakeStream{chunks: makeChunks(2, 16)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StateFinished {
		t.Errorf("expected finished, got %s", res.State)
	}
	if fake.drains != 1 || fake.closes != 1 {
		t.Errorf("expected drain and close once, got %d/%d", fake.drains, fake.closes)
	}
	assertFinished(t, state)
}

func TestPlayEmptyStream(t *testing.T) {
	sink := drainingSink{newFakeSink()}
	state := control.NewState()

	res, err := NewController(sink, state, Config{}).Play(context.Background(), testTrack(), &fakeStream{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StateFinished {
		t.Errorf("expected finished, got %s", res.State)
	}
	if sink.opens != 0 || sink.drains != 0 {
		t.Errorf("expected sink never opened or drained, got %d opens %d drains", sink.opens, sink.drains)
	}
	if sink.closes != 1 {
		t.Errorf("expected sink closed once, got %d", sink.closes)
	}
}

func TestPlayPauseAccounting(t *testing.T) {
	clock := newManualClock()
	sink := newFakeSink()
	state := control.NewState()

	sink.onWrite = func(i int) {
		clock.Advance(time.Second)
		if i == 1 {
			state.SetPaused(true)
		}
	}

	go func() {
		<-sink.suspended
		clock.Advance(5 * time.Second)
		state.SetPaused(false)
	}()

	c := NewController(sink, state, Config{Now: clock.Now, PollInterval: 10 * time.Millisecond})
	res, err := c.Play(context.Background(), testTrack(), &fakeStream{chunks: makeChunks(4, 16)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.State != StateFinished {
		t.Errorf("expected finished, got %s", res.State)
	}
	if res.Paused != 5*time.Second {
		t.Errorf("expected 5s paused, got %v", res.Paused)
	}
	// 9s of wall clock minus 5s paused
	if res.Elapsed != 4*time.Second {
		t.Errorf("expected 4s elapsed, got %v", res.Elapsed)
	}

	writes, suspends, resumes, closes := sink.counts()
	if writes != 4 || suspends != 1 || resumes != 1 || closes != 1 {
		t.Errorf("expected 4 writes, 1 suspend, 1 resume, 1 close; got %d, %d, %d, %d", writes, suspends, resumes, closes)
	}
}

func TestPlayStopIsTerminal(t *testing.T) {
	sink := newFakeSink()
	state := control.NewState()
	sink.onWrite = func(i int) {
		if i == 1 {
			state.RequestStop()
		}
	}
	in := &fakeStream{chunks: makeChunks(5, 16)}

	res, err := NewController(sink, state, Config{}).Play(context.Background(), testTrack(), in)
	if err != nil {
		t.Fatalf("stop should not be an error, got %v", err)
	}
	if res.State != StateStopped {
		t.Errorf("expected stopped, got %s", res.State)
	}

	writes, _, _, closes := sink.counts()
	if writes != 2 {
		t.Errorf("expected no writes after stop, got %d writes", writes)
	}
	if closes != 1 {
		t.Errorf("expected sink closed exactly once, got %d", closes)
	}
	if in.closeCount() != 1 {
		t.Errorf("expected stream closed once, got %d", in.closeCount())
	}
	assertFinished(t, state)
}

func TestPlayStopWhilePaused(t *testing.T) {
	sink := newFakeSink()
	state := control.NewState()
	sink.onWrite = func(i int) {
		if i == 0 {
			state.SetPaused(true)
		}
	}

	go func() {
		<-sink.suspended
		state.RequestStop()
	}()

	c := NewController(sink, state, Config{PollInterval: 10 * time.Millisecond})
	res, err := c.Play(context.Background(), testTrack(), &fakeStream{chunks: makeChunks(5, 16)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StateStopped {
		t.Errorf("expected stopped, got %s", res.State)
	}

	writes, suspends, resumes, closes := sink.counts()
	if writes != 1 || suspends != 1 || resumes != 0 || closes != 1 {
		t.Errorf("expected 1 write, 1 suspend, 0 resumes, 1 close; got %d, %d, %d, %d", writes, suspends, resumes, closes)
	}
}

func TestPlayStopBeforeFirstChunk(t *testing.T) {
	sink := newFakeSink()
	state := control.NewState()
	state.RequestStop()

	res, err := NewController(sink, state, Config{}).Play(context.Background(), testTrack(), &fakeStream{chunks: makeChunks(3, 16)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StateStopped || res.Chunks != 0 {
		t.Errorf("expected stopped with 0 chunks, got %s with %d", res.State, res.Chunks)
	}
}

func TestPlayStopInterruptsBlockedRecv(t *testing.T) {
	sink := newFakeSink()
	state := control.NewState()
	in := &fakeStream{chunks: makeChunks(1, 16), block: true}

	time.AfterFunc(30*time.Millisecond, state.RequestStop)

	done := make(chan Result, 1)
	go func() {
		res, _ := NewController(sink, state, Config{}).Play(context.Background(), testTrack(), in)
		done <- res
	}()

	select {
	case res := <-done:
		if res.State != StateStopped {
			t.Errorf("expected stopped, got %s", res.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not interrupt the blocked receive")
	}
}

func TestPlayTransportError(t *testing.T) {
	sink := newFakeSink()
	state := control.NewState()
	in := &fakeStream{chunks: makeChunks(2, 16), err: errors.New("connection reset")}

	res, err := NewController(sink, state, Config{}).Play(context.Background(), testTrack(), in)
	if !errors.Is(err, ErrTransportInterrupted) {
		t.Fatalf("expected ErrTransportInterrupted, got %v", err)
	}
	if res.State != StateFailed {
		t.Errorf("expected failed, got %s", res.State)
	}

	writes, _, _, closes := sink.counts()
	if writes != 2 || closes != 1 {
		t.Errorf("expected 2 writes and 1 close, got %d and %d", writes, closes)
	}
	if in.closeCount() != 1 {
		t.Errorf("expected stream closed once, got %d", in.closeCount())
	}
	assertFinished(t, state)
}

func TestPlaySequenceGap(t *testing.T) {
	chunks := makeChunks(3, 16)
	chunks = append(chunks[:1], chunks[2:]...)

	sink := newFakeSink()
	_, err := NewController(sink, control.NewState(), Config{}).Play(context.Background(), testTrack(), &fakeStream{chunks: chunks})

	if !errors.Is(err, ErrSequenceGap) || !errors.Is(err, ErrTransportInterrupted) {
		t.Fatalf("expected sequence gap transport error, got %v", err)
	}
	if writes, _, _, _ := sink.counts(); writes != 1 {
		t.Errorf("expected only the first chunk written, got %d", writes)
	}
}

func TestPlayChunkTimeout(t *testing.T) {
	sink := newFakeSink()
	in := &fakeStream{block: true}

	c := NewController(sink, control.NewState(), Config{ChunkTimeout: 40 * time.Millisecond})
	res, err := c.Play(context.Background(), testTrack(), in)

	if !errors.Is(err, ErrChunkTimeout) || !errors.Is(err, ErrTransportInterrupted) {
		t.Fatalf("expected chunk timeout, got %v", err)
	}
	if res.State != StateFailed {
		t.Errorf("expected failed, got %s", res.State)
	}
}

func TestPlayContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := &fakeStream{block: true}

	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := NewController(newFakeSink(), control.NewState(), Config{}).Play(ctx, testTrack(), in)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.State != StateStopped {
		t.Errorf("expected stopped, got %s", res.State)
	}
}

func TestOtoSinkCloseIdempotent(t *testing.T) {
	sink := NewOtoSink()

	if err := sink.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if err := sink.Write([]byte{0, 0}); err == nil {
		t.Error("expected write on unopened sink to fail")
	}
}

func TestStateString(t *testing.T) {
	if StateFinished.String() != "finished" || !StateFinished.Terminal() {
		t.Error("unexpected finished state description")
	}
	if StatePaused.Terminal() {
		t.Error("paused should not be terminal")
	}
}
