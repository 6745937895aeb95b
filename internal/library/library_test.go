// ABOUTME: Tests for the audio library
// ABOUTME: Uses generated WAV files to cover listing, metadata, decoding, and not-found handling
package library

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeWAV writes a 16-bit PCM WAV file of silence
func writeWAV(t *testing.T, path string, sampleRate, channels int, frames int) {
	t.Helper()

	dataLen := frames * channels * 2
	buf := make([]byte, 0, 44+dataLen)
	le := binary.LittleEndian

	buf = append(buf, "RIFF"...)
	buf = le.AppendUint32(buf, uint32(36+dataLen))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = le.AppendUint32(buf, 16)
	buf = le.AppendUint16(buf, 1)
	buf = le.AppendUint16(buf, uint16(channels))
	buf = le.AppendUint32(buf, uint32(sampleRate))
	buf = le.AppendUint32(buf, uint32(sampleRate*channels*2))
	buf = le.AppendUint16(buf, uint16(channels*2))
	buf = le.AppendUint16(buf, 16)
	buf = append(buf, "data"...)
	buf = le.AppendUint32(buf, uint32(dataLen))
	buf = append(buf, make([]byte, dataLen)...)

	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func newTestLibrary(t *testing.T) (*Library, string) {
	t.Helper()

	dir := t.TempDir()
	lib, err := Open(dir, 8)
	if err != nil {
		t.Fatalf("failed to open library: %v", err)
	}
	t.Cleanup(func() { lib.Close() })
	return lib, dir
}

func TestOpenMissingDirectory(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope"), 0); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestList(t *testing.T) {
	lib, dir := newTestLibrary(t)

	writeWAV(t, filepath.Join(dir, "b.wav"), 8000, 1, 80)
	writeWAV(t, filepath.Join(dir, "a.wav"), 8000, 1, 80)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(dir, "sub.wav"), 0755)

	names, err := lib.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	if len(names) != 2 || names[0] != "a.wav" || names[1] != "b.wav" {
		t.Errorf("expected [a.wav b.wav], got %v", names)
	}
}

func TestResolveNotFound(t *testing.T) {
	lib, dir := newTestLibrary(t)
	writeWAV(t, filepath.Join(dir, "present.wav"), 8000, 1, 80)

	tests := []string{"missing.mp3", "", "../present.wav", "sub/present.wav", ".hidden.wav", "present.txt"}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := lib.Resolve(name)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			_, err = lib.Decode(name)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound from Decode, got %v", err)
			}
		})
	}
}

func TestNotFoundMessage(t *testing.T) {
	lib, _ := newTestLibrary(t)

	_, err := lib.Resolve("missing.mp3")

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %T", err)
	}
	if err.Error() != "File missing.mp3 not found." {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestResolveWAV(t *testing.T) {
	lib, dir := newTestLibrary(t)

	// 2.5 seconds at 44.1kHz stereo
	writeWAV(t, filepath.Join(dir, "song.wav"), 44100, 2, 110250)

	track, err := lib.Resolve("song.wav")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if track.DurationSeconds != 2 {
		t.Errorf("expected duration truncated to 2s, got %d", track.DurationSeconds)
	}
	if track.SampleRate != 44100 {
		t.Errorf("expected 44100Hz, got %d", track.SampleRate)
	}
	if track.Channels != 2 {
		t.Errorf("expected 2 channels, got %d", track.Channels)
	}
	if track.Codec != Codec {
		t.Errorf("expected codec %s, got %s", Codec, track.Codec)
	}
	if track.SourceCodec != "wav" {
		t.Errorf("expected source codec wav, got %s", track.SourceCodec)
	}
	if track.PCMBytes != 110250*4 {
		t.Errorf("expected %d PCM bytes, got %d", 110250*4, track.PCMBytes)
	}

	again, err := lib.Resolve("song.wav")
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if again != track {
		t.Errorf("expected consistent results, got %+v and %+v", track, again)
	}
}

func TestResolveSeesRewrittenFile(t *testing.T) {
	lib, dir := newTestLibrary(t)
	path := filepath.Join(dir, "song.wav")

	writeWAV(t, path, 8000, 1, 8000)
	first, err := lib.Resolve("song.wav")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	writeWAV(t, path, 8000, 1, 24000)
	later := time.Now().Add(time.Minute)
	os.Chtimes(path, later, later)

	second, err := lib.Resolve("song.wav")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if first.DurationSeconds != 1 || second.DurationSeconds != 3 {
		t.Errorf("expected durations 1s then 3s, got %d and %d", first.DurationSeconds, second.DurationSeconds)
	}
}

func TestDecodeWAV(t *testing.T) {
	lib, dir := newTestLibrary(t)

	tests := []struct {
		name     string
		rate     int
		channels int
		frames   int
	}{
		{"mono.wav", 8000, 1, 10000},
		{"stereo.wav", 22050, 2, 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeWAV(t, filepath.Join(dir, tt.name), tt.rate, tt.channels, tt.frames)

			pcm, err := lib.Decode(tt.name)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}

			want := tt.frames * tt.channels * 2
			if len(pcm.Data) != want {
				t.Errorf("expected %d bytes, got %d", want, len(pcm.Data))
			}
			if pcm.Track.Channels != tt.channels || pcm.Track.SampleRate != tt.rate {
				t.Errorf("unexpected format: %+v", pcm.Track)
			}
			for i, b := range pcm.Data {
				if b != 0 {
					t.Fatalf("expected silence, found %d at byte %d", b, i)
				}
			}
		})
	}
}

func TestDecodeCorruptFile(t *testing.T) {
	lib, dir := newTestLibrary(t)
	os.WriteFile(filepath.Join(dir, "broken.wav"), []byte("not a wav file"), 0644)

	_, err := lib.Decode("broken.wav")
	if err == nil {
		t.Fatal("expected decode error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("corrupt file should not be reported as not found")
	}
}

func TestScaleTo16(t *testing.T) {
	tests := []struct {
		sample   int32
		bitDepth int
		want     int16
	}{
		{1000, 16, 1000},
		{0x7FFFFF, 24, 0x7FFF},
		{-0x800000, 24, -0x8000},
		{127, 8, 127 << 8},
	}

	for _, tt := range tests {
		if got := scaleTo16(tt.sample, tt.bitDepth); got != tt.want {
			t.Errorf("scaleTo16(%d, %d) = %d, want %d", tt.sample, tt.bitDepth, got, tt.want)
		}
	}
}

func TestWatchRefreshesListing(t *testing.T) {
	lib, dir := newTestLibrary(t)
	writeWAV(t, filepath.Join(dir, "first.wav"), 8000, 1, 80)

	if err := lib.Watch(); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	names, _ := lib.List()
	if len(names) != 1 {
		t.Fatalf("expected 1 track, got %v", names)
	}

	writeWAV(t, filepath.Join(dir, "second.wav"), 8000, 1, 80)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		names, _ = lib.List()
		if len(names) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("expected listing to pick up new file, got %v", names)
}

func TestListDropsScanOverlappedByChange(t *testing.T) {
	lib, dir := newTestLibrary(t)
	writeWAV(t, filepath.Join(dir, "first.wav"), 8000, 1, 80)

	if err := lib.Watch(); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	lib.mu.RLock()
	gen := lib.generation
	lib.mu.RUnlock()

	// A scan that started before second.wav appeared finishes after the change
	stale := []string{"first.wav"}
	writeWAV(t, filepath.Join(dir, "second.wav"), 8000, 1, 80)
	lib.invalidate()

	if lib.keep(stale, gen) {
		t.Fatal("expected a scan overlapped by an invalidation to be dropped")
	}

	names, err := lib.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("expected both tracks after the change, got %v", names)
	}
}
