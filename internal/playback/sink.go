// ABOUTME: Output sink abstraction for decoded PCM
// ABOUTME: The controller writes chunks in order and suspends the sink while paused
package playback

// Sink receives signed 16-bit little-endian interleaved PCM
type Sink interface {
	// Open prepares the device for the given format
	Open(sampleRate, channels int) error
	// Write blocks until p has been accepted
	Write(p []byte) error
	// Suspend halts audible output without discarding buffered audio
	Suspend() error
	// Resume restarts output after Suspend
	Resume() error
	// Close releases the device. Repeated calls must be harmless.
	Close() error
}

// Drainer is implemented by sinks that can wait for buffered audio to finish playing
type Drainer interface {
	Drain() error
}
