// ABOUTME: Splits a decoded PCM buffer into fixed-size, sequence-numbered chunks
// ABOUTME: Each stream request builds its own Segmenter starting at sequence 0
package stream

import "iter"

// DefaultChunkSize is the payload size of every chunk except the last
const DefaultChunkSize = 4096

// Chunk is one ordered slice of a stream's PCM bytes
type Chunk struct {
	Sequence uint64
	Data     []byte
}

// Segmenter walks a buffer in chunk-size steps.
// Chunk data aliases the source buffer; callers must not modify it.
type Segmenter struct {
	data   []byte
	size   int
	offset int
	seq    uint64
}

// NewSegmenter creates a segmenter over data. A non-positive size selects DefaultChunkSize.
func NewSegmenter(data []byte, size int) *Segmenter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Segmenter{data: data, size: size}
}

// Next returns the next chunk, or false once the buffer is exhausted
func (s *Segmenter) Next() (Chunk, bool) {
	if s.offset >= len(s.data) {
		return Chunk{}, false
	}

	end := s.offset + s.size
	if end > len(s.data) {
		end = len(s.data)
	}

	chunk := Chunk{Sequence: s.seq, Data: s.data[s.offset:end]}
	s.offset = end
	s.seq++
	return chunk, true
}

// Reset rewinds to the first chunk
func (s *Segmenter) Reset() {
	s.offset = 0
	s.seq = 0
}

// Chunks yields the remaining chunks in order
func (s *Segmenter) Chunks() iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		for {
			chunk, ok := s.Next()
			if !ok || !yield(chunk) {
				return
			}
		}
	}
}

// Len returns the total number of bytes the segmenter covers
func (s *Segmenter) Len() int {
	return len(s.data)
}

// ChunkCount returns ceil(n/size), the number of chunks a buffer of n bytes produces
func ChunkCount(n, size int) int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
