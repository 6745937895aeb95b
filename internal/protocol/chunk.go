// ABOUTME: Binary chunk frame encoding
// ABOUTME: Frames are [message_type:1][sequence:8 big-endian][pcm_data:N]
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ChunkMessageType tags binary frames that carry audio chunks
const ChunkMessageType = 1

// ChunkHeaderSize is the number of bytes before the chunk payload
const ChunkHeaderSize = 9

var (
	ErrShortFrame       = errors.New("binary frame too short")
	ErrUnknownFrameType = errors.New("unknown binary frame type")
)

// EncodeChunk creates a binary chunk frame
func EncodeChunk(sequence uint64, data []byte) []byte {
	frame := make([]byte, ChunkHeaderSize+len(data))
	frame[0] = ChunkMessageType
	binary.BigEndian.PutUint64(frame[1:9], sequence)
	copy(frame[9:], data)
	return frame
}

// DecodeChunk splits a binary frame into sequence number and payload.
// The returned slice aliases frame.
func DecodeChunk(frame []byte) (uint64, []byte, error) {
	if len(frame) < ChunkHeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}
	if frame[0] != ChunkMessageType {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownFrameType, frame[0])
	}
	return binary.BigEndian.Uint64(frame[1:9]), frame[9:], nil
}
