// ABOUTME: Trackstream protocol message type definitions
// ABOUTME: Defines the JSON envelope and payload structs for every message type
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version exchanged during the handshake
const Version = 1

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypeServerError   = "server/error"
	TypeLibraryList   = "library/list"
	TypeLibraryTracks = "library/tracks"
	TypeTrackMetadata = "track/metadata"
	TypeTrackInfo     = "track/info"
	TypeTrackStream   = "track/stream"
	TypeStreamStart   = "stream/start"
	TypeStreamEnd     = "stream/end"
	TypeStreamCancel  = "stream/cancel"
)

// Stream end reasons
const (
	EndComplete  = "complete"
	EndCancelled = "cancelled"
)

// Message is the top-level wrapper for all protocol messages.
// ID correlates a response (or a stream's frames) with the request that caused it.
type Message struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Payload interface{} `json:"payload"`
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ListRequest asks for the names of all streamable tracks
type ListRequest struct{}

// TrackList is the response to library/list. Order is not guaranteed.
type TrackList struct {
	FileNames []string `json:"file_names"`
}

// TrackRequest names a track for track/metadata and track/stream
type TrackRequest struct {
	FileName string `json:"file_name"`
}

// TrackInfo describes a track as it will be streamed (always decoded PCM)
type TrackInfo struct {
	FileName        string `json:"file_name"`
	DurationSeconds int    `json:"duration_seconds"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	Codec           string `json:"codec"`
	BitDepth        int    `json:"bit_depth"`
	PCMBytes        int64  `json:"pcm_bytes,omitempty"`
	SourceCodec     string `json:"source_codec,omitempty"`
	Title           string `json:"title,omitempty"`
	Artist          string `json:"artist,omitempty"`
	Album           string `json:"album,omitempty"`
}

// StreamStart precedes the first binary chunk of a stream
type StreamStart struct {
	Track     TrackInfo `json:"track"`
	ChunkSize int       `json:"chunk_size"`
}

// StreamEnd follows the last binary chunk of a stream
type StreamEnd struct {
	Reason string `json:"reason"`
	Chunks uint64 `json:"chunks"`
	Bytes  int64  `json:"bytes"`
}

// StreamCancel asks the server to stop the stream started by the request with the same ID
type StreamCancel struct{}

// ErrorPayload is the body of server/error
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage builds an envelope
func NewMessage(msgType, id string, payload interface{}) Message {
	if payload == nil {
		payload = struct{}{}
	}
	return Message{Type: msgType, ID: id, Payload: payload}
}

// DecodePayload converts a generically decoded payload into a concrete struct
func DecodePayload(msg Message, v interface{}) error {
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", msg.Type, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", msg.Type, err)
	}
	return nil
}
