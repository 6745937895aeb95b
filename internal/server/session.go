// ABOUTME: Per-request streaming sessions
// ABOUTME: Decodes a track, segments it, and sends ordered chunk frames to one client
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync/atomic"

	"github.com/Resonate-Protocol/trackstream/internal/library"
	"github.com/Resonate-Protocol/trackstream/internal/protocol"
	"github.com/Resonate-Protocol/trackstream/internal/stream"
)

// session is one in-flight track/stream request. A client has at most one.
type session struct {
	id       string
	fileName string
	cancel   context.CancelFunc
	sent     atomic.Uint64
}

// handleStream starts a streaming session for a track/stream request
func (s *Server) handleStream(client *Client, msg protocol.Message) {
	var req protocol.TrackRequest
	if err := protocol.DecodePayload(msg, &req); err != nil {
		s.sendError(client, msg.ID, protocol.CodeBadRequest, err.Error())
		return
	}
	if msg.ID == "" {
		s.sendError(client, msg.ID, protocol.CodeBadRequest, "stream request requires an id")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{id: msg.ID, fileName: req.FileName, cancel: cancel}

	client.mu.Lock()
	if client.stream != nil {
		busy := client.stream.fileName
		client.mu.Unlock()
		cancel()
		s.sendError(client, msg.ID, protocol.CodeBusy, fmt.Sprintf("already streaming %s", busy))
		return
	}
	client.stream = sess
	client.mu.Unlock()

	s.updateTUI()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		final := s.runSession(ctx, client, sess)

		// Release before the final message so the client may start another stream as soon as it sees it
		s.releaseStream(client, sess)
		if final != nil {
			if err := s.sendMessage(client, final.Type, final.ID, final.Payload); err != nil && s.config.Debug {
				log.Printf("[DEBUG] Final message for %s not sent: %v", sess.fileName, err)
			}
		}
	}()
}

// releaseStream clears the client's active session if it is still sess
func (s *Server) releaseStream(client *Client, sess *session) {
	client.mu.Lock()
	if client.stream == sess {
		client.stream = nil
	}
	client.mu.Unlock()
	s.updateTUI()
}

// cancelStream cancels the client's session. An empty id cancels whatever is active.
func (s *Server) cancelStream(client *Client, id string) {
	client.mu.RLock()
	sess := client.stream
	client.mu.RUnlock()

	if sess == nil || (id != "" && sess.id != id) {
		return
	}
	if s.config.Debug {
		log.Printf("[DEBUG] Cancelling stream %s of %s for %s", sess.id, sess.fileName, client.Name)
	}
	sess.cancel()
}

// runSession streams one track and returns the message that ends the request,
// or nil if the client is gone. Failures never escape the session.
func (s *Server) runSession(ctx context.Context, client *Client, sess *session) (final *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in stream session for %s: %v\n%s", sess.fileName, r, debug.Stack())
			final = errorMessage(sess.id, protocol.CodeInternal, "internal error while streaming")
		}
	}()

	if err := s.sessions.Acquire(ctx, 1); err != nil {
		return endMessage(sess.id, protocol.EndCancelled, 0, 0)
	}
	defer s.sessions.Release(1)

	pcm, err := s.library.Decode(sess.fileName)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			log.Printf("Stream request from %s: %v", client.Name, err)
			return errorMessage(sess.id, protocol.CodeNotFound, fmt.Sprintf("File %s not found.", sess.fileName))
		}
		log.Printf("Failed to decode %s: %v", sess.fileName, err)
		return errorMessage(sess.id, protocol.CodeInternal, fmt.Sprintf("failed to decode %s", sess.fileName))
	}

	start := protocol.StreamStart{
		Track:     trackInfo(pcm.Track),
		ChunkSize: s.config.ChunkSize,
	}
	if err := s.sendMessage(client, protocol.TypeStreamStart, sess.id, start); err != nil {
		return nil
	}

	log.Printf("Streaming %s to %s: %d bytes in %d chunks",
		sess.fileName, client.Name, len(pcm.Data), stream.ChunkCount(len(pcm.Data), s.config.ChunkSize))

	reason := protocol.EndComplete
	var bytes int64

	seg := stream.NewSegmenter(pcm.Data, s.config.ChunkSize)
	for chunk := range seg.Chunks() {
		if err := s.sendBinary(ctx, client, protocol.EncodeChunk(chunk.Sequence, chunk.Data)); err != nil {
			if errors.Is(err, errClientGone) {
				log.Printf("Client %s left during stream of %s", client.Name, sess.fileName)
				return nil
			}
			reason = protocol.EndCancelled
			break
		}
		sess.sent.Add(1)
		bytes += int64(len(chunk.Data))
	}

	log.Printf("Stream of %s to %s %s after %d chunks", sess.fileName, client.Name, reason, sess.sent.Load())
	return endMessage(sess.id, reason, sess.sent.Load(), bytes)
}

func errorMessage(id, code, message string) *protocol.Message {
	msg := protocol.NewMessage(protocol.TypeServerError, id, protocol.ErrorPayload{Code: code, Message: message})
	return &msg
}

func endMessage(id, reason string, chunks uint64, bytes int64) *protocol.Message {
	msg := protocol.NewMessage(protocol.TypeStreamEnd, id, protocol.StreamEnd{Reason: reason, Chunks: chunks, Bytes: bytes})
	return &msg
}

// trackInfo converts a library track to its wire form
func trackInfo(t library.Track) protocol.TrackInfo {
	return protocol.TrackInfo{
		FileName:        t.Name,
		DurationSeconds: t.DurationSeconds,
		SampleRate:      t.SampleRate,
		Channels:        t.Channels,
		Codec:           t.Codec,
		BitDepth:        t.BitDepth,
		PCMBytes:        t.PCMBytes,
		SourceCodec:     t.SourceCodec,
		Title:           t.Title,
		Artist:          t.Artist,
		Album:           t.Album,
	}
}
