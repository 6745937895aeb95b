// ABOUTME: Request/response handlers for library listing and track metadata
// ABOUTME: Each reply carries the request ID so clients can match it
package server

import (
	"errors"
	"fmt"
	"log"

	"github.com/Resonate-Protocol/trackstream/internal/library"
	"github.com/Resonate-Protocol/trackstream/internal/protocol"
)

// handleList replies with the names of all tracks
func (s *Server) handleList(client *Client, msg protocol.Message) {
	names, err := s.library.List()
	if err != nil {
		log.Printf("Failed to list library: %v", err)
		s.sendError(client, msg.ID, protocol.CodeInternal, "failed to list tracks")
		return
	}

	if err := s.sendMessage(client, protocol.TypeLibraryTracks, msg.ID, protocol.TrackList{FileNames: names}); err != nil {
		log.Printf("Error sending track list: %v", err)
	}
}

// handleMetadata replies with a track descriptor or not_found
func (s *Server) handleMetadata(client *Client, msg protocol.Message) {
	var req protocol.TrackRequest
	if err := protocol.DecodePayload(msg, &req); err != nil {
		s.sendError(client, msg.ID, protocol.CodeBadRequest, err.Error())
		return
	}

	track, err := s.library.Resolve(req.FileName)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			s.sendError(client, msg.ID, protocol.CodeNotFound, fmt.Sprintf("File %s not found.", req.FileName))
			return
		}
		log.Printf("Failed to resolve %s: %v", req.FileName, err)
		s.sendError(client, msg.ID, protocol.CodeInternal, fmt.Sprintf("failed to read %s", req.FileName))
		return
	}

	if err := s.sendMessage(client, protocol.TypeTrackInfo, msg.ID, trackInfo(track)); err != nil {
		log.Printf("Error sending track info: %v", err)
	}
}
