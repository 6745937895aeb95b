// ABOUTME: TUI update helpers for server
// ABOUTME: Functions to send server state updates to TUI
package server

import "sort"

// updateTUI sends current server state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}
	s.tui.Update(s.status())
}

// status snapshots the server for display
func (s *Server) status() ServerStatus {
	s.clientsMu.RLock()
	clients := make([]ClientInfo, 0, len(s.clients))
	sessions := 0
	for _, client := range s.clients {
		info := ClientInfo{Name: client.Name, ID: client.ID}

		client.mu.RLock()
		if sess := client.stream; sess != nil {
			info.Streaming = sess.fileName
			info.Chunks = sess.sent.Load()
			sessions++
		}
		client.mu.RUnlock()

		clients = append(clients, info)
	}
	s.clientsMu.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].Name < clients[j].Name })

	tracks := 0
	if names, err := s.library.List(); err == nil {
		tracks = len(names)
	}

	return ServerStatus{
		Name:     s.config.Name,
		Port:     s.config.Port,
		AudioDir: s.library.Dir(),
		Tracks:   tracks,
		Sessions: sessions,
		Clients:  clients,
	}
}
