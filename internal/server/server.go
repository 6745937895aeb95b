// ABOUTME: Main server implementation for the trackstream protocol
// ABOUTME: Manages WebSocket connections, request routing, and per-client writers
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackstream/internal/config"
	"github.com/Resonate-Protocol/trackstream/internal/discovery"
	"github.com/Resonate-Protocol/trackstream/internal/library"
	"github.com/Resonate-Protocol/trackstream/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
)

// Path is the WebSocket endpoint
const Path = "/trackstream"

// sendBuffer is the number of queued frames per client before senders block
const sendBuffer = 64

// writeTimeout bounds one blocked write. A paused player stops reading, so
// frames may legitimately wait until it resumes.
const writeTimeout = 30 * time.Minute

var errClientGone = errors.New("client disconnected")

// Server serves a library to trackstream clients
type Server struct {
	config   config.Config
	serverID string
	library  *library.Library

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	// Client management
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// Bounds concurrently decoding and streaming sessions
	sessions *semaphore.Weighted

	// mDNS discovery
	mdnsManager *discovery.Manager

	// TUI
	tui       *ServerTUI
	startTime time.Time

	// Control
	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client represents a connected client
type Client struct {
	ID   string
	Name string
	Conn *websocket.Conn

	// Output channel for messages; never closed, writers select on done
	sendChan chan interface{}
	done     chan struct{}

	mu     sync.RWMutex
	stream *session
}

// New creates a new server instance
func New(cfg config.Config, lib *library.Library) *Server {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = config.DefaultMaxSessions
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = config.DefaultChunkSize
	}

	s := &Server{
		config:   cfg,
		serverID: uuid.New().String(),
		library:  lib,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The transport is unauthenticated and meant for trusted local networks
				origin := r.Header.Get("Origin")
				if origin != "" && origin != "http://localhost" && origin != "http://127.0.0.1" {
					log.Printf("Warning: accepting WebSocket from origin: %s", origin)
				}
				return true
			},
		},
		clients:   make(map[string]*Client),
		sessions:  semaphore.NewWeighted(int64(maxSessions)),
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}

	s.mux.HandleFunc(Path, s.handleWebSocket)
	return s
}

// Handler returns the HTTP handler serving the WebSocket endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ID returns the server's identifier
func (s *Server) ID() string {
	return s.serverID
}

// Start listens on the configured port and serves until Stop is called
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener until Stop is called
func (s *Server) Serve(listener net.Listener) error {
	if s.config.UseTUI {
		s.tui = NewServerTUI()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.tui.Start(s.config.Name, s.config.Port, s.library.Dir()); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
	}

	log.Printf("Server starting: %s (ID: %s)", s.config.Name, s.serverID)
	log.Printf("Serving tracks from %s", s.library.Dir())

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	s.httpServer = &http.Server{Handler: s.mux}

	log.Printf("Server is listening on %s", listener.Addr())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	s.updateTUI()

	var serverErr error
	var tuiQuitChan <-chan struct{}
	if s.tui != nil {
		tuiQuitChan = s.tui.QuitChan()
	}

	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case <-tuiQuitChan:
		log.Printf("TUI quit requested, shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
	}

	// Reject new connections
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.tui != nil {
		s.tui.Stop()
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Hijacked WebSocket connections are not closed by Shutdown
	s.clientsMu.RLock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.clientsMu.RUnlock()

	s.wg.Wait()
	log.Printf("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)

	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(conn)
}

// handleConnection manages a client connection
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		log.Printf("Rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	if s.config.Debug {
		log.Printf("[DEBUG] New connection, waiting for handshake")
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Printf("Error reading hello: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}

	if msg.Type != protocol.TypeClientHello {
		log.Printf("Expected %s, got %s", protocol.TypeClientHello, msg.Type)
		return
	}

	var hello protocol.ClientHello
	if err := protocol.DecodePayload(msg, &hello); err != nil {
		log.Printf("Error decoding client hello: %v", err)
		return
	}

	if hello.ClientID == "" {
		log.Printf("Client hello missing ClientID")
		return
	}
	if hello.Name == "" {
		log.Printf("Client hello missing Name")
		return
	}

	log.Printf("Client hello: %s (ID: %s, version %d)", hello.Name, hello.ClientID, hello.Version)

	client := &Client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		Conn:     conn,
		sendChan: make(chan interface{}, sendBuffer),
		done:     make(chan struct{}),
	}

	s.clientsMu.Lock()
	if existing, exists := s.clients[hello.ClientID]; exists {
		s.clientsMu.Unlock()
		log.Printf("Client ID %s already connected (name: %s), rejecting duplicate", hello.ClientID, existing.Name)

		errorMsg := protocol.NewMessage(protocol.TypeServerError, msg.ID, protocol.ErrorPayload{
			Code:    protocol.CodeBadRequest,
			Message: "Client ID already connected",
		})
		if data, err := json.Marshal(errorMsg); err == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	s.updateTUI()

	writerDone := make(chan struct{})
	defer func() {
		s.cancelStream(client, "")
		close(client.done)
		<-writerDone

		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		log.Printf("Client disconnected: %s", client.Name)

		s.updateTUI()
	}()

	go func() {
		defer close(writerDone)
		s.clientWriter(client)
	}()

	serverHello := protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  protocol.Version,
	}
	if err := s.sendMessage(client, protocol.TypeServerHello, msg.ID, serverHello); err != nil {
		log.Printf("Error sending server hello: %v", err)
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleClientMessage(client, data)
	}
}

// clientWriter sends queued messages to the client
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return

		case msg := <-client.sendChan:
			switch v := msg.(type) {
			case []byte:
				client.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.Conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
					log.Printf("Error writing binary message: %v", err)
					client.Conn.Close()
					return
				}
			default:
				data, err := json.Marshal(v)
				if err != nil {
					log.Printf("Error marshaling message: %v", err)
					continue
				}
				client.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Printf("Error writing text message: %v", err)
					client.Conn.Close()
					return
				}
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
				client.Conn.Close()
				return
			}
		}
	}
}

// handleClientMessage routes a request from a client
func (s *Server) handleClientMessage(client *Client, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}

	if s.config.Debug {
		log.Printf("[DEBUG] %s from %s (id %s)", msg.Type, client.Name, msg.ID)
	}

	switch msg.Type {
	case protocol.TypeLibraryList:
		s.handleList(client, msg)
	case protocol.TypeTrackMetadata:
		s.handleMetadata(client, msg)
	case protocol.TypeTrackStream:
		s.handleStream(client, msg)
	case protocol.TypeStreamCancel:
		s.cancelStream(client, msg.ID)
	default:
		log.Printf("Unknown message type: %s", msg.Type)
		s.sendError(client, msg.ID, protocol.CodeBadRequest, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// sendMessage queues a JSON message, blocking while the client's queue is full
func (s *Server) sendMessage(client *Client, msgType, id string, payload interface{}) error {
	return s.enqueue(context.Background(), client, protocol.NewMessage(msgType, id, payload))
}

// sendBinary queues a binary frame, blocking while the client's queue is full
func (s *Server) sendBinary(ctx context.Context, client *Client, data []byte) error {
	return s.enqueue(ctx, client, data)
}

func (s *Server) enqueue(ctx context.Context, client *Client, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case client.sendChan <- v:
		return nil
	case <-client.done:
		return errClientGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendError reports a per-request failure
func (s *Server) sendError(client *Client, id, code, message string) {
	payload := protocol.ErrorPayload{Code: code, Message: message}
	if err := s.sendMessage(client, protocol.TypeServerError, id, payload); err != nil {
		log.Printf("Error sending error to %s: %v", client.Name, err)
	}
}
