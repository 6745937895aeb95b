// ABOUTME: WebSocket client for the trackstream protocol
// ABOUTME: Handles connection, handshake, request/response matching, and frame routing
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/trackstream/internal/protocol"
	"github.com/gorilla/websocket"
)

// Path is the server's WebSocket endpoint
const Path = "/trackstream"

var (
	// ErrNotConnected is returned after the connection has been closed
	ErrNotConnected = errors.New("not connected")
	// ErrUnexpectedReply is returned when a response has the wrong type
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// Config holds client configuration
type Config struct {
	ServerAddr string
	ClientID   string
	Name       string
	Version    int
}

// Client represents a WebSocket client
type Client struct {
	config Config
	conn   *websocket.Conn
	server protocol.ServerHello

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Message
	active  *Stream

	nextID atomic.Uint64

	// done is closed when the reader exits; err holds why
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.Version == 0 {
		config.Version = protocol.Version
	}
	return &Client{
		config:  config,
		pending: make(map[string]chan protocol.Message),
		done:    make(chan struct{}),
	}
}

// Connect establishes WebSocket connection and performs handshake
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: Path}
	log.Printf("Connecting to %s", u.String())

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	c.conn = conn

	if err := c.handshake(); err != nil {
		conn.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

// handshake performs the protocol handshake
func (c *Client) handshake() error {
	hello := protocol.ClientHello{
		ClientID: c.config.ClientID,
		Name:     c.config.Name,
		Version:  c.config.Version,
	}
	if err := c.sendJSON(protocol.NewMessage(protocol.TypeClientHello, "", hello)); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}

	switch msg.Type {
	case protocol.TypeServerHello:
	case protocol.TypeServerError:
		var payload protocol.ErrorPayload
		protocol.DecodePayload(msg, &payload)
		return protocol.ErrorFromPayload(payload)
	default:
		return fmt.Errorf("expected server/hello, got %s", msg.Type)
	}

	if err := protocol.DecodePayload(msg, &c.server); err != nil {
		return err
	}

	log.Printf("Handshake complete with server %s", c.server.Name)
	return nil
}

// Server returns the handshake reply of the connected server
func (c *Client) Server() protocol.ServerHello {
	return c.server
}

// Done is closed when the connection is lost or closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

func (c *Client) newID() string {
	return strconv.FormatUint(c.nextID.Add(1), 10)
}

// request sends a message and waits for the reply carrying the same ID
func (c *Client) request(ctx context.Context, msgType string, payload interface{}) (protocol.Message, error) {
	select {
	case <-c.done:
		return protocol.Message{}, c.closedErr()
	default:
	}

	id := c.newID()
	reply := make(chan protocol.Message, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.sendJSON(protocol.NewMessage(msgType, id, payload)); err != nil {
		return protocol.Message{}, fmt.Errorf("failed to send %s: %w", msgType, err)
	}

	select {
	case msg := <-reply:
		if msg.Type == protocol.TypeServerError {
			var p protocol.ErrorPayload
			if err := protocol.DecodePayload(msg, &p); err != nil {
				return protocol.Message{}, err
			}
			return protocol.Message{}, protocol.ErrorFromPayload(p)
		}
		return msg, nil
	case <-c.done:
		return protocol.Message{}, c.closedErr()
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// ListTracks asks the server for its track names
func (c *Client) ListTracks(ctx context.Context) ([]string, error) {
	msg, err := c.request(ctx, protocol.TypeLibraryList, protocol.ListRequest{})
	if err != nil {
		return nil, err
	}
	if msg.Type != protocol.TypeLibraryTracks {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, msg.Type)
	}

	var list protocol.TrackList
	if err := protocol.DecodePayload(msg, &list); err != nil {
		return nil, err
	}
	return list.FileNames, nil
}

// GetMetadata asks the server to describe a track
func (c *Client) GetMetadata(ctx context.Context, fileName string) (protocol.TrackInfo, error) {
	msg, err := c.request(ctx, protocol.TypeTrackMetadata, protocol.TrackRequest{FileName: fileName})
	if err != nil {
		return protocol.TrackInfo{}, err
	}
	if msg.Type != protocol.TypeTrackInfo {
		return protocol.TrackInfo{}, fmt.Errorf("%w: %s", ErrUnexpectedReply, msg.Type)
	}

	var info protocol.TrackInfo
	if err := protocol.DecodePayload(msg, &info); err != nil {
		return protocol.TrackInfo{}, err
	}
	return info, nil
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	var err error
	defer func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		var messageType int
		var data []byte
		messageType, data, err = c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinaryMessage(data)
		case websocket.TextMessage:
			c.handleJSONMessage(data)
		}
	}
}

// handleBinaryMessage routes a chunk frame to the active stream
func (c *Client) handleBinaryMessage(data []byte) {
	seq, payload, err := protocol.DecodeChunk(data)
	if err != nil {
		log.Printf("Invalid binary message: %v", err)
		return
	}

	c.mu.Lock()
	s := c.active
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.deliver(streamItem{chunk: chunkOf(seq, payload)})
}

// handleJSONMessage routes JSON messages by ID
func (c *Client) handleJSONMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Failed to parse JSON message: %v", err)
		return
	}

	c.mu.Lock()
	s := c.active
	if s != nil && s.id != msg.ID {
		s = nil
	}
	reply, isPending := c.pending[msg.ID]
	c.mu.Unlock()

	switch {
	case s != nil:
		c.handleStreamMessage(s, msg)
	case isPending:
		reply <- msg
	default:
		log.Printf("Dropping %s for unknown request %q", msg.Type, msg.ID)
	}
}

func (c *Client) handleStreamMessage(s *Stream, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeStreamStart:
		var start protocol.StreamStart
		if err := protocol.DecodePayload(msg, &start); err != nil {
			s.begin(start, err)
			c.finishStream(s)
			return
		}
		s.begin(start, nil)

	case protocol.TypeStreamEnd:
		var end protocol.StreamEnd
		if err := protocol.DecodePayload(msg, &end); err != nil {
			s.deliver(streamItem{err: err})
		} else {
			s.deliver(streamItem{end: &end})
		}
		c.finishStream(s)

	case protocol.TypeServerError:
		var p protocol.ErrorPayload
		protocol.DecodePayload(msg, &p)
		err := protocol.ErrorFromPayload(p)
		if !s.begin(protocol.StreamStart{}, err) {
			s.deliver(streamItem{err: err})
		}
		c.finishStream(s)

	default:
		log.Printf("Unexpected %s during stream %s", msg.Type, s.id)
	}
}

// finishStream releases the active stream slot after its final message
func (c *Client) finishStream(s *Stream) {
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()
	s.markEnded()
}

// closedErr explains why the connection is gone
func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil && !websocket.IsCloseError(c.err, websocket.CloseNormalClosure) {
		return fmt.Errorf("%w: %w", ErrNotConnected, c.err)
	}
	return ErrNotConnected
}

// Close closes the connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.conn == nil {
			return
		}
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
		log.Printf("Connection closed")
	})
}
