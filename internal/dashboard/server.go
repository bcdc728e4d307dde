// Package dashboard serves the live sync view over HTTP and WebSocket.
//
// Connected WebSocket clients receive a status message on connect and then
// every sync status change, record change and stats refresh the engine
// publishes.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/smarttodo/tasksync/internal/engine"
	"github.com/smarttodo/tasksync/internal/schema"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeStatus carries an engine.Status snapshot
	MessageTypeStatus MessageType = "status"

	// MessageTypeChange carries a ChangeData for one record
	MessageTypeChange MessageType = "change"

	// MessageTypeStats carries schema.Stats for the current task list
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ChangeData describes one record change
type ChangeData struct {
	Kind       string `json:"kind"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Status     string `json:"status,omitempty"`
}

// StatusReport is served on /status.
type StatusReport struct {
	Sync  engine.Status `json:"sync"`
	Stats schema.Stats  `json:"stats"`
}

// Source supplies the state served on /status and to new clients.
type Source interface {
	Status() engine.Status
	Stats() schema.Stats
}

// Server fans dashboard messages out to WebSocket clients. Each client has
// its own send queue and writer, so a slow client only loses its own
// messages.
type Server struct {
	addr     string
	source   Source
	buffer   int
	listener net.Listener
	server   *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// client is one connected WebSocket.
type client struct {
	conn *websocket.Conn
	send chan []byte
	// gone is closed when the client is dropped.
	gone chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, buffer int) *client {
	return &client{conn: conn, send: make(chan []byte, buffer), gone: make(chan struct{})}
}

// offer queues data without blocking. It reports false when the queue is
// full or the client is gone.
func (c *client) offer(data []byte) bool {
	select {
	case <-c.gone:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) drop() {
	c.once.Do(func() { close(c.gone) })
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8765). Port 0 picks a free port.
	Addr string

	// ClientBuffer is how many messages may wait for one client before it
	// is disconnected (default: 64).
	ClientBuffer int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:8765",
		ClientBuffer: 64,
		Logger:       log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a dashboard server reporting on source.
func NewServer(source Source, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	addr := config.Addr
	if addr == "" {
		addr = DefaultConfig().Addr
	}
	buffer := config.ClientBuffer
	if buffer <= 0 {
		buffer = DefaultConfig().ClientBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		source:  source,
		buffer:  buffer,
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:     s.routes(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard")
	s.cancel()

	s.mu.Lock()
	for c := range s.clients {
		c.drop()
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Broadcast queues msg for every connected client without blocking.
// Clients whose queue is full are disconnected.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	var slow []*client
	s.mu.Lock()
	for c := range s.clients {
		if !c.offer(data) {
			slow = append(slow, c)
		}
	}
	s.mu.Unlock()

	for _, c := range slow {
		s.logger.Println("Warning: client fell behind, disconnecting")
		s.removeClient(c)
	}
}

// BroadcastJSON marshals data into a message of type typ and broadcasts it.
func (s *Server) BroadcastJSON(typ MessageType, data any) error {
	msg, err := newMessage(typ, data)
	if err != nil {
		return err
	}
	s.Broadcast(msg)
	return nil
}

func newMessage(typ MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s message: %w", typ, err)
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: raw}, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := newClient(conn, s.buffer)
	// The status snapshot is queued before the client is registered, so it
	// always arrives ahead of broadcasts.
	if s.source != nil {
		if welcome, err := newMessage(MessageTypeStatus, s.source.Status()); err == nil {
			if data, err := json.Marshal(welcome); err == nil {
				c.offer(data)
			}
		}
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.clients[c] = struct{}{}
	total := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()
	s.logger.Printf("Client connected (total: %d)", total)

	go s.writeLoop(c)
	go s.readLoop(c)
}

// writeLoop sends queued messages until the client is dropped.
func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	defer func() {
		if s.ctx.Err() != nil {
			_ = c.conn.Close(websocket.StatusGoingAway, "Server shutting down")
			return
		}
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-c.gone:
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Printf("Failed to send to client: %v", err)
				s.removeClient(c)
				return
			}
		}
	}
}

// readLoop discards client frames and notices disconnects.
func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)
	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	total := len(s.clients)
	s.mu.Unlock()

	c.drop()
	if ok {
		s.logger.Printf("Client disconnected (total: %d)", total)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		http.Error(w, "no engine attached", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StatusReport{
		Sync:  s.source.Status(),
		Stats: s.source.Stats(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Smart Todo Sync</title>
</head>
<body>
    <h1>Smart Todo Sync</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Sync status: <a href="/status">/status</a></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
