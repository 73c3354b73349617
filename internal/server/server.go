// Package server implements the tactus stream server: it broadcasts a
// single audio source to every connected websocket client in real
// time, framed with the tactus stream protocol.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tactus-audio/tactus-go/internal/discovery"
	"github.com/tactus-audio/tactus-go/internal/protocol"
	"github.com/tactus-audio/tactus-go/pkg/audio/source"
)

const (
	// sendQueueSize bounds per-client outgoing messages. A client that
	// falls further behind than this loses chunks, not the connection.
	sendQueueSize = 100

	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second

	// helloTimeout bounds how long a fresh connection may sit silent
	// before its handshake.
	helloTimeout = 10 * time.Second
)

// DefaultChunk is the pacing interval when Config leaves it zero.
const DefaultChunk = 50 * time.Millisecond

// Config holds server configuration.
type Config struct {
	// Host to bind, empty for all interfaces.
	Host string
	// Port to listen on.
	Port int
	// Name announced in the handshake and over mDNS.
	Name string
	// Chunk is the pacing interval; one chunk of audio goes out per
	// interval. Defaults to DefaultChunk.
	Chunk time.Duration
	// Advertise enables mDNS announcement.
	Advertise bool
	// Source is the audio to broadcast. The server owns its pace: it
	// reads in real time regardless of how many clients listen.
	Source source.Source
	// Metadata is sent to each client when it joins, if set.
	Metadata *protocol.StreamMetadata
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server broadcasts one source to every connected client.
type Server struct {
	config   Config
	log      *slog.Logger
	serverID string

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server

	clients   map[string]*client
	clientsMu sync.RWMutex

	mdnsManager *discovery.Manager

	stopChan  chan struct{}
	stopOnce  sync.Once
	pacerDone chan struct{}
	wg        sync.WaitGroup
}

// client is one connected listener.
type client struct {
	id   string
	name string
	conn *websocket.Conn

	// send carries queued messages ([]byte goes out binary, everything
	// else as JSON). It is never closed; done releases the writer.
	send chan any
	done chan struct{}

	mu      sync.Mutex
	dropped int64
}

// New creates a server for the given source.
func New(config Config) (*Server, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("server: no source")
	}
	if !config.Source.Format().Valid() {
		return nil, fmt.Errorf("server: source has invalid format %+v", config.Source.Format())
	}
	if config.Chunk <= 0 {
		config.Chunk = DefaultChunk
	}
	if config.Source.Format().DurationToBytes(config.Chunk) <= 0 {
		return nil, fmt.Errorf("server: chunk %v shorter than one frame", config.Chunk)
	}
	if config.Name == "" {
		config.Name = "tactus-server"
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		config:   config,
		log:      log,
		serverID: uuid.New().String(),
		upgrader: websocket.Upgrader{
			// Trusted local networks only; browsers are not the
			// expected client.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:       http.NewServeMux(),
		clients:   make(map[string]*client),
		stopChan:  make(chan struct{}),
		pacerDone: make(chan struct{}),
	}
	s.mux.HandleFunc("/tactus", s.handleWebSocket)
	return s, nil
}

// Start runs the server until Stop is called, the source drains, or
// the listener fails.
func (s *Server) Start() error {
	s.log.Info("server starting",
		"name", s.config.Name, "id", s.serverID, "chunk", s.config.Chunk)

	if s.config.Advertise {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			ServerMode:  true,
			Logger:      s.log,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			s.log.Warn("mdns advertisement failed", "error", err)
		}
	}

	s.wg.Add(1)
	go s.broadcast()

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	s.log.Info("listening", "addr", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		s.log.Info("server shutting down")
	case <-s.pacerDone:
		s.log.Info("source drained, shutting down")
	case serverErr = <-errChan:
		s.log.Error("listener failed", "error", serverErr)
	}

	s.Stop()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	// Closing the connections unblocks every client read loop;
	// Shutdown does not wait for hijacked websocket connections.
	s.closeClients()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", "error", err)
	}

	s.wg.Wait()
	s.log.Info("server stopped")

	if serverErr != nil {
		return fmt.Errorf("server: listener: %w", serverErr)
	}
	return nil
}

// Stop signals the server to shut down. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.log.Info("new connection", "remote", r.RemoteAddr)
	s.handleConnection(conn)
}

// handleConnection runs the handshake and then reads until the client
// goes away. It runs on the HTTP handler goroutine.
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	select {
	case <-s.stopChan:
		return
	default:
	}

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		s.log.Warn("reading hello failed", "error", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	hello, err := parseHello(data)
	if err != nil {
		s.log.Warn("bad hello", "error", err)
		s.rejectConnection(conn, "invalid_hello", err.Error())
		return
	}
	if hello.Version != protocol.Version {
		s.log.Warn("client speaks wrong protocol version",
			"client", hello.Name, "version", hello.Version)
		s.rejectConnection(conn, "unsupported_version",
			fmt.Sprintf("server speaks protocol %d", protocol.Version))
		return
	}

	c := &client{
		id:   hello.ClientID,
		name: hello.Name,
		conn: conn,
		send: make(chan any, sendQueueSize),
		done: make(chan struct{}),
	}

	s.clientsMu.Lock()
	if _, exists := s.clients[c.id]; exists {
		s.clientsMu.Unlock()
		s.log.Warn("duplicate client id", "id", c.id, "name", c.name)
		s.rejectConnection(conn, "duplicate_client_id", "client ID already connected")
		return
	}
	s.clients[c.id] = c
	s.clientsMu.Unlock()

	s.log.Info("client joined", "name", c.name, "id", c.id)

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c.id)
		s.clientsMu.Unlock()
		close(c.done)
		s.log.Info("client left", "name", c.name)
	}()

	// Queue the handshake before the writer starts so the order on the
	// wire is fixed: hello, stream start, then metadata.
	s.sendJSON(c, protocol.TypeServerHello, protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  protocol.Version,
	})
	format := s.config.Source.Format()
	s.sendJSON(c, protocol.TypeStreamStart, protocol.StreamStart{
		Channels:   int(format.Channels),
		SampleRate: int(format.SampleRate),
		SampleBits: int(format.SampleBits),
	})
	if s.config.Metadata != nil {
		s.sendJSON(c, protocol.TypeStreamMetadata, *s.config.Metadata)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("client read failed", "name", c.name, "error", err)
			}
			return
		}
		// Clients have nothing to say after the hello yet.
	}
}

func parseHello(data []byte) (*protocol.ClientHello, error) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if msg.Type != protocol.TypeClientHello {
		return nil, fmt.Errorf("expected %s, got %s", protocol.TypeClientHello, msg.Type)
	}
	var hello protocol.ClientHello
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		return nil, fmt.Errorf("parse hello payload: %w", err)
	}
	if hello.ClientID == "" {
		return nil, fmt.Errorf("hello missing client_id")
	}
	if hello.Name == "" {
		return nil, fmt.Errorf("hello missing name")
	}
	return &hello, nil
}

// rejectConnection sends a server/error directly, bypassing the writer
// goroutine, and leaves closing to the caller.
func (s *Server) rejectConnection(conn *websocket.Conn, code, detail string) {
	data, err := protocol.Encode(protocol.TypeServerError, protocol.ServerError{
		Error:   code,
		Message: detail,
	})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteMessage(websocket.TextMessage, data)
}

// clientWriter drains the client's send queue onto the wire.
func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			var err error
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			switch v := msg.(type) {
			case []byte:
				err = c.conn.WriteMessage(websocket.BinaryMessage, v)
			default:
				var data []byte
				if data, err = json.Marshal(v); err != nil {
					s.log.Warn("marshal failed", "error", err)
					continue
				}
				err = c.conn.WriteMessage(websocket.TextMessage, data)
			}
			if err != nil {
				s.log.Warn("write failed", "name", c.name, "error", err)
				return
			}

		case <-c.done:
			return

		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// sendJSON queues a control message for one client.
func (s *Server) sendJSON(c *client, msgType string, payload any) {
	select {
	case c.send <- protocol.Message{Type: msgType, Payload: mustMarshal(payload)}:
	default:
		s.log.Warn("dropping control message, client behind",
			"name", c.name, "type", msgType)
	}
}

// sendBinary queues a chunk for one client, shedding it when the
// client is too far behind to keep the broadcast real time.
func (s *Server) sendBinary(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		c.mu.Lock()
		c.dropped++
		n := c.dropped
		c.mu.Unlock()
		if n%64 == 1 {
			s.log.Warn("client behind live edge, shedding chunks",
				"name", c.name, "dropped", n)
		}
	}
}

// snapshotClients returns the current client set without holding the
// lock during sends.
func (s *Server) snapshotClients() []*client {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	out := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Server) closeClients() {
	for _, c := range s.snapshotClients() {
		c.conn.Close()
	}
}

func mustMarshal(payload any) json.RawMessage {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("server: marshal %T: %v", payload, err))
	}
	return raw
}
