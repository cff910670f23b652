// Package ws handles WebSocket connection management: upgrading HTTP
// connections, reading frames on one goroutine per client, keeping
// connections alive with heartbeats and handing application frames to the
// relay.
package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/kaloslazo/NubuStream/internal/metrics"
)

// ErrFrameTooLarge is returned when a client message exceeds MaxFrameBytes.
var ErrFrameTooLarge = errors.New("ws: frame too large")

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8765"
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // idle read deadline once active, 0 leaves liveness to the heartbeat
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	AuthTimeout    time.Duration // deadline for the handshake frame
	MaxFrameBytes  int64         // largest accepted client message
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8765",
		MaxConnections: 100000,
		ReadTimeout:    0,
		WriteTimeout:   10 * time.Second,
		AuthTimeout:    10 * time.Second,
		MaxFrameBytes:  64 << 10,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Handlers connects the server to the application layer.
type Handlers struct {
	// OnAuth receives the first frame of a connection. Returning an error
	// closes the connection before it becomes active.
	OnAuth func(conn *Connection, data []byte) error

	// OnMessage receives every later text or binary frame, in order.
	OnMessage func(conn *Connection, data []byte)

	// OnDisconnect is called exactly once per connection that reached
	// OnAuth, after the socket is closed.
	OnDisconnect func(conn *Connection)

	// RoomCount reports the number of rooms for /health.
	RoomCount func() int
}

// Server is the WebSocket server built on gobwas/ws. It upgrades HTTP
// connections, serves each on its own reader goroutine and tears them down
// exactly once.
type Server struct {
	config     ServerConfig
	conns      *ConnectionManager
	handlers   Handlers
	httpServer *http.Server
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	startedAt  time.Time
}

// NewServer creates a Server with the given configuration and handlers.
func NewServer(config ServerConfig, handlers Handlers) *Server {
	defaults := DefaultServerConfig()
	if config.MaxFrameBytes <= 0 {
		config.MaxFrameBytes = defaults.MaxFrameBytes
	}
	// The handshake wait is always bounded.
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = defaults.AuthTimeout
	}
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		handlers:  handlers,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// Handler returns the HTTP routes served by the relay.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start configures the HTTP server, starts the heartbeat monitor and blocks
// serving connections until Shutdown is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.startHeartbeat(s.config.Heartbeat)

	log.Printf("ws: server listening on %s (max_conns=%d)", ln.Addr(), s.config.MaxConnections)

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection and
// starts its reader goroutine.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := newConnection(uuid.NewString(), conn, upgradeReader(conn, rw), s.config.WriteTimeout)
	c.setState(StateAuthenticating)
	s.conns.Add(c)

	log.Printf("ws: new connection conn=%s remote=%s (total=%d)", c.ID, conn.RemoteAddr(), s.conns.Count())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(c)
	}()
}

// upgradeReader returns a reader that first yields any bytes the HTTP server
// buffered past the upgrade request.
func upgradeReader(conn net.Conn, rw *bufio.ReadWriter) io.Reader {
	if rw == nil || rw.Reader == nil || rw.Reader.Buffered() == 0 {
		return conn
	}
	return io.MultiReader(io.LimitReader(rw.Reader, int64(rw.Reader.Buffered())), conn)
}

// serve runs the connection from handshake to close.
func (s *Server) serve(c *Connection) {
	defer s.RemoveConnection(c)

	_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.AuthTimeout))
	data, err := s.readMessage(c)
	if err != nil {
		log.Printf("ws: no handshake conn=%s: %v", c.ID, err)
		return
	}
	_ = c.Conn.SetReadDeadline(time.Time{})

	if s.handlers.OnAuth != nil {
		if err := s.handlers.OnAuth(c, data); err != nil {
			log.Printf("ws: handshake rejected conn=%s: %v", c.ID, err)
			return
		}
	}
	if !c.promote(StateAuthenticating, StateActive) {
		return
	}

	for {
		if s.config.ReadTimeout > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}
		data, err := s.readMessage(c)
		if err != nil {
			if !isClosedErr(err) {
				log.Printf("ws: read error conn=%s: %v", c.ID, err)
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(c, data)
		}
	}
}

// readMessage returns the payload of the next data message. Control frames
// are answered inline: ping gets a pong, close ends the read with io.EOF.
func (s *Server) readMessage(c *Connection) ([]byte, error) {
	for {
		header, reader, err := wsutil.NextReader(c.reader, ws.StateServerSide)
		if err != nil {
			return nil, err
		}

		c.touch()

		if header.OpCode.IsControl() {
			payload, err := io.ReadAll(reader)
			if err != nil {
				return nil, err
			}
			switch header.OpCode {
			case ws.OpClose:
				_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
				return nil, io.EOF
			case ws.OpPing:
				if err := c.writeFrame(ws.NewPongFrame(payload)); err != nil {
					return nil, err
				}
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(reader, s.config.MaxFrameBytes+1))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > s.config.MaxFrameBytes {
			_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusMessageTooBig, "")))
			return nil, ErrFrameTooLarge
		}
		return data, nil
	}
}

// isClosedErr reports errors that are a normal end of a connection.
func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var closed wsutil.ClosedError
	return errors.As(err, &closed)
}

// handleHealth responds with the server's health status as JSON, including
// the current connection and room counts and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rooms := 0
	if s.handlers.RoomCount != nil {
		rooms = s.handlers.RoomCount()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Rooms:       rooms,
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// RemoveConnection closes c and notifies the application layer. Only the
// first call for a connection has any effect, so the read loop, heartbeat
// and shutdown can all race to remove it.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}

	reachedAuth := c.State() >= StateAuthenticating
	c.Close()

	if reachedAuth && s.handlers.OnDisconnect != nil {
		s.handlers.OnDisconnect(c)
	}
	c.setState(StateClosed)

	log.Printf("ws: connection closed conn=%s (total=%d)", c.ID, s.conns.Count())
}

// Connections returns the ConnectionManager for external access to
// connection state.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener, closes every connection and waits for
// their reader goroutines to finish or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("ws: shutting down server...")

	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, "server shutdown")))
		s.RemoveConnection(c)
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		log.Printf("ws: server stopped, all connections closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ws: shutdown: %w", ctx.Err())
	}
}
