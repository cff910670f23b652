package ws

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrConnectionClosed is returned by Send after the connection was closed.
var ErrConnectionClosed = errors.New("ws: connection closed")

// State is the lifecycle position of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
type Connection struct {
	ID        string    // connection ID (UUID), also the user id once active
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established

	reader       io.Reader     // Conn, preceded by any bytes buffered during the upgrade
	writeTimeout time.Duration // per-frame write deadline, 0 for none
	writeMu      sync.Mutex    // serializes writes to this connection
	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos of the last frame read
	closeOnce    sync.Once
}

func newConnection(id string, conn net.Conn, reader io.Reader, writeTimeout time.Duration) *Connection {
	if reader == nil {
		reader = conn
	}
	c := &Connection{
		ID:           id,
		Conn:         conn,
		CreatedAt:    time.Now(),
		reader:       reader,
		writeTimeout: writeTimeout,
	}
	c.touch()
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// promote moves the connection from one state to the next only if nothing
// else, such as a concurrent Close, changed it first.
func (c *Connection) promote(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// LastActivity returns when a frame was last read from the client.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Send writes a WebSocket text frame. A failed write closes the socket so
// the read loop tears the connection down.
func (c *Connection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(data)
}

// SendAfter runs fn and then writes data while holding the write lock, so
// no other frame can reach the client between the two. If fn fails nothing
// is written and its error is returned.
func (c *Connection) SendAfter(fn func() error, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	return c.writeLocked(data)
}

func (c *Connection) writeLocked(data []byte) error {
	if c.State() >= StateClosing {
		return ErrConnectionClosed
	}
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	err := wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
	if err != nil {
		c.Close()
	}
	return err
}

// writeFrame sends a control frame under the write lock.
func (c *Connection) writeFrame(f ws.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return ws.WriteFrame(c.Conn, f)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	return c.writeFrame(ws.NewPingFrame(nil))
}

// Close closes the underlying network connection. It is safe to call more
// than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for {
			cur := c.State()
			if cur >= StateClosing || c.promote(cur, StateClosing) {
				break
			}
		}
		err = c.Conn.Close()
	})
	return err
}

// ConnectionManager is a thread-safe registry that maps connection IDs to
// their Connection objects.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{byID: make(map[string]*Connection)}
}

// Add registers a new connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID. It returns true only for the call that
// actually removed it.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	_, ok := cm.byID[id]
	delete(cm.byID, id)
	cm.mu.Unlock()
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of open connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
