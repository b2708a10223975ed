package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var ErrConnectionClosed = fmt.Errorf("connection closed")

// Conn is the slice of *websocket.Conn the delivery layer needs. Narrow so
// tests can substitute a mock.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is the ephemeral per-socket state: the owning user once
// authenticated, the liveness probe flag, and the last inbound activity.
// Writes are serialized by the mutex because pushes, broadcasts and the
// heartbeat sweep all race on the same socket.
type Connection struct {
	id         string
	conn       Conn
	remoteAddr string

	mu            sync.Mutex
	userID        uint
	authenticated bool
	closed        bool
	isAlive       bool
	lastActivity  time.Time
}

func NewConnection(conn Conn, remoteAddr string) *Connection {
	return &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		remoteAddr:   remoteAddr,
		isAlive:      true,
		lastActivity: time.Now(),
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

func (c *Connection) UserID() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connection) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Authenticate binds the connection to its user. Only authenticated
// connections receive routed pushes or presence broadcasts.
func (c *Connection) Authenticate(userID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.authenticated = true
}

// Touch records inbound traffic of any kind.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Connection) MarkAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isAlive = true
}

// MarkPingSent resets the probe flag; the next pong sets it back. A
// connection still unset at the following sweep is considered dead.
func (c *Connection) MarkPingSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isAlive = false
}

func (c *Connection) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isAlive
}

// Send marshals and writes a single event frame. The write deadline bounds
// a stalled peer: the write fails within writeWait instead of blocking the
// mutex that pings, pushes and the heartbeat sweep all contend on. Write
// errors never propagate beyond the caller recording a failed delivery.
func (c *Connection) Send(ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a protocol-level ping control frame.
func (c *Connection) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
