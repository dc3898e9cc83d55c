package websocket

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// connState is the per-connection lifecycle
type connState int

const (
	stateConnecting connState = iota
	stateJoined
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateJoined:
		return "joined"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every frame
// goes through writeCh and a single writer goroutine.
type Connection struct {
	id            string
	conn          *websocket.Conn
	writeCh       chan []byte
	writeTimeout  time.Duration
	state         connState
	sessionID     string
	participantID string
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex // guards state and binding
}

// NewConnection wraps an upgraded socket and starts its writer.
// queueSize <= 0 falls back to 100 frames.
func NewConnection(conn *websocket.Conn, queueSize int, writeTimeout time.Duration) *Connection {
	if queueSize <= 0 {
		queueSize = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		writeCh:      make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		state:        stateConnecting,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()
	return c
}

// writeLoop is the only goroutine that writes data frames.
// writeCh is never closed: senders may race with Close, and a send on a
// closed channel panics. Pending frames are dropped once ctx is done.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Write failed for connection %s: %v", c.id, err)
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// GetID returns the server-assigned connection id
func (c *Connection) GetID() string {
	return c.id
}

// Send enqueues a frame without blocking. A full queue means the peer cannot
// keep up; the connection is closed rather than stalling the broadcaster.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		log.Printf("Send queue full for connection %s (participant=%s), closing", c.id, c.GetParticipantID())
		_ = c.Close()
		return ErrSendQueueFull
	}
}

// Close tears down the socket. Safe to call from any goroutine, any number of times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()

		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Bind performs the Connecting -> Joined transition
func (c *Connection) Bind(sessionID, participantID string) error {
	if sessionID == "" || participantID == "" {
		return ErrInvalidBinding
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateClosed:
		return ErrConnectionClosed
	case stateJoined:
		return ErrAlreadyJoined
	}

	c.sessionID = sessionID
	c.participantID = participantID
	c.state = stateJoined
	return nil
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Connection) GetParticipantID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participantID
}

// IsJoined reports whether the connection is bound and still open
func (c *Connection) IsJoined() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateJoined
}

// State returns the lifecycle state name, for logging
func (c *Connection) State() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.String()
}
