package websocket

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/interfaces"
)

// Options tunes the transport half of the gateway
type Options struct {
	ReadLimit     int64         // max inbound frame size in bytes; bounds rich media payloads
	SendQueueSize int           // per-connection outbound buffer
	WriteTimeout  time.Duration // per-frame write deadline
	PongTimeout   time.Duration // read deadline refreshed by every pong
	PingInterval  time.Duration // must be shorter than PongTimeout
}

// DefaultOptions mirrors the config defaults
func DefaultOptions() Options {
	return Options{
		ReadLimit:     8 << 20,
		SendQueueSize: 100,
		WriteTimeout:  5 * time.Second,
		PongTimeout:   60 * time.Second,
		PingInterval:  30 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser extensions connect from arbitrary origins
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests and pumps frames into the router
// ARCHITECTURAL DISCOVERY: the handler knows nothing about sessions; every
// frame, including join_session, is interpreted by the router.
type Handler struct {
	registry *Registry
	router   interfaces.MessageRouter
	opts     Options
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, router interfaces.MessageRouter, opts Options) *Handler {
	defaults := DefaultOptions()
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaults.ReadLimit
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaults.SendQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaults.PongTimeout
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongTimeout {
		opts.PingInterval = opts.PongTimeout / 2
	}

	return &Handler{
		registry: registry,
		router:   router,
		opts:     opts,
	}
}

// HandleWebSocket upgrades the request. The connection starts in Connecting
// and only a join_session frame binds it to a session.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(ws, h.opts.SendQueueSize, h.opts.WriteTimeout)
	if err := h.registry.Register(conn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = conn.Close()
		return
	}

	log.Printf("Connection opened: id=%s remote=%s", conn.GetID(), r.RemoteAddr)
	go h.handleConnection(conn)
}

// handleConnection runs the read pump until the transport closes, then
// performs the Closed transition exactly once.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		lastState := conn.State()
		_ = conn.Close()
		h.registry.Unregister(conn)
		h.router.HandleDisconnect(context.Background(), conn)
		log.Printf("Connection closed: id=%s participant=%s from=%s", conn.GetID(), conn.GetParticipantID(), lastState)
	}()

	ws := conn.conn
	ws.SetReadLimit(h.opts.ReadLimit)
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	// WriteControl is safe alongside the writer goroutine
	go func() {
		ticker := time.NewTicker(h.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s: %v", conn.GetID(), err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}
		h.router.RouteFrame(conn.ctx, conn, data)
	}
}
