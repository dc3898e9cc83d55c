package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"chatrelay/internal/protocol"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Options tunes the forwarding queue
type Options struct {
	ForwardQueueSize int
	ForwardTimeout   time.Duration
}

// Hub is the broadcast engine. It fans session events out to live connections
// and runs the forwarding-intent queue toward the extension layer.
// ARCHITECTURAL DISCOVERY: fan-out happens inside the session's exclusive
// section, so recipients observe a session's events in acceptance order.
type Hub struct {
	store     interfaces.SessionStore
	registry  interfaces.ConnectionRegistry
	forwarder interfaces.Forwarder

	// TECHNICAL DISCOVERY: 1000 buffer absorbs bursts while the sink is slow
	forwardChannel  chan types.ForwardIntent
	shutdownChannel chan struct{}
	done            chan struct{}
	forwardTimeout  time.Duration

	running bool
	mu      sync.RWMutex
}

// NewHub creates a new hub. forwarder may be nil, in which case intents are dropped.
func NewHub(store interfaces.SessionStore, registry interfaces.ConnectionRegistry, forwarder interfaces.Forwarder, opts Options) *Hub {
	if opts.ForwardQueueSize <= 0 {
		opts.ForwardQueueSize = 1000
	}
	if opts.ForwardTimeout <= 0 {
		opts.ForwardTimeout = 5 * time.Second
	}
	return &Hub{
		store:           store,
		registry:        registry,
		forwarder:       forwarder,
		forwardChannel:  make(chan types.ForwardIntent, opts.ForwardQueueSize),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		forwardTimeout:  opts.ForwardTimeout,
	}
}

// Start begins processing forwarding intents
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting broadcast hub...")
	go h.run(ctx)
	return nil
}

// Stop stops the forwarding loop after it drains what is already queued
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	log.Println("Stopping broadcast hub...")
	<-h.done
	return nil
}

// Deliver encodes evt once and enqueues it on every participant connection in
// s except the excluded participant. The caller must hold s's exclusive section.
// Per-recipient failures are logged and skipped. It returns the number of
// connections the frame was queued on.
func (h *Hub) Deliver(s *types.Session, evt protocol.Outbound, excludeParticipantID string) int {
	frame, err := protocol.Encode(evt)
	if err != nil {
		log.Printf("Dropping %s for session %s: %v", evt.EventType(), s.ID, err)
		return 0
	}

	delivered := 0
	for id, participant := range s.Participants {
		if id == excludeParticipantID || participant.ConnectionID == "" {
			continue
		}
		conn, exists := h.registry.Lookup(participant.ConnectionID)
		if !exists {
			continue
		}
		if err := conn.Send(frame); err != nil {
			log.Printf("Failed to deliver %s to participant=%s session=%s: %v", evt.EventType(), id, s.ID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Broadcast takes the session's exclusive section and delivers evt
func (h *Hub) Broadcast(sessionID string, evt protocol.Outbound, excludeParticipantID string) (int, error) {
	delivered := 0
	err := h.store.Update(sessionID, func(s *types.Session) error {
		delivered = h.Deliver(s, evt, excludeParticipantID)
		return nil
	})
	return delivered, err
}

// SendTo delivers evt to a single connection, typically a reply to its sender
func (h *Hub) SendTo(conn interfaces.Connection, evt protocol.Outbound) error {
	frame, err := protocol.Encode(evt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	return conn.Send(frame)
}

// SendError replies with an error event. Send failures are only logged.
func (h *Hub) SendError(conn interfaces.Connection, code, message string) {
	if err := h.SendTo(conn, protocol.ErrorEvent{Code: code, Message: message}); err != nil {
		log.Printf("Failed to send %s error to connection %s: %v", code, conn.GetID(), err)
	}
}

// Forward queues a forwarding intent without blocking
func (h *Hub) Forward(intent types.ForwardIntent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.forwardChannel <- intent:
		return nil
	default:
		return ErrForwardQueueFull
	}
}

// QueueDepth returns the number of intents waiting for the sink
func (h *Hub) QueueDepth() int {
	return len(h.forwardChannel)
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer log.Println("Hub processing stopped")

	for {
		select {
		case intent := <-h.forwardChannel:
			h.handleForward(ctx, intent)

		case <-h.shutdownChannel:
			h.drain(ctx)
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

func (h *Hub) drain(ctx context.Context) {
	for {
		select {
		case intent := <-h.forwardChannel:
			h.handleForward(ctx, intent)
		default:
			return
		}
	}
}

// handleForward hands one intent to the sink. Failures never reach clients.
func (h *Hub) handleForward(ctx context.Context, intent types.ForwardIntent) {
	if h.forwarder == nil {
		return
	}

	fctx, cancel := context.WithTimeout(ctx, h.forwardTimeout)
	defer cancel()

	if err := h.forwarder.Forward(fctx, intent); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Printf("Forwarding failed for message=%s session=%s: %v", intent.MessageID, intent.SessionID, err)
	}
}
