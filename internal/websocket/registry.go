package websocket

import (
	"log"
	"sync"

	"chatrelay/pkg/interfaces"
)

// Registry tracks live connections by connection id.
// Participants hold connection ids, and the hub resolves them here at send time.
type Registry struct {
	mu          sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup during fan-out
	connections map[string]interfaces.Connection
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
	}
}

// Register adds a connection
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.GetID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.GetID()] = conn
	return nil
}

// Unregister removes a connection. It only removes the exact instance that was
// registered under the id, so a late cleanup can never evict someone else.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[conn.GetID()]
	if !exists || registered != conn {
		return
	}
	delete(r.connections, conn.GetID())
}

// Lookup resolves a connection id
func (r *Registry) Lookup(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[connID]
	return conn, exists
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every registered connection, used on shutdown
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection %s: %v", conn.GetID(), err)
		}
	}
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := 0
	for _, conn := range r.connections {
		if conn.IsJoined() {
			joined++
		}
	}
	return map[string]int{
		"total_connections":  len(r.connections),
		"joined_connections": joined,
	}
}
