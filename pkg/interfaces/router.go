package interfaces

import (
	"context"
)

// MessageRouter turns inbound frames into session effects.
// The websocket handler calls it from each connection's read goroutine.
type MessageRouter interface {
	// RouteFrame handles one inbound frame; every failure is answered on conn itself
	RouteFrame(ctx context.Context, conn Connection, frame []byte)

	// HandleDisconnect runs the Closed transition for conn
	HandleDisconnect(ctx context.Context, conn Connection)
}
