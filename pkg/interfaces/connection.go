package interfaces

// Connection is one live client transport as seen by the core.
// ARCHITECTURAL DISCOVERY: Participants refer to connections by id only, so a
// torn-down connection can never be reached through a stale pointer in session state.
type Connection interface {
	// GetID returns the server-assigned connection id
	GetID() string

	// Send queues an encoded frame for delivery. It must be safe for concurrent
	// use and must not block; after Close it returns an error and sends nothing.
	Send(frame []byte) error

	// Close tears down the transport. Idempotent.
	Close() error

	// Bind moves the connection from Connecting to Joined for exactly one
	// (session, participant) pair. A second Bind fails.
	Bind(sessionID, participantID string) error

	// GetSessionID returns the bound session, empty while Connecting
	GetSessionID() string

	// GetParticipantID returns the bound participant, empty while Connecting
	GetParticipantID() string

	// IsJoined reports whether Bind has succeeded and the connection is not closed
	IsJoined() bool
}

// ConnectionRegistry tracks live connections by id
type ConnectionRegistry interface {
	Register(conn Connection) error
	Unregister(conn Connection)
	Lookup(connID string) (Connection, bool)
	Count() int
}
