package interfaces

import (
	"chatrelay/pkg/types"
)

// SessionStore owns every Session, Participant, ChatMessage and MediaItem record.
// All mutations and consistency-sensitive reads of one session are serialized
// per session; unrelated sessions never contend.
type SessionStore interface {
	// CreateSession allocates a fresh active session. It never fails.
	CreateSession(facilitatorID, name string, aiPlatforms []string) types.SessionView

	// GetSession returns a snapshot or ErrSessionNotFound
	GetSession(sessionID string) (types.SessionView, error)

	// ListSessions returns a snapshot of every session
	ListSessions() []types.SessionView

	// AddParticipant inserts or overwrites (last join wins) a participant and
	// returns the entry it replaced, if any
	AddParticipant(sessionID string, participant types.Participant) (*types.Participant, error)

	// RemoveParticipant deletes a participant; absent ids are a no-op
	RemoveParticipant(sessionID, participantID string) (bool, error)

	AppendMessage(sessionID string, message *types.ChatMessage) error
	AppendMedia(sessionID string, item *types.MediaItem) error

	// AttachDerivatives is the single permitted media mutation (raw -> processed)
	AttachDerivatives(sessionID, mediaID string, derivatives map[string]interface{}) error

	// Snapshot returns a read-only projection taken at one point in time
	Snapshot(sessionID string) (types.SessionView, error)

	// History returns up to limit most recent messages, oldest first
	History(sessionID string, limit int) ([]types.ChatMessage, error)

	// CloseSession marks a session closed
	CloseSession(sessionID string) error

	// Update runs fn inside the session's exclusive section. fn must not block
	// on external I/O and must not retain the *types.Session.
	Update(sessionID string, fn func(session *types.Session) error) error

	// Stats reports store sizes for health checks
	Stats() map[string]int
}
