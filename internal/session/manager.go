package session

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/pkg/types"
)

// entry pairs a session with its exclusive section
type entry struct {
	mu      sync.Mutex
	session *types.Session
}

// Manager implements the SessionStore interface.
// ARCHITECTURAL DISCOVERY: the registry lock only guards the id -> entry map;
// every read or write of a session's contents happens under that session's own
// mutex, so unrelated sessions never contend.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
}

// NewManager creates an empty session store
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

// CreateSession allocates a new active session
func (m *Manager) CreateSession(facilitatorID, name string, aiPlatforms []string) types.SessionView {
	platforms := make([]string, len(aiPlatforms))
	copy(platforms, aiPlatforms)

	session := &types.Session{
		ID:            uuid.New().String(),
		Name:          name,
		FacilitatorID: facilitatorID,
		AIPlatforms:   platforms,
		Participants:  make(map[string]*types.Participant),
		CreatedAt:     m.now(),
		Status:        types.SessionActive,
	}

	m.mu.Lock()
	m.sessions[session.ID] = &entry{session: session}
	m.mu.Unlock()

	log.Printf("Created session: id=%s name=%q platforms=%v", session.ID, session.Name, session.AIPlatforms)
	return session.View()
}

// GetSession retrieves a snapshot of a session by ID
func (m *Manager) GetSession(sessionID string) (types.SessionView, error) {
	return m.Snapshot(sessionID)
}

// ListSessions returns snapshots of every session, newest first
func (m *Manager) ListSessions() []types.SessionView {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	views := make([]types.SessionView, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		views = append(views, e.session.View())
		e.mu.Unlock()
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views
}

// Update runs fn inside the session's exclusive section
func (m *Manager) Update(sessionID string, fn func(session *types.Session) error) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.session)
}

// AddParticipant inserts the participant, replacing any entry with the same id.
// The replaced participant is returned so the caller can release its connection.
func (m *Manager) AddParticipant(sessionID string, participant types.Participant) (*types.Participant, error) {
	var replaced *types.Participant
	err := m.Update(sessionID, func(s *types.Session) error {
		replaced = AddParticipant(s, participant, m.now())
		return nil
	})
	return replaced, err
}

// RemoveParticipant removes a participant; removing an absent id is a no-op
func (m *Manager) RemoveParticipant(sessionID, participantID string) (bool, error) {
	var removed bool
	err := m.Update(sessionID, func(s *types.Session) error {
		removed = RemoveParticipant(s, participantID)
		return nil
	})
	return removed, err
}

// AppendMessage appends to the session history
func (m *Manager) AppendMessage(sessionID string, message *types.ChatMessage) error {
	return m.Update(sessionID, func(s *types.Session) error {
		s.Messages = append(s.Messages, message)
		return nil
	})
}

// AppendMedia appends to the session media list
func (m *Manager) AppendMedia(sessionID string, item *types.MediaItem) error {
	return m.Update(sessionID, func(s *types.Session) error {
		s.Media = append(s.Media, item)
		return nil
	})
}

// AttachDerivatives marks a media item processed. It succeeds at most once per item.
func (m *Manager) AttachDerivatives(sessionID, mediaID string, derivatives map[string]interface{}) error {
	return m.Update(sessionID, func(s *types.Session) error {
		return AttachDerivatives(s, mediaID, derivatives)
	})
}

// Snapshot returns a consistent read-only projection of the session
func (m *Manager) Snapshot(sessionID string) (types.SessionView, error) {
	var view types.SessionView
	err := m.Update(sessionID, func(s *types.Session) error {
		view = s.View()
		return nil
	})
	return view, err
}

// History returns up to limit most recent messages, oldest first. limit <= 0 returns all.
func (m *Manager) History(sessionID string, limit int) ([]types.ChatMessage, error) {
	var history []types.ChatMessage
	err := m.Update(sessionID, func(s *types.Session) error {
		history = RecentMessages(s, limit)
		return nil
	})
	return history, err
}

// CloseSession moves an active session to closed
func (m *Manager) CloseSession(sessionID string) error {
	err := m.Update(sessionID, func(s *types.Session) error {
		return Close(s)
	})
	if err == nil {
		log.Printf("Closed session: id=%s", sessionID)
	}
	return err
}

// Stats returns store statistics for health checks
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	participants := 0
	active := 0
	for _, e := range entries {
		e.mu.Lock()
		participants += len(e.session.Participants)
		if e.session.Status == types.SessionActive {
			active++
		}
		e.mu.Unlock()
	}

	return map[string]int{
		"sessions":        len(entries),
		"active_sessions": active,
		"participants":    participants,
	}
}

func (m *Manager) lookup(sessionID string) (*entry, error) {
	m.mu.RLock()
	e, exists := m.sessions[sessionID]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return e, nil
}
