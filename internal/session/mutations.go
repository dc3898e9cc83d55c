package session

import (
	"fmt"
	"time"

	"chatrelay/pkg/types"
)

// The helpers in this file operate on a session the caller already holds
// exclusively, either through Manager.Update or a store-provided section.

// AddParticipant inserts p, overwriting an existing entry with the same id.
// JoinedAt is stamped with now when unset. The replaced entry is returned.
func AddParticipant(s *types.Session, p types.Participant, now time.Time) *types.Participant {
	if s.Participants == nil {
		s.Participants = make(map[string]*types.Participant)
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	if p.Status == "" {
		p.Status = types.PresenceActive
	}

	replaced := s.Participants[p.ID]
	stored := p
	s.Participants[p.ID] = &stored
	return replaced
}

// RemoveParticipant deletes a participant and reports whether one was present
func RemoveParticipant(s *types.Session, participantID string) bool {
	if _, exists := s.Participants[participantID]; !exists {
		return false
	}
	delete(s.Participants, participantID)
	return true
}

// SetPresence updates a participant's presence
func SetPresence(s *types.Session, participantID string, status types.Presence) error {
	p, exists := s.Participants[participantID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrParticipantNotFound, participantID)
	}
	p.Status = status
	return nil
}

// FindMedia returns the media item with the given id
func FindMedia(s *types.Session, mediaID string) (*types.MediaItem, error) {
	for _, item := range s.Media {
		if item.ID == mediaID {
			return item, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMediaNotFound, mediaID)
}

// AttachDerivatives moves a raw media item to processed. It fails once the
// item is processed or finalized.
func AttachDerivatives(s *types.Session, mediaID string, derivatives map[string]interface{}) error {
	item, err := FindMedia(s, mediaID)
	if err != nil {
		return err
	}
	if item.Status == types.MediaProcessed {
		return fmt.Errorf("%w: %s", ErrMediaAlreadyProcessed, mediaID)
	}
	if item.Finalized {
		return fmt.Errorf("%w: %s", ErrMediaFinalized, mediaID)
	}

	copied := make(map[string]interface{}, len(derivatives))
	for k, v := range derivatives {
		copied[k] = v
	}
	item.Derivatives = copied
	item.Status = types.MediaProcessed
	return nil
}

// FinalizeMedia closes an item to further mutation and returns it.
// A raw item stays raw from here on.
func FinalizeMedia(s *types.Session, mediaID string) (*types.MediaItem, error) {
	item, err := FindMedia(s, mediaID)
	if err != nil {
		return nil, err
	}
	item.Finalized = true
	return item, nil
}

// RecentMessages copies up to limit trailing messages, oldest first.
// limit <= 0 copies the whole history.
func RecentMessages(s *types.Session, limit int) []types.ChatMessage {
	start := 0
	if limit > 0 && len(s.Messages) > limit {
		start = len(s.Messages) - limit
	}
	out := make([]types.ChatMessage, 0, len(s.Messages)-start)
	for _, m := range s.Messages[start:] {
		out = append(out, *m)
	}
	return out
}

// Close moves an active session to closed
func Close(s *types.Session) error {
	if s.Status == types.SessionClosed {
		return fmt.Errorf("%w: %s", ErrSessionAlreadyClosed, s.ID)
	}
	s.Status = types.SessionClosed
	return nil
}
