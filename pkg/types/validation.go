package types

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// IsValidParticipantID accepts 1-100 printable characters without surrounding whitespace.
// Participant ids are client supplied, so the rule is looser than a uuid check.
func IsValidParticipantID(id string) bool {
	if id == "" || utf8.RuneCountInString(id) > 100 {
		return false
	}
	if strings.TrimSpace(id) != id {
		return false
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// IsValidName checks display names for sessions and participants
func IsValidName(name string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	return n >= 1 && n <= 200
}

// Validate reports whether r is a known role
func (r Role) Validate() error {
	switch r {
	case RoleParticipant, RoleFacilitator, RoleObserver:
		return nil
	}
	return ErrInvalidRole
}

// Validate reports whether p is a known presence status
func (p Presence) Validate() error {
	switch p {
	case PresenceActive, PresenceIdle, PresenceAway:
		return nil
	}
	return ErrInvalidPresence
}

// Validate reports whether k is a known media kind
func (k MediaKind) Validate() error {
	switch k {
	case MediaImage, MediaCodeProject, MediaCode, MediaDocument, MediaLink:
		return nil
	}
	return ErrInvalidMediaKind
}

// NormalizePlatforms trims, drops empties and removes duplicates while keeping
// first-seen order, since the configured order is meaningful to the extension.
func NormalizePlatforms(platforms []string) ([]string, error) {
	seen := make(map[string]bool, len(platforms))
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) > 50 {
			return nil, ErrInvalidPlatform
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// View projects the session into a SessionView.
// Callers must hold the session's exclusive section.
func (s *Session) View() SessionView {
	participants := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, *p)
	}
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].ID < participants[j].ID
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})

	platforms := make([]string, len(s.AIPlatforms))
	copy(platforms, s.AIPlatforms)

	return SessionView{
		ID:            s.ID,
		Name:          s.Name,
		FacilitatorID: s.FacilitatorID,
		AIPlatforms:   platforms,
		Participants:  participants,
		MessageCount:  len(s.Messages),
		MediaCount:    len(s.Media),
		CreatedAt:     s.CreatedAt,
		Status:        s.Status,
	}
}

// ParticipantIDs returns the ids in the view in view order
func (v SessionView) ParticipantIDs() []string {
	ids := make([]string, len(v.Participants))
	for i, p := range v.Participants {
		ids[i] = p.ID
	}
	return ids
}
