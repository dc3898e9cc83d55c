package interfaces

import "errors"

// Lookup errors shared by every SessionStore implementation
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrSessionClosed       = errors.New("session is closed")
)
