package session

import (
	"errors"

	"chatrelay/pkg/interfaces"
)

// Session store error types
var (
	ErrSessionNotFound       = interfaces.ErrSessionNotFound
	ErrParticipantNotFound   = interfaces.ErrParticipantNotFound
	ErrSessionClosed         = interfaces.ErrSessionClosed
	ErrSessionAlreadyClosed  = errors.New("session is already closed")
	ErrMediaNotFound         = errors.New("media item not found")
	ErrMediaAlreadyProcessed = errors.New("media item already processed")
	ErrMediaFinalized        = errors.New("media item processing already finished")
)
