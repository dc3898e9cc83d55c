package types

import "errors"

// Field validation errors shared by the codec, the router and the HTTP API
var (
	ErrInvalidParticipantID = errors.New("participant ID must be 1-100 printable characters")
	ErrInvalidName          = errors.New("name must be 1-200 characters")
	ErrInvalidRole          = errors.New("role must be participant, facilitator or observer")
	ErrInvalidPresence      = errors.New("status must be active, idle or away")
	ErrInvalidMediaKind     = errors.New("media type must be image, code_project, code, document or link")
	ErrInvalidPlatform      = errors.New("platform name must be 1-50 characters")
)
