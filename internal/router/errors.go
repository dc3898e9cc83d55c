package router

import "errors"

// Router-specific error types
var (
	ErrNotJoined         = errors.New("connection has not joined a session")
	ErrAlreadyJoined     = errors.New("connection already joined a session")
	ErrSessionMismatch   = errors.New("event names a different session than the connection joined")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidField      = errors.New("invalid field")
)
