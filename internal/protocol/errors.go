package protocol

import "errors"

// Codec errors
var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingField     = errors.New("missing required field")
)

// Error codes carried by ErrorEvent.Code
const (
	CodeMalformedFrame         = "malformed_frame"
	CodeUnknownEventType       = "unknown_event_type"
	CodeInvalidField           = "invalid_field"
	CodeSessionNotFound        = "session_not_found"
	CodeParticipantNotFound    = "participant_not_found"
	CodeInvalidStateTransition = "invalid_state_transition"
	CodeNotJoined              = "not_joined"
	CodeSessionClosed          = "session_closed"
	CodeSessionMismatch        = "session_mismatch"
	CodeRateLimited            = "rate_limited"
	CodeCollaboratorFailure    = "collaborator_failure"
	CodeInternal               = "internal_error"
)
