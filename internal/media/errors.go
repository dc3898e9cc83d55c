package media

import "errors"

// Media ingestion error types
var (
	ErrCollaboratorFailure = errors.New("media processor failed")
	ErrIngesterClosed      = errors.New("media ingester is closed")
	ErrUnexpectedStatus    = errors.New("unexpected processor response status")
)
