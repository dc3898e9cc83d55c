package interfaces

import (
	"context"

	"chatrelay/pkg/types"
)

// TranscriptArchive is a write-mostly audit log of session activity.
// It is never read back to rebuild in-memory state.
type TranscriptArchive interface {
	StoreSession(ctx context.Context, session types.SessionView) error
	StoreMessage(ctx context.Context, message *types.ChatMessage) error
	StoreMedia(ctx context.Context, item *types.MediaItem) error

	// GetTranscript returns archived messages for a session in arrival order
	GetTranscript(ctx context.Context, sessionID string) ([]*types.ChatMessage, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Forwarder hands forwarding intents to the extension layer
type Forwarder interface {
	Forward(ctx context.Context, intent types.ForwardIntent) error
	Close() error
}
