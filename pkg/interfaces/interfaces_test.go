package interfaces_test

import (
	"context"
	"errors"
	"testing"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Mock implementations for testing

type mockConnection struct{}

func (m *mockConnection) GetID() string                              { return "" }
func (m *mockConnection) Send(frame []byte) error                    { return nil }
func (m *mockConnection) Close() error                               { return nil }
func (m *mockConnection) Bind(sessionID, participantID string) error { return nil }
func (m *mockConnection) GetSessionID() string                       { return "" }
func (m *mockConnection) GetParticipantID() string                   { return "" }
func (m *mockConnection) IsJoined() bool                             { return false }

type mockRouter struct{}

func (m *mockRouter) RouteFrame(ctx context.Context, conn interfaces.Connection, frame []byte) {}
func (m *mockRouter) HandleDisconnect(ctx context.Context, conn interfaces.Connection)          {}

type mockArchive struct{}

func (m *mockArchive) StoreSession(ctx context.Context, session types.SessionView) error  { return nil }
func (m *mockArchive) StoreMessage(ctx context.Context, message *types.ChatMessage) error { return nil }
func (m *mockArchive) StoreMedia(ctx context.Context, item *types.MediaItem) error        { return nil }
func (m *mockArchive) GetTranscript(ctx context.Context, sessionID string) ([]*types.ChatMessage, error) {
	return nil, nil
}
func (m *mockArchive) HealthCheck(ctx context.Context) error { return nil }
func (m *mockArchive) Close() error                          { return nil }

type mockForwarder struct{}

func (m *mockForwarder) Forward(ctx context.Context, intent types.ForwardIntent) error { return nil }
func (m *mockForwarder) Close() error                                                 { return nil }

func TestInterfaces_Compliance(t *testing.T) {
	var _ interfaces.Connection = &mockConnection{}
	var _ interfaces.MessageRouter = &mockRouter{}
	var _ interfaces.TranscriptArchive = &mockArchive{}
	var _ interfaces.Forwarder = &mockForwarder{}
}

func TestInterfaces_ErrorsAreDistinct(t *testing.T) {
	errs := []error{
		interfaces.ErrSessionNotFound,
		interfaces.ErrParticipantNotFound,
		interfaces.ErrSessionClosed,
	}
	for i, a := range errs {
		for j, b := range errs {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v should not match %v", a, b)
			}
		}
	}
}
