package protocol

import (
	"encoding/json"

	"chatrelay/pkg/types"
)

// Inbound event types (client -> server)
const (
	TypeJoinSession       = "join_session"
	TypeHumanMessage      = "human_message"
	TypeAIResponse        = "ai_response"
	TypeRichMedia         = "rich_media"
	TypeParticipantStatus = "participant_status"
	TypeLeaveSession      = "leave_session"
)

// Outbound event types (server -> client)
const (
	TypeSessionJoined            = "session_joined"
	TypeParticipantJoined        = "participant_joined"
	TypeParticipantLeft          = "participant_left"
	TypeNewMessage               = "new_message"
	TypeRichMediaShared          = "rich_media_shared"
	TypeParticipantStatusUpdated = "participant_status_updated"
	TypeSessionClosed            = "session_closed"
	TypeError                    = "error"
)

// Inbound is a decoded client event. The set of implementations is closed:
// only the types in this file satisfy it.
type Inbound interface {
	EventType() string
	inbound()
}

type JoinSession struct {
	SessionID       string     `json:"sessionId"`
	ParticipantID   string     `json:"participantId"`
	ParticipantName string     `json:"participantName"`
	Role            types.Role `json:"role"`
}

type HumanMessage struct {
	SessionID string          `json:"sessionId"`
	Content   string          `json:"content"`
	RichMedia json.RawMessage `json:"richMedia,omitempty"`
}

type AIResponse struct {
	SessionID string `json:"sessionId"`
	Platform  string `json:"platform"`
	Content   string `json:"content"`
	ThreadID  string `json:"threadId,omitempty"`
}

type RichMedia struct {
	SessionID string               `json:"sessionId"`
	MediaType types.MediaKind      `json:"mediaType"`
	MediaData json.RawMessage      `json:"mediaData"`
	Metadata  *types.MediaMetadata `json:"metadata"`
}

type ParticipantStatus struct {
	SessionID string         `json:"sessionId"`
	Status    types.Presence `json:"status"`
}

type LeaveSession struct {
	SessionID string `json:"sessionId"`
}

func (JoinSession) EventType() string       { return TypeJoinSession }
func (HumanMessage) EventType() string      { return TypeHumanMessage }
func (AIResponse) EventType() string        { return TypeAIResponse }
func (RichMedia) EventType() string         { return TypeRichMedia }
func (ParticipantStatus) EventType() string { return TypeParticipantStatus }
func (LeaveSession) EventType() string      { return TypeLeaveSession }

func (JoinSession) inbound()       {}
func (HumanMessage) inbound()      {}
func (AIResponse) inbound()        {}
func (RichMedia) inbound()         {}
func (ParticipantStatus) inbound() {}
func (LeaveSession) inbound()      {}

// Outbound is an event the server sends to clients
type Outbound interface {
	EventType() string
}

type SessionJoined struct {
	SessionID     string              `json:"sessionId"`
	ParticipantID string              `json:"participantId"`
	Session       types.SessionView   `json:"session"`
	Messages      []types.ChatMessage `json:"messages"`
}

type ParticipantJoined struct {
	SessionID   string            `json:"sessionId"`
	Participant types.Participant `json:"participant"`
}

type ParticipantLeft struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
}

type NewMessage struct {
	Message types.ChatMessage `json:"message"`
}

// AIMessage is the outbound ai_response event
type AIMessage struct {
	Message types.ChatMessage `json:"message"`
}

type RichMediaShared struct {
	Media types.MediaItem `json:"media"`
}

type ParticipantStatusUpdated struct {
	SessionID     string         `json:"sessionId"`
	ParticipantID string         `json:"participantId"`
	Status        types.Presence `json:"status"`
}

type SessionClosed struct {
	SessionID string `json:"sessionId"`
}

// ErrorEvent is only ever sent to the connection that caused it
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (SessionJoined) EventType() string            { return TypeSessionJoined }
func (ParticipantJoined) EventType() string        { return TypeParticipantJoined }
func (ParticipantLeft) EventType() string          { return TypeParticipantLeft }
func (NewMessage) EventType() string               { return TypeNewMessage }
func (AIMessage) EventType() string                { return TypeAIResponse }
func (RichMediaShared) EventType() string          { return TypeRichMediaShared }
func (ParticipantStatusUpdated) EventType() string { return TypeParticipantStatusUpdated }
func (SessionClosed) EventType() string            { return TypeSessionClosed }
func (ErrorEvent) EventType() string               { return TypeError }
