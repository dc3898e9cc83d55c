package types

import (
	"encoding/json"
	"time"
)

// Role is the part a participant plays in a session
type Role string

const (
	RoleParticipant Role = "participant"
	RoleFacilitator Role = "facilitator"
	RoleObserver    Role = "observer"
)

// Presence is a participant's self-reported availability
type Presence string

const (
	PresenceActive Presence = "active"
	PresenceIdle   Presence = "idle"
	PresenceAway   Presence = "away"
)

// SessionStatus is the lifecycle state of a session
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// SenderType distinguishes who produced a chat message
type SenderType string

const (
	SenderHuman  SenderType = "human"
	SenderAI     SenderType = "ai"
	SenderSystem SenderType = "system"
)

// SystemSenderID is the synthetic identity used for activity notices
const SystemSenderID = "system"

// MediaKind classifies a rich media attachment
type MediaKind string

const (
	MediaImage       MediaKind = "image"
	MediaCodeProject MediaKind = "code_project"
	MediaCode        MediaKind = "code"
	MediaDocument    MediaKind = "document"
	MediaLink        MediaKind = "link"
)

// MediaStatus tracks whether a media item went through processing
type MediaStatus string

const (
	MediaRaw       MediaStatus = "raw"
	MediaProcessed MediaStatus = "processed"
)

// Session is a shared conversation between participants and AI platforms.
// FUNCTIONAL DISCOVERY: Messages and Media are append-only; a Session value is
// only ever touched inside its owning store's per-session section.
type Session struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	FacilitatorID string                  `json:"facilitatorId"`
	AIPlatforms   []string                `json:"aiPlatforms"`
	Participants  map[string]*Participant `json:"-"`
	Messages      []*ChatMessage          `json:"-"`
	Media         []*MediaItem            `json:"-"`
	CreatedAt     time.Time               `json:"createdAt"`
	Status        SessionStatus           `json:"status"`
}

// Participant is a connected member of a session.
// ConnectionID is a lookup key into the connection registry, never the transport itself.
type Participant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	ConnectionID string    `json:"-"`
	Status       Presence  `json:"status"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// ChatMessage is one immutable entry in a session's history
type ChatMessage struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"sessionId"`
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName"`
	SenderType SenderType      `json:"senderType"`
	Platform   string          `json:"platform,omitempty"`
	ThreadID   string          `json:"threadId,omitempty"`
	Content    string          `json:"content"`
	RichMedia  json.RawMessage `json:"richMedia,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// MediaMetadata describes the uploaded file as reported by the client
type MediaMetadata struct {
	Filename     string `json:"filename,omitempty"`
	Size         int64  `json:"size,omitempty"`
	MimeType     string `json:"type,omitempty"`
	LastModified int64  `json:"lastModified,omitempty"`
}

// MediaItem is a rich media attachment shared in a session
type MediaItem struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"sessionId"`
	UploadedBy  string                 `json:"uploadedBy"`
	Type        MediaKind              `json:"type"`
	Data        json.RawMessage        `json:"data"`
	Metadata    MediaMetadata          `json:"metadata"`
	UploadedAt  time.Time              `json:"uploadedAt"`
	Status      MediaStatus            `json:"status"`
	Derivatives map[string]interface{} `json:"derivatives,omitempty"`

	// Finalized is set when the item has been published; no mutation follows
	Finalized bool `json:"-"`
}

// SessionView is a read-only projection of a session at one point in time
type SessionView struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	FacilitatorID string        `json:"facilitatorId"`
	AIPlatforms   []string      `json:"aiPlatforms"`
	Participants  []Participant `json:"participants"`
	MessageCount  int           `json:"messageCount"`
	MediaCount    int           `json:"mediaCount"`
	CreatedAt     time.Time     `json:"createdAt"`
	Status        SessionStatus `json:"status"`
}

// ForwardIntent asks the extension layer to relay a human message to AI platforms
type ForwardIntent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Platforms []string  `json:"platforms"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// ForwardIntentType is the discriminator carried by every ForwardIntent
const ForwardIntentType = "forward_to_ai"
