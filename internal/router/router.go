package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/hub"
	"chatrelay/internal/media"
	"chatrelay/internal/protocol"
	"chatrelay/internal/session"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

var _ interfaces.MessageRouter = (*Router)(nil)

// Options tunes router behavior
type Options struct {
	HistoryLimit       int // messages replayed in session_joined; <= 0 replays everything
	RateLimitPerMinute int // content events per participant per minute; <= 0 disables
}

// Router implements the MessageRouter interface.
// ARCHITECTURAL DISCOVERY: the type switch in RouteFrame is the single dispatch
// point; each handler mutates state and fans out inside one session section.
type Router struct {
	store       interfaces.SessionStore
	registry    interfaces.ConnectionRegistry
	hub         *hub.Hub
	ingester    *media.Ingester
	archive     interfaces.TranscriptArchive
	rateLimiter *RateLimiter
	opts        Options
	now         func() time.Time
}

// NewRouter wires the dispatcher. archive may be nil.
func NewRouter(store interfaces.SessionStore, registry interfaces.ConnectionRegistry, h *hub.Hub, ingester *media.Ingester, archive interfaces.TranscriptArchive, opts Options) *Router {
	return &Router{
		store:       store,
		registry:    registry,
		hub:         h,
		ingester:    ingester,
		archive:     archive,
		rateLimiter: NewRateLimiter(opts.RateLimitPerMinute, time.Minute),
		opts:        opts,
		now:         time.Now,
	}
}

// RateLimiter exposes the limiter so the application can schedule Cleanup
func (r *Router) RateLimiter() *RateLimiter {
	return r.rateLimiter
}

// RouteFrame decodes one frame and dispatches it. Every failure is answered
// with an error event to conn only; shared state is left untouched.
func (r *Router) RouteFrame(ctx context.Context, conn interfaces.Connection, frame []byte) {
	evt, err := protocol.Decode(frame)
	if err != nil {
		r.reject(conn, err)
		return
	}

	switch e := evt.(type) {
	case protocol.JoinSession:
		err = r.handleJoin(ctx, conn, e)
	case protocol.HumanMessage:
		err = r.handleHumanMessage(ctx, conn, e)
	case protocol.AIResponse:
		err = r.handleAIResponse(ctx, conn, e)
	case protocol.RichMedia:
		err = r.handleRichMedia(ctx, conn, e)
	case protocol.ParticipantStatus:
		err = r.handleParticipantStatus(conn, e)
	case protocol.LeaveSession:
		err = r.handleLeave(conn, e)
	default:
		err = fmt.Errorf("%w: %s", protocol.ErrUnknownEventType, evt.EventType())
	}

	if err != nil {
		r.reject(conn, err)
	}
}

// HandleDisconnect performs the Closed transition. A joined connection's
// participant is removed only if the participant still points at conn.
func (r *Router) HandleDisconnect(ctx context.Context, conn interfaces.Connection) {
	sessionID := conn.GetSessionID()
	participantID := conn.GetParticipantID()
	if participantID == "" {
		return
	}

	removed, err := r.removeOwnedParticipant(sessionID, participantID, conn.GetID())
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		log.Printf("Disconnect cleanup failed: session=%s participant=%s: %v", sessionID, participantID, err)
		return
	}
	if removed {
		r.rateLimiter.Forget(limiterKey(sessionID, participantID))
		log.Printf("Participant disconnected: session=%s participant=%s", sessionID, participantID)
	}
}

func (r *Router) handleJoin(ctx context.Context, conn interfaces.Connection, e protocol.JoinSession) error {
	if conn.IsJoined() {
		return ErrAlreadyJoined
	}
	if !types.IsValidParticipantID(e.ParticipantID) {
		return fmt.Errorf("%w: participantId", types.ErrInvalidParticipantID)
	}
	if !types.IsValidName(e.ParticipantName) {
		return fmt.Errorf("%w: participantName", types.ErrInvalidName)
	}
	if err := e.Role.Validate(); err != nil {
		return fmt.Errorf("%w: role %q", err, e.Role)
	}

	var replacedConnID string
	err := r.store.Update(e.SessionID, func(s *types.Session) error {
		if s.Status == types.SessionClosed {
			return fmt.Errorf("%w: %s", session.ErrSessionClosed, s.ID)
		}
		if err := conn.Bind(s.ID, e.ParticipantID); err != nil {
			return fmt.Errorf("%w: %v", ErrAlreadyJoined, err)
		}

		replaced := session.AddParticipant(s, types.Participant{
			ID:           e.ParticipantID,
			Name:         e.ParticipantName,
			Role:         e.Role,
			ConnectionID: conn.GetID(),
			Status:       types.PresenceActive,
		}, r.now())
		if replaced != nil && replaced.ConnectionID != conn.GetID() {
			replacedConnID = replaced.ConnectionID
		}

		// the joiner's snapshot is queued before any later broadcast can be
		if err := r.hub.SendTo(conn, protocol.SessionJoined{
			SessionID:     s.ID,
			ParticipantID: e.ParticipantID,
			Session:       s.View(),
			Messages:      session.RecentMessages(s, r.opts.HistoryLimit),
		}); err != nil {
			log.Printf("Failed to send session_joined to %s: %v", conn.GetID(), err)
		}
		r.hub.Deliver(s, protocol.ParticipantJoined{
			SessionID:   s.ID,
			Participant: *s.Participants[e.ParticipantID],
		}, e.ParticipantID)
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("Participant joined: session=%s participant=%s role=%s conn=%s", e.SessionID, e.ParticipantID, e.Role, conn.GetID())

	// last join wins: the superseded transport is closed, and its disconnect
	// no longer matches the participant entry
	if replacedConnID != "" {
		if old, ok := r.registry.Lookup(replacedConnID); ok {
			log.Printf("Closing superseded connection %s for participant=%s", replacedConnID, e.ParticipantID)
			go func() {
				if err := old.Close(); err != nil {
					log.Printf("Failed to close superseded connection: %v", err)
				}
			}()
		}
	}
	return nil
}

func (r *Router) handleHumanMessage(ctx context.Context, conn interfaces.Connection, e protocol.HumanMessage) error {
	if err := r.requireJoined(conn, e.SessionID); err != nil {
		return err
	}
	participantID := conn.GetParticipantID()
	if !r.rateLimiter.Allow(limiterKey(e.SessionID, participantID)) {
		return ErrRateLimitExceeded
	}

	var stored types.ChatMessage
	err := r.store.Update(e.SessionID, func(s *types.Session) error {
		if s.Status == types.SessionClosed {
			return fmt.Errorf("%w: %s", session.ErrSessionClosed, s.ID)
		}
		sender, err := r.ownedParticipant(s, participantID, conn.GetID())
		if err != nil {
			return err
		}

		msg := &types.ChatMessage{
			ID:         uuid.New().String(),
			SessionID:  s.ID,
			SenderID:   sender.ID,
			SenderName: sender.Name,
			SenderType: types.SenderHuman,
			Content:    e.Content,
			RichMedia:  e.RichMedia,
			Timestamp:  r.now(),
		}
		s.Messages = append(s.Messages, msg)
		stored = *msg

		r.hub.Deliver(s, protocol.NewMessage{Message: stored}, "")

		// queued inside the section so intents keep message order
		platforms := make([]string, len(s.AIPlatforms))
		copy(platforms, s.AIPlatforms)
		if err := r.hub.Forward(types.ForwardIntent{
			Type:      types.ForwardIntentType,
			SessionID: s.ID,
			Platforms: platforms,
			Content:   stored.Content,
			Sender:    stored.SenderName,
			MessageID: stored.ID,
			Timestamp: stored.Timestamp,
		}); err != nil {
			log.Printf("Failed to queue forward intent for message=%s: %v", stored.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.archiveMessage(ctx, &stored)
	return nil
}

func (r *Router) handleAIResponse(ctx context.Context, conn interfaces.Connection, e protocol.AIResponse) error {
	if err := r.requireJoined(conn, e.SessionID); err != nil {
		return err
	}
	if !r.rateLimiter.Allow(limiterKey(e.SessionID, conn.GetParticipantID())) {
		return ErrRateLimitExceeded
	}
	participantID := conn.GetParticipantID()
	_, err := r.postAIResponse(ctx, e.SessionID, e.Platform, e.Content, e.ThreadID, func(s *types.Session) error {
		_, err := r.ownedParticipant(s, participantID, conn.GetID())
		return err
	})
	return err
}

// PostAIResponse appends an AI message and broadcasts it to every participant.
// It serves the extension webhook; websocket ai_response events go through the
// same path with a connection ownership check.
func (r *Router) PostAIResponse(ctx context.Context, sessionID, platform, content, threadID string) (*types.ChatMessage, error) {
	return r.postAIResponse(ctx, sessionID, platform, content, threadID, nil)
}

// postAIResponse runs check, when set, inside the same section as the append
func (r *Router) postAIResponse(ctx context.Context, sessionID, platform, content, threadID string, check func(s *types.Session) error) (*types.ChatMessage, error) {
	if platform == "" || content == "" {
		return nil, fmt.Errorf("%w: platform and content are required", ErrInvalidField)
	}

	var stored types.ChatMessage
	err := r.store.Update(sessionID, func(s *types.Session) error {
		if s.Status == types.SessionClosed {
			return fmt.Errorf("%w: %s", session.ErrSessionClosed, s.ID)
		}
		if check != nil {
			if err := check(s); err != nil {
				return err
			}
		}
		msg := &types.ChatMessage{
			ID:         uuid.New().String(),
			SessionID:  s.ID,
			SenderID:   platform,
			SenderName: platform,
			SenderType: types.SenderAI,
			Platform:   platform,
			ThreadID:   threadID,
			Content:    content,
			Timestamp:  r.now(),
		}
		s.Messages = append(s.Messages, msg)
		stored = *msg

		r.hub.Deliver(s, protocol.AIMessage{Message: stored}, "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.archiveMessage(ctx, &stored)
	return &stored, nil
}

func (r *Router) handleRichMedia(ctx context.Context, conn interfaces.Connection, e protocol.RichMedia) error {
	if err := r.requireJoined(conn, e.SessionID); err != nil {
		return err
	}
	if !r.rateLimiter.Allow(limiterKey(e.SessionID, conn.GetParticipantID())) {
		return ErrRateLimitExceeded
	}
	_, err := r.ingester.Ingest(ctx, media.Upload{
		SessionID:    e.SessionID,
		UploaderID:   conn.GetParticipantID(),
		ConnectionID: conn.GetID(),
		Kind:         e.MediaType,
		Data:         e.MediaData,
		Metadata:     *e.Metadata,
	})
	return err
}

func (r *Router) handleParticipantStatus(conn interfaces.Connection, e protocol.ParticipantStatus) error {
	if err := r.requireJoined(conn, e.SessionID); err != nil {
		return err
	}
	if err := e.Status.Validate(); err != nil {
		return fmt.Errorf("%w: status %q", err, e.Status)
	}

	participantID := conn.GetParticipantID()
	return r.store.Update(e.SessionID, func(s *types.Session) error {
		if _, err := r.ownedParticipant(s, participantID, conn.GetID()); err != nil {
			return err
		}
		if err := session.SetPresence(s, participantID, e.Status); err != nil {
			return err
		}
		r.hub.Deliver(s, protocol.ParticipantStatusUpdated{
			SessionID:     s.ID,
			ParticipantID: participantID,
			Status:        e.Status,
		}, participantID)
		return nil
	})
}

func (r *Router) handleLeave(conn interfaces.Connection, e protocol.LeaveSession) error {
	if err := r.requireJoined(conn, e.SessionID); err != nil {
		return err
	}

	participantID := conn.GetParticipantID()
	if _, err := r.removeOwnedParticipant(e.SessionID, participantID, conn.GetID()); err != nil {
		return err
	}
	r.rateLimiter.Forget(limiterKey(e.SessionID, participantID))
	log.Printf("Participant left: session=%s participant=%s", e.SessionID, participantID)

	// the later disconnect finds no matching participant and broadcasts nothing
	if err := conn.Close(); err != nil {
		log.Printf("Failed to close connection %s after leave: %v", conn.GetID(), err)
	}
	return nil
}

// CreateSession validates input, creates the session and archives it
func (r *Router) CreateSession(ctx context.Context, facilitatorID, name string, aiPlatforms []string) (types.SessionView, error) {
	if !types.IsValidParticipantID(facilitatorID) {
		return types.SessionView{}, fmt.Errorf("%w: facilitatorId", types.ErrInvalidParticipantID)
	}
	if !types.IsValidName(name) {
		return types.SessionView{}, fmt.Errorf("%w: sessionName", types.ErrInvalidName)
	}
	platforms, err := types.NormalizePlatforms(aiPlatforms)
	if err != nil {
		return types.SessionView{}, fmt.Errorf("%w: aiPlatforms", err)
	}

	view := r.store.CreateSession(facilitatorID, name, platforms)
	r.archiveSession(ctx, view)
	return view, nil
}

// CloseSession marks a session closed and tells every participant.
// Connections stay open; further content events are rejected.
func (r *Router) CloseSession(ctx context.Context, sessionID string) (types.SessionView, error) {
	var view types.SessionView
	err := r.store.Update(sessionID, func(s *types.Session) error {
		if err := session.Close(s); err != nil {
			return err
		}
		r.hub.Deliver(s, protocol.SessionClosed{SessionID: s.ID}, "")
		view = s.View()
		return nil
	})
	if err != nil {
		return types.SessionView{}, err
	}

	log.Printf("Session closed: id=%s participants=%v", sessionID, view.ParticipantIDs())
	r.archiveSession(ctx, view)
	return view, nil
}

// removeOwnedParticipant removes participantID if it is still bound to connID
// and broadcasts participant_left to the remaining participants
func (r *Router) removeOwnedParticipant(sessionID, participantID, connID string) (bool, error) {
	removed := false
	err := r.store.Update(sessionID, func(s *types.Session) error {
		p, exists := s.Participants[participantID]
		if !exists || p.ConnectionID != connID {
			return nil
		}
		session.RemoveParticipant(s, participantID)
		removed = true
		r.hub.Deliver(s, protocol.ParticipantLeft{SessionID: s.ID, ParticipantID: participantID}, participantID)
		return nil
	})
	return removed, err
}

// ownedParticipant returns the participant bound to connID.
// A participant superseded by a newer join is treated as absent.
func (r *Router) ownedParticipant(s *types.Session, participantID, connID string) (*types.Participant, error) {
	p, exists := s.Participants[participantID]
	if !exists || p.ConnectionID != connID {
		return nil, fmt.Errorf("%w: %s", session.ErrParticipantNotFound, participantID)
	}
	return p, nil
}

func (r *Router) requireJoined(conn interfaces.Connection, sessionID string) error {
	if !conn.IsJoined() {
		return ErrNotJoined
	}
	if sessionID != conn.GetSessionID() {
		return fmt.Errorf("%w: %s", ErrSessionMismatch, sessionID)
	}
	return nil
}

func (r *Router) reject(conn interfaces.Connection, err error) {
	code := ErrorCode(err)
	if code == protocol.CodeInternal {
		log.Printf("Internal error on connection %s: %v", conn.GetID(), err)
	}
	r.hub.SendError(conn, code, err.Error())
}

func (r *Router) archiveMessage(ctx context.Context, msg *types.ChatMessage) {
	if r.archive == nil {
		return
	}
	if err := r.archive.StoreMessage(ctx, msg); err != nil {
		log.Printf("Failed to archive message %s: %v", msg.ID, err)
	}
}

func (r *Router) archiveSession(ctx context.Context, view types.SessionView) {
	if r.archive == nil {
		return
	}
	if err := r.archive.StoreSession(ctx, view); err != nil {
		log.Printf("Failed to archive session %s: %v", view.ID, err)
	}
}

// ErrorCode maps an error to the code carried by the error event
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformedFrame), errors.Is(err, protocol.ErrMissingField):
		return protocol.CodeMalformedFrame
	case errors.Is(err, protocol.ErrUnknownEventType):
		return protocol.CodeUnknownEventType
	case errors.Is(err, session.ErrSessionNotFound):
		return protocol.CodeSessionNotFound
	case errors.Is(err, session.ErrParticipantNotFound):
		return protocol.CodeParticipantNotFound
	case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrSessionAlreadyClosed):
		return protocol.CodeSessionClosed
	case errors.Is(err, ErrAlreadyJoined):
		return protocol.CodeInvalidStateTransition
	case errors.Is(err, ErrNotJoined):
		return protocol.CodeNotJoined
	case errors.Is(err, ErrSessionMismatch):
		return protocol.CodeSessionMismatch
	case errors.Is(err, ErrRateLimitExceeded):
		return protocol.CodeRateLimited
	case errors.Is(err, ErrInvalidField),
		errors.Is(err, types.ErrInvalidParticipantID),
		errors.Is(err, types.ErrInvalidName),
		errors.Is(err, types.ErrInvalidRole),
		errors.Is(err, types.ErrInvalidPresence),
		errors.Is(err, types.ErrInvalidMediaKind),
		errors.Is(err, types.ErrInvalidPlatform):
		return protocol.CodeInvalidField
	case errors.Is(err, media.ErrCollaboratorFailure):
		return protocol.CodeCollaboratorFailure
	}
	return protocol.CodeInternal
}

func limiterKey(sessionID, participantID string) string {
	return sessionID + "/" + participantID
}
