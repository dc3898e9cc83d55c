package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatrelay/internal/protocol"
	"chatrelay/internal/router"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

const maxRequestBody = 1 << 20

// SessionService performs the lifecycle operations that also fan out to
// connected participants
type SessionService interface {
	CreateSession(ctx context.Context, facilitatorID, name string, aiPlatforms []string) (types.SessionView, error)
	CloseSession(ctx context.Context, sessionID string) (types.SessionView, error)
	PostAIResponse(ctx context.Context, sessionID, platform, content, threadID string) (*types.ChatMessage, error)
}

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	GetStats() map[string]int
}

// Server exposes the session lifecycle, webhook and transcript routes over HTTP.
// Domain work is delegated to SessionService.
type Server struct {
	sessions  SessionService
	store     interfaces.SessionStore
	registry  Registry
	archive   interfaces.TranscriptArchive
	publicURL string
	startedAt time.Time
	router    *http.ServeMux
}

// NewServer wires the HTTP API. archive may be nil; publicURL may be empty,
// in which case joinUrl is derived from the request host.
func NewServer(sessions SessionService, store interfaces.SessionStore, registry Registry, archive interfaces.TranscriptArchive, publicURL string) *Server {
	s := &Server{
		sessions:  sessions,
		store:     store,
		registry:  registry,
		archive:   archive,
		publicURL: strings.TrimRight(publicURL, "/"),
		startedAt: time.Now(),
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

// Every route is wrapped in CORS and JSON middleware.
func (s *Server) setupRoutes() {
	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessions))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// FUNCTIONAL DISCOVERY: Handle sessions collection endpoints (POST /api/sessions, GET /api/sessions)
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r)
	case http.MethodGet:
		s.listSessions(w, r)
	default:
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

// handleSessionByID serves /api/sessions/{id} and its webhook, messages and
// transcript sub-resources
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	parts := strings.Split(path, "/")
	sessionID := parts[0]
	if sessionID == "" {
		s.sendError(w, http.StatusBadRequest, protocol.CodeInvalidField, "Session ID required")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.getSession(w, r, sessionID)
		case http.MethodDelete:
			s.closeSession(w, r, sessionID)
		default:
			s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
	case len(parts) == 2 && parts[1] == "webhook":
		if r.Method != http.MethodPost {
			s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
			return
		}
		s.webhook(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "messages":
		if r.Method != http.MethodGet {
			s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
			return
		}
		s.messages(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "transcript":
		if r.Method != http.MethodGet {
			s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
			return
		}
		s.transcript(w, r, sessionID)
	default:
		s.sendError(w, http.StatusNotFound, "not_found", "Unknown resource")
	}
}

// Request/Response types for JSON serialization
type CreateSessionRequest struct {
	FacilitatorID string   `json:"facilitatorId"`
	SessionName   string   `json:"sessionName"`
	AIPlatforms   []string `json:"aiPlatforms"`
}

type CreateSessionResponse struct {
	SessionID string            `json:"sessionId"`
	JoinURL   string            `json:"joinUrl"`
	Session   types.SessionView `json:"session"`
}

type ListSessionsResponse struct {
	Sessions []types.SessionView `json:"sessions"`
}

type CloseSessionResponse struct {
	Session types.SessionView `json:"session"`
}

// WebhookRequest is what the browser extension posts for each captured turn
type WebhookRequest struct {
	Platform string `json:"platform"`
	Role     string `json:"role"`
	Content  string `json:"content"`
	ThreadID string `json:"thread_id"`
}

type WebhookResponse struct {
	Status  string             `json:"status"`
	Message *types.ChatMessage `json:"message,omitempty"`
}

type MessagesResponse struct {
	SessionID string              `json:"sessionId"`
	Messages  []types.ChatMessage `json:"messages"`
}

type TranscriptResponse struct {
	SessionID string               `json:"sessionId"`
	Messages  []*types.ChatMessage `json:"messages"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Archive     string         `json:"archive"`
	Sessions    map[string]int `json:"sessions"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeMalformedFrame, "Invalid JSON")
		return
	}

	view, err := s.sessions.CreateSession(r.Context(), req.FacilitatorID, req.SessionName, req.AIPlatforms)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateSessionResponse{
		SessionID: view.ID,
		JoinURL:   s.joinURL(r, view.ID),
		Session:   view,
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	view, err := s.store.GetSession(sessionID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(view)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(ListSessionsResponse{Sessions: s.store.ListSessions()})
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	view, err := s.sessions.CloseSession(r.Context(), sessionID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(CloseSessionResponse{Session: view})
}

// webhook ingests an assistant turn exactly like an ai_response event.
// User turns echo what participants already sent and are acknowledged only.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req WebhookRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeMalformedFrame, "Invalid JSON")
		return
	}

	switch req.Role {
	case "", "assistant":
	case "user":
		if _, err := s.store.GetSession(sessionID); err != nil {
			s.sendDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(WebhookResponse{Status: "ignored"})
		return
	default:
		s.sendError(w, http.StatusBadRequest, protocol.CodeInvalidField, fmt.Sprintf("Unknown role %q", req.Role))
		return
	}

	msg, err := s.sessions.PostAIResponse(r.Context(), sessionID, strings.TrimSpace(req.Platform), req.Content, req.ThreadID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(WebhookResponse{Status: "received", Message: msg})
}

// messages returns the live in-memory history, oldest first. An optional
// limit keeps only the most recent messages.
func (s *Server) messages(w http.ResponseWriter, r *http.Request, sessionID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendError(w, http.StatusBadRequest, protocol.CodeInvalidField, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	history, err := s.store.History(sessionID, limit)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(MessagesResponse{SessionID: sessionID, Messages: history})
}

func (s *Server) transcript(w http.ResponseWriter, r *http.Request, sessionID string) {
	if s.archive == nil {
		s.sendError(w, http.StatusNotFound, "archive_disabled", "Transcript archive is not enabled")
		return
	}

	messages, err := s.archive.GetTranscript(r.Context(), sessionID)
	if err != nil {
		log.Printf("Failed to read transcript for session=%s: %v", sessionID, err)
		s.sendError(w, http.StatusInternalServerError, protocol.CodeInternal, "Failed to read transcript")
		return
	}
	if messages == nil {
		messages = []*types.ChatMessage{}
	}
	json.NewEncoder(w).Encode(TranscriptResponse{SessionID: sessionID, Messages: messages})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	archiveStatus := "disabled"
	if s.archive != nil {
		archiveStatus = "healthy"
		if err := s.archive.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			archiveStatus = fmt.Sprintf("error: %v", err)
		}
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Archive:     archiveStatus,
		Sessions:    s.store.Stats(),
		Connections: s.registry.GetStats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// joinURL points at the websocket gateway for sessionID
func (s *Server) joinURL(r *http.Request, sessionID string) string {
	base := s.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws?sessionId=" + url.QueryEscape(sessionID)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	return json.NewDecoder(r.Body).Decode(v)
}

// sendDomainError maps session and validation errors onto HTTP statuses
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	code := router.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case protocol.CodeSessionNotFound, protocol.CodeParticipantNotFound:
		status = http.StatusNotFound
	case protocol.CodeInvalidField, protocol.CodeMalformedFrame:
		status = http.StatusBadRequest
	case protocol.CodeSessionClosed:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Printf("API request failed: %v", err)
	}
	s.sendError(w, status, code, err.Error())
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
