package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hikkinomore/buddy-server/internal/model/preset"
	chatservice "github.com/hikkinomore/buddy-server/internal/service/chat"
	"github.com/hikkinomore/buddy-server/internal/store"
	"github.com/hikkinomore/buddy-server/pkg/utils"
)

// Handler exposes the chat turn endpoint and history reads.
type Handler struct {
	log     *logrus.Logger
	chatSvc *chatservice.Service
}

// New creates the chat handler.
func New(log *logrus.Logger, chatSvc *chatservice.Service) *Handler {
	return &Handler{log: log, chatSvc: chatSvc}
}

// RegisterRoutes wires the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/sessions/{sessionID}/history", h.handleHistory)
	r.Get("/users/{userID}/sessions", h.handleSessions)
}

// ChatRequest is the inbound turn request. A null message initializes the
// session without producing a turn.
type ChatRequest struct {
	Message   *string   `json:"message"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Preset    preset.ID `json:"preset"`
}

// StreamResponse is one SSE frame of the turn stream.
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !preset.Valid(req.Preset) {
		utils.RespondError(w, http.StatusBadRequest, "unknown preset")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	// A null message only ensures the session exists; no turn is produced
	// and nothing is appended to the log.
	if req.Message == nil {
		session, err := h.chatSvc.EnsureSession(r.Context(), sessionID, req.UserID, req.Preset)
		if err != nil {
			h.log.WithField("session", sessionID).WithError(err).Error("session init failed")
			utils.RespondError(w, http.StatusInternalServerError, "failed to initialize session")
			return
		}
		utils.RespondJSON(w, http.StatusAccepted, map[string]string{
			"sessionId": session.ID,
			"status":    "session ready",
		})
		return
	}

	stream, err := h.chatSvc.StreamTurn(r.Context(), sessionID, req.UserID, req.Preset, *req.Message)
	if err != nil {
		h.respondTurnError(w, sessionID, err)
		return
	}
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)

	utils.SendSSEChunk(w, flusher, StreamResponse{Event: "start", SessionID: sessionID})

	for {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			utils.SendSSEChunk(w, flusher, StreamResponse{Event: "end", SessionID: sessionID, Finished: true})
			return
		}
		if err != nil {
			h.log.WithField("session", sessionID).WithError(err).Warn("turn stream failed")
			utils.SendSSEChunk(w, flusher, StreamResponse{Event: "error", SessionID: sessionID, Error: err.Error()})
			return
		}

		utils.SendSSEChunk(w, flusher, StreamResponse{Event: "snapshot", SessionID: sessionID, Content: text})
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	history, err := h.chatSvc.History(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		h.log.WithField("session", sessionID).WithError(err).Error("history read failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"messages":  history,
	})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user id is required")
		return
	}

	sessions, err := h.chatSvc.ListSessions(r.Context(), userID)
	if err != nil {
		h.log.WithField("user", userID).WithError(err).Error("session listing failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []string{}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"userId":   userID,
		"sessions": sessions,
	})
}

// respondTurnError maps pre-stream failures to HTTP statuses. Once streaming
// has begun, errors travel as SSE frames instead.
func (h *Handler) respondTurnError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, chatservice.ErrInvalidPreset), errors.Is(err, chatservice.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chatservice.ErrGenerationFailed):
		h.log.WithField("session", sessionID).WithError(err).Error("generation unavailable")
		utils.RespondError(w, http.StatusBadGateway, "generation failed")
	default:
		h.log.WithField("session", sessionID).WithError(err).Error("turn failed")
		utils.RespondError(w, http.StatusInternalServerError, "turn failed")
	}
}
