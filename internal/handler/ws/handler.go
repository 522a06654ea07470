// Package ws carries the same turn stream as the SSE endpoint over a
// WebSocket, for clients that keep one connection across turns.
package ws

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hikkinomore/buddy-server/internal/model/preset"
	chatservice "github.com/hikkinomore/buddy-server/internal/service/chat"
)

// Handler upgrades chat connections to WebSocket.
type Handler struct {
	log      *logrus.Logger
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
}

// New creates the WebSocket chat handler.
func New(log *logrus.Logger, chatSvc *chatservice.Service) *Handler {
	return &Handler{
		log:     log,
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes wires the WebSocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.handleChat)
}

type inboundTurn struct {
	Message   *string   `json:"message"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Preset    preset.ID `json:"preset"`
}

type outboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		var req inboundTurn
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithError(err).Debug("websocket read failed")
			}
			return
		}
		if !h.serveTurn(r, conn, req) {
			return
		}
	}
}

// serveTurn handles one inbound frame; it reports false when the connection
// should close.
func (h *Handler) serveTurn(r *http.Request, conn *websocket.Conn, req inboundTurn) bool {
	if !preset.Valid(req.Preset) {
		return h.writeFrame(conn, outboundFrame{Type: "error", Error: "unknown preset"})
	}
	if strings.TrimSpace(req.UserID) == "" {
		return h.writeFrame(conn, outboundFrame{Type: "error", Error: "user_id is required"})
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if req.Message == nil {
		session, err := h.chatSvc.EnsureSession(r.Context(), sessionID, req.UserID, req.Preset)
		if err != nil {
			return h.writeFrame(conn, outboundFrame{Type: "error", SessionID: sessionID, Error: "failed to initialize session"})
		}
		return h.writeFrame(conn, outboundFrame{Type: "ready", SessionID: session.ID})
	}

	stream, err := h.chatSvc.StreamTurn(r.Context(), sessionID, req.UserID, req.Preset, *req.Message)
	if err != nil {
		return h.writeFrame(conn, outboundFrame{Type: "error", SessionID: sessionID, Error: err.Error()})
	}
	defer stream.Close()

	if !h.writeFrame(conn, outboundFrame{Type: "start", SessionID: sessionID}) {
		return false
	}

	for {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return h.writeFrame(conn, outboundFrame{Type: "end", SessionID: sessionID})
		}
		if err != nil {
			h.log.WithField("session", sessionID).WithError(err).Warn("turn stream failed")
			return h.writeFrame(conn, outboundFrame{Type: "error", SessionID: sessionID, Error: err.Error()})
		}

		if !h.writeFrame(conn, outboundFrame{Type: "snapshot", SessionID: sessionID, Content: text}) {
			return false
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, frame outboundFrame) bool {
	if err := conn.WriteJSON(frame); err != nil {
		h.log.WithError(err).Debug("websocket write failed")
		return false
	}
	return true
}
