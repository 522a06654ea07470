// Package store persists conversation history as append-only per-session
// chunks, plus the skill judgements recorded by the evaluation sidecar.
package store

import (
	"context"
	"errors"

	"github.com/hikkinomore/buddy-server/internal/model/chat"
	"github.com/hikkinomore/buddy-server/internal/model/preset"
	"github.com/hikkinomore/buddy-server/internal/model/skill"
)

var (
	// ErrSessionNotFound is returned when a session id has never been ensured.
	ErrSessionNotFound = errors.New("session not found")
	// ErrWriteConflict is returned when two appends race for the same
	// sequence number. Callers serialize writes per session and may retry
	// with a fresh tail.
	ErrWriteConflict = errors.New("chunk write conflict")
)

// ConversationLog is the durable, append-only conversation store. Sessions and
// their chunks are owned exclusively by this interface; all mutation goes
// through EnsureSession and AppendChunk.
type ConversationLog interface {
	// EnsureSession creates the session row if absent and returns it.
	// For an existing session the stored row is returned unchanged; in
	// particular the preset argument never alters an existing session.
	EnsureSession(ctx context.Context, id, userID string, presetID preset.ID) (chat.Session, error)

	// GetSession retrieves a session row by id.
	GetSession(ctx context.Context, id string) (chat.Session, error)

	// AppendChunk atomically persists one turn's messages under the next
	// sequence number and returns that sequence. The chunk becomes visible
	// all at once or not at all.
	AppendChunk(ctx context.Context, sessionID string, payload []chat.Message) (int64, error)

	// ReadHistory replays every chunk for the session in ascending sequence
	// order and concatenates their payloads. An ensured session with no
	// chunks yields an empty history; an unknown session fails with
	// ErrSessionNotFound.
	ReadHistory(ctx context.Context, sessionID string) ([]chat.Message, error)

	// TailSequence returns the highest committed sequence for the session,
	// or zero when no chunk exists.
	TailSequence(ctx context.Context, sessionID string) (int64, error)

	// ListUserSessions returns all session ids owned by a user.
	ListUserSessions(ctx context.Context, userID string) ([]string, error)
}

// JudgementLog records skill judgements. It references sessions by id only and
// never touches conversation chunks.
type JudgementLog interface {
	// AddJudgement appends one judgement record.
	AddJudgement(ctx context.Context, j skill.Judgement) error

	// ListJudgements returns a user's judgements in ascending creation
	// order, optionally narrowed to one session (empty sessionID means all).
	ListJudgements(ctx context.Context, userID, sessionID string) ([]skill.Judgement, error)
}

// Store is the full persistence surface backed by one database.
type Store interface {
	ConversationLog
	JudgementLog
	Close() error
}
