// Package chat drives a conversation turn: it streams the generated reply to
// the caller while buffering it, and commits the completed turn to the
// conversation log as one atomic chunk.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	chatmodel "github.com/hikkinomore/buddy-server/internal/model/chat"
	"github.com/hikkinomore/buddy-server/internal/model/preset"
	"github.com/hikkinomore/buddy-server/internal/store"
)

var (
	ErrInvalidPreset     = errors.New("invalid preset")
	ErrEmptyMessage      = errors.New("empty user message")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrGenerationAborted = errors.New("generation aborted")
)

// Generator produces the streamed reply for one turn. The production
// implementation is the eino chain in service/ai.
type Generator interface {
	StreamReply(ctx context.Context, profile preset.Profile, history []chatmodel.Message, userMessage string) (*schema.StreamReader[*schema.Message], error)
}

// JudgeScheduler hands a committed session off for asynchronous skill
// evaluation. Enqueue must never block; it reports whether the session was
// accepted.
type JudgeScheduler interface {
	Enqueue(sessionID string) bool
}

// Service is the stream committer. Concurrent turns on distinct sessions are
// fully independent; turns on the same session may stream in parallel but
// their commits serialize on a per-session lock.
type Service struct {
	log   *logrus.Logger
	store store.ConversationLog
	gen   Generator
	judge JudgeScheduler

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires the committer. judge may be nil when evaluation is
// disabled.
func NewService(log *logrus.Logger, st store.ConversationLog, gen Generator, judge JudgeScheduler) *Service {
	return &Service{
		log:   log,
		store: st,
		gen:   gen,
		judge: judge,
		locks: make(map[string]*sync.Mutex),
	}
}

// EnsureSession creates the session on first contact; an existing session is
// returned unchanged regardless of the preset argument.
func (s *Service) EnsureSession(ctx context.Context, sessionID, userID string, presetID preset.ID) (chatmodel.Session, error) {
	if !preset.Valid(presetID) {
		return chatmodel.Session{}, fmt.Errorf("%w: %q", ErrInvalidPreset, presetID)
	}
	return s.store.EnsureSession(ctx, sessionID, userID, presetID)
}

// History returns the session's full conversation in chronological order.
func (s *Service) History(ctx context.Context, sessionID string) ([]chatmodel.Message, error) {
	return s.store.ReadHistory(ctx, sessionID)
}

// ListSessions returns the ids of every session the user owns.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]string, error) {
	return s.store.ListUserSessions(ctx, userID)
}

// StreamTurn runs one conversation turn. The returned stream yields the
// cumulative reply text after each generation delta and ends, via io.EOF, only
// after the full turn has been durably committed. If generation fails or the
// caller abandons the stream, nothing is committed and the turn is lost.
func (s *Service) StreamTurn(ctx context.Context, sessionID, userID string, presetID preset.ID, userMessage string) (*TurnStream, error) {
	if !preset.Valid(presetID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPreset, presetID)
	}
	if strings.TrimSpace(userMessage) == "" {
		return nil, ErrEmptyMessage
	}

	session, err := s.store.EnsureSession(ctx, sessionID, userID, presetID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure session: %w", err)
	}

	// The stored preset wins over the request argument: a session's
	// personality never drifts mid-conversation.
	profile, ok := preset.Find(session.Preset)
	if !ok {
		return nil, fmt.Errorf("%w: session %s stores %q", ErrInvalidPreset, session.ID, session.Preset)
	}

	history, err := s.store.ReadHistory(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	observedTail, err := s.store.TailSequence(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read session tail: %w", err)
	}

	stream, err := s.gen.StreamReply(ctx, profile, history, userMessage)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	ts := newTurnStream()
	go s.pump(ctx, ts, stream, session, profile, userMessage, observedTail)
	return ts, nil
}

// pump forwards generation deltas as cumulative snapshots, then commits the
// finished turn. It is the only writer to ts.
func (s *Service) pump(ctx context.Context, ts *TurnStream, stream *schema.StreamReader[*schema.Message], session chatmodel.Session, profile preset.Profile, userMessage string, observedTail int64) {
	defer stream.Close()

	var reply strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				s.log.WithField("session", session.ID).Info("turn discarded: caller cancelled")
				ts.fail(fmt.Errorf("%w: %v", ErrGenerationAborted, ctx.Err()))
			} else {
				ts.fail(fmt.Errorf("%w: %v", ErrGenerationFailed, err))
			}
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		reply.WriteString(chunk.Content)
		if !ts.send(reply.String()) {
			s.log.WithField("session", session.ID).Info("turn discarded: stream abandoned")
			ts.finish()
			return
		}
	}

	if ctx.Err() != nil {
		ts.fail(fmt.Errorf("%w: %v", ErrGenerationAborted, ctx.Err()))
		return
	}

	// A consumer that closed the stream gave up on this turn even if
	// generation finished cleanly underneath it.
	if ts.abandoned() {
		s.log.WithField("session", session.ID).Info("turn discarded: stream abandoned")
		ts.finish()
		return
	}

	final := reply.String()
	if strings.TrimSpace(final) == "" {
		ts.fail(fmt.Errorf("%w: model produced an empty reply", ErrGenerationFailed))
		return
	}

	seq, err := s.commit(ctx, session, profile, userMessage, final, observedTail)
	if err != nil {
		ts.fail(err)
		return
	}

	s.log.WithFields(logrus.Fields{
		"session":  session.ID,
		"sequence": seq,
		"length":   len(final),
	}).Info("turn committed")

	if s.judge != nil && !s.judge.Enqueue(session.ID) {
		s.log.WithField("session", session.ID).Warn("judgement queue full, evaluation skipped")
	}

	ts.finish()
}

// commit appends the turn as one chunk under the session's write lock. The
// lock covers only the append, not the streaming, so concurrent turns on one
// session stream in parallel and serialize here.
func (s *Service) commit(ctx context.Context, session chatmodel.Session, profile preset.Profile, userMessage, reply string, observedTail int64) (int64, error) {
	lock := s.sessionLock(session.ID)
	lock.Lock()
	defer lock.Unlock()

	// Generation completed in full; a caller that has since disconnected
	// must not tear the committed record.
	ctx = context.WithoutCancel(ctx)

	tail, err := s.store.TailSequence(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to read session tail: %w", err)
	}
	if tail != observedTail {
		s.log.WithFields(logrus.Fields{
			"session":  session.ID,
			"observed": observedTail,
			"tail":     tail,
		}).Warn("session advanced during generation; committing after newer turn")
	}

	payload := make([]chatmodel.Message, 0, 3)
	if tail == 0 {
		payload = append(payload, chatmodel.NewMessage(chatmodel.RoleSystem, profile.Rendered()))
	}
	payload = append(payload,
		chatmodel.NewMessage(chatmodel.RoleUser, userMessage),
		chatmodel.NewMessage(chatmodel.RoleAssistant, reply),
	)

	seq, err := s.store.AppendChunk(ctx, session.ID, payload)
	if errors.Is(err, store.ErrWriteConflict) {
		// Commits in this process serialize on the session lock, so a
		// conflict means an outside writer raced us. Retry once at the
		// fresh tail, then surface.
		seq, err = s.store.AppendChunk(ctx, session.ID, payload)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to commit turn: %w", err)
	}
	return seq, nil
}

func (s *Service) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}
