package chat_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	chatmodel "github.com/hikkinomore/buddy-server/internal/model/chat"
	"github.com/hikkinomore/buddy-server/internal/model/preset"
	"github.com/hikkinomore/buddy-server/internal/service/chat"
	"github.com/hikkinomore/buddy-server/internal/store"
)

// fakeGenerator streams a scripted reply. A non-nil failAfter error is emitted
// once the scripted deltas run out, instead of a clean end of stream. With
// hangUntilCancel the stream stalls after the deltas and then fails with the
// context's error, mimicking an upstream torn down by the caller.
type fakeGenerator struct {
	deltas          []string
	failAfter       error
	hangUntilCancel bool

	gotProfile preset.Profile
	gotHistory []chatmodel.Message
	gotMessage string
}

func (f *fakeGenerator) StreamReply(ctx context.Context, profile preset.Profile, history []chatmodel.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	f.gotProfile = profile
	f.gotHistory = history
	f.gotMessage = userMessage

	if f.failAfter == nil && !f.hangUntilCancel {
		msgs := make([]*schema.Message, 0, len(f.deltas))
		for _, d := range f.deltas {
			msgs = append(msgs, schema.AssistantMessage(d, nil))
		}
		return schema.StreamReaderFromArray(msgs), nil
	}

	sr, sw := schema.Pipe[*schema.Message](len(f.deltas) + 1)
	go func() {
		defer sw.Close()
		for _, d := range f.deltas {
			sw.Send(schema.AssistantMessage(d, nil), nil)
		}
		if f.hangUntilCancel {
			<-ctx.Done()
			sw.Send(nil, ctx.Err())
			return
		}
		sw.Send(nil, f.failAfter)
	}()
	return sr, nil
}

type fakeScheduler struct {
	sessions []string
	full     bool
}

func (f *fakeScheduler) Enqueue(sessionID string) bool {
	f.sessions = append(f.sessions, sessionID)
	return !f.full
}

func newTestService(t *testing.T, gen chat.Generator, judge chat.JudgeScheduler) (*chat.Service, *store.SQLiteStore) {
	t.Helper()

	log := logrus.New()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.sqlite"), log)
	if err != nil {
		t.Fatalf("NewSQLiteStore err: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return chat.NewService(log, st, gen, judge), st
}

// drain consumes the stream to completion, returning every snapshot.
func drain(t *testing.T, ts *chat.TurnStream) ([]string, error) {
	t.Helper()

	var snaps []string
	for {
		text, err := ts.Recv()
		if errors.Is(err, io.EOF) {
			return snaps, nil
		}
		if err != nil {
			return snaps, err
		}
		snaps = append(snaps, text)
	}
}

func TestStreamTurnCumulativeSnapshots(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"Hel", "lo ", "there"}}
	svc, _ := newTestService(t, gen, nil)

	ts, err := svc.StreamTurn(context.Background(), "s1", "u1", preset.GeneralBot, "hi")
	if err != nil {
		t.Fatalf("StreamTurn err: %v", err)
	}

	snaps, err := drain(t, ts)
	if err != nil {
		t.Fatalf("stream err: %v", err)
	}
	want := []string{"Hel", "Hello ", "Hello there"}
	if len(snaps) != len(want) {
		t.Fatalf("snapshots: got %v want %v", snaps, want)
	}
	for i := range want {
		if snaps[i] != want[i] {
			t.Fatalf("snapshot[%d]: got %q want %q", i, snaps[i], want[i])
		}
	}
}

func TestStreamTurnCommitsWholeTurn(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"hello!"}}
	svc, st := newTestService(t, gen, nil)
	ctx := context.Background()

	ts, err := svc.StreamTurn(ctx, "s1", "u1", preset.GeneralBot, "hi")
	if err != nil {
		t.Fatalf("StreamTurn err: %v", err)
	}
	if _, err := drain(t, ts); err != nil {
		t.Fatalf("stream err: %v", err)
	}

	history, err := st.ReadHistory(ctx, "s1")
	if err != nil {
		t.Fatalf("ReadHistory err: %v", err)
	}
	// First turn carries the persona preamble.
	if len(history) != 3 {
		t.Fatalf("history length: got %d want 3", len(history))
	}
	if history[0].Role != chatmodel.RoleSystem {
		t.Fatalf("history[0].Role: got %s want system", history[0].Role)
	}
	if history[1].Role != chatmodel.RoleUser || history[1].Content != "hi" {
		t.Fatalf("history[1]: got %+v", history[1])
	}
	if history[2].Role != chatmodel.RoleAssistant || history[2].Content != "hello!" {
		t.Fatalf("history[2]: got %+v", history[2])
	}

	// Second turn does not repeat the preamble.
	ts, err = svc.StreamTurn(ctx, "s1", "u1", preset.GeneralBot, "again")
	if err != nil {
		t.Fatalf("StreamTurn (second) err: %v", err)
	}
	if _, err := drain(t, ts); err != nil {
		t.Fatalf("stream (second) err: %v", err)
	}

	history, err = st.ReadHistory(ctx, "s1")
	if err != nil {
		t.Fatalf("ReadHistory (second) err: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history length after second turn: got %d want 5", len(history))
	}
	if history[3].Role != chatmodel.RoleUser || history[4].Role != chatmodel.RoleAssistant {
		t.Fatalf("second chunk roles: %s %s", history[3].Role, history[4].Role)
	}
}

func TestStreamTurnNoCommitOnGenerationError(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"par"}, failAfter: errors.New("upstream hiccup")}
	svc, st := newTestService(t, gen, nil)
	ctx := context.Background()

	ts, err := svc.StreamTurn(ctx, "s1", "u1", preset.GeneralBot, "hi")
	if err != nil {
		t.Fatalf("StreamTurn err: %v", err)
	}

	_, err = drain(t, ts)
	if !errors.Is(err, chat.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}

	tail, err := st.TailSequence(ctx, "s1")
	if err != nil {
		t.Fatalf("TailSequence err: %v", err)
	}
	if tail != 0 {
		t.Fatalf("partial turn committed: tail %d", tail)
	}
}

func TestStreamTurnAbortOnCancel(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"par"}, hangUntilCancel: true}
	svc, st := newTestService(t, gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ts, err := svc.StreamTurn(ctx, "s1", "u1", preset.GeneralBot, "hi")
	if err != nil {
		t.Fatalf("StreamTurn err: %v", err)
	}
	if _, err := ts.Recv(); err != nil {
		t.Fatalf("first Recv err: %v", err)
	}
	cancel()

	_, err = drain(t, ts)
	if !errors.Is(err, chat.ErrGenerationAborted) {
		t.Fatalf("expected ErrGenerationAborted, got %v", err)
	}

	tail, err := st.TailSequence(context.Background(), "s1")
	if err != nil {
		t.Fatalf("TailSequence err: %v", err)
	}
	if tail != 0 {
		t.Fatalf("aborted turn committed: tail %d", tail)
	}
}

func TestStreamTurnNoCommitWhenAbandoned(t *testing.T) {
	// More deltas than the stream buffer holds, so the producer is still
	// sending when the consumer walks away.
	deltas := make([]string, 32)
	for i := range deltas {
		deltas[i] = "x"
	}
	gen := &fakeGenerator{deltas: deltas}
	svc, st := newTestService(t, gen, nil)
	ctx := context.Background()

	ts, err := svc.StreamTurn(ctx, "s1", "u1", preset.GeneralBot, "hi")
	if err != nil {
		t.Fatalf("StreamTurn err: %v", err)
	}
	if _, err := ts.Recv(); err != nil {
		t.Fatalf("first Recv err: %v", err)
	}
	ts.Close()

	// Remaining buffered snapshots drain, then the stream ends.
	if _, err := drain(t, ts); err != nil {
		t.Fatalf("drain after close err: %v", err)
	}

	tail, err := st.TailSequence(ctx, "s1")
	if err != nil {
		t.Fatalf("TailSequence err: %v", err)
	}
	if tail != 0 {
		t.Fatalf("abandoned turn committed: tail %d", tail)
	}
}

// gatedGenerator emits one delta, then holds the stream open until released.
type gatedGenerator struct {
	release chan struct{}
}

func (g *gatedGenerator) StreamReply(ctx context.Context, profile preset.Profile, history []chatmodel.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](1)
	go func() {
		defer sw.Close()
		sw.Send(schema.AssistantMessage("partial reply", nil), nil)
		<-g.release
	}()
	return sr, nil
}

func TestStreamTurnNoCommitWhenClosedMidGeneration(t *testing.T) {
	gen := &gatedGenerator{release: make(chan struct{})}
	svc, st := newTestService(t, gen, nil)
	ctx := context.Background()

	ts, err := svc.StreamTurn(ctx, "s1", "u1", preset.GeneralBot, "hi")
	if err != nil {
		t.Fatalf("StreamTurn err: %v", err)
	}
	if _, err := ts.Recv(); err != nil {
		t.Fatalf("first Recv err: %v", err)
	}

	// The consumer walks away while generation is still running; the stream
	// then completes cleanly underneath it.
	ts.Close()
	close(gen.release)

	if _, err := drain(t, ts); err != nil {
		t.Fatalf("drain after close err: %v", err)
	}

	tail, err := st.TailSequence(ctx, "s1")
	if err != nil {
		t.Fatalf("TailSequence err: %v", err)
	}
	if tail != 0 {
		t.Fatalf("abandoned turn committed: tail %d", tail)
	}
}

func TestStreamTurnEmptyReplyFails(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"  ", ""}}
	svc, st := newTestService(t, gen, nil)
	ctx := context.Background()

	ts, err := svc.StreamTurn(ctx, "s1", "u1", preset.GeneralBot, "hi")
	if err != nil {
		t.Fatalf("StreamTurn err: %v", err)
	}
	_, err = drain(t, ts)
	if !errors.Is(err, chat.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed for empty reply, got %v", err)
	}

	tail, err := st.TailSequence(ctx, "s1")
	if err != nil {
		t.Fatalf("TailSequence err: %v", err)
	}
	if tail != 0 {
		t.Fatalf("empty turn committed: tail %d", tail)
	}
}

func TestStreamTurnEnqueuesJudgement(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"reply"}}
	judge := &fakeScheduler{}
	svc, _ := newTestService(t, gen, judge)

	ts, err := svc.StreamTurn(context.Background(), "s1", "u1", preset.GeneralBot, "hi")
	if err != nil {
		t.Fatalf("StreamTurn err: %v", err)
	}
	if _, err := drain(t, ts); err != nil {
		t.Fatalf("stream err: %v", err)
	}

	if len(judge.sessions) != 1 || judge.sessions[0] != "s1" {
		t.Fatalf("enqueued sessions: %v", judge.sessions)
	}
}

func TestStreamTurnStoredPresetWins(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"reply"}}
	svc, _ := newTestService(t, gen, nil)
	ctx := context.Background()

	if _, err := svc.EnsureSession(ctx, "s1", "u1", preset.NervyBot); err != nil {
		t.Fatalf("EnsureSession err: %v", err)
	}

	ts, err := svc.StreamTurn(ctx, "s1", "u1", preset.GeneralBot, "hi")
	if err != nil {
		t.Fatalf("StreamTurn err: %v", err)
	}
	if _, err := drain(t, ts); err != nil {
		t.Fatalf("stream err: %v", err)
	}

	if gen.gotProfile.ID != preset.NervyBot {
		t.Fatalf("generator profile: got %s want %s", gen.gotProfile.ID, preset.NervyBot)
	}
}

func TestStreamTurnValidation(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"reply"}}
	svc, _ := newTestService(t, gen, nil)
	ctx := context.Background()

	if _, err := svc.StreamTurn(ctx, "s1", "u1", preset.ID("NOPE"), "hi"); !errors.Is(err, chat.ErrInvalidPreset) {
		t.Fatalf("expected ErrInvalidPreset, got %v", err)
	}
	if _, err := svc.StreamTurn(ctx, "s1", "u1", preset.GeneralBot, "   "); !errors.Is(err, chat.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.EnsureSession(ctx, "s1", "u1", preset.ID("NOPE")); !errors.Is(err, chat.ErrInvalidPreset) {
		t.Fatalf("EnsureSession: expected ErrInvalidPreset, got %v", err)
	}
}

func TestStreamTurnPassesHistoryToGenerator(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"reply"}}
	svc, _ := newTestService(t, gen, nil)
	ctx := context.Background()

	ts, err := svc.StreamTurn(ctx, "s1", "u1", preset.GeneralBot, "first")
	if err != nil {
		t.Fatalf("StreamTurn err: %v", err)
	}
	if _, err := drain(t, ts); err != nil {
		t.Fatalf("stream err: %v", err)
	}
	if len(gen.gotHistory) != 0 {
		t.Fatalf("first turn history should be empty, got %d messages", len(gen.gotHistory))
	}

	ts, err = svc.StreamTurn(ctx, "s1", "u1", preset.GeneralBot, "second")
	if err != nil {
		t.Fatalf("StreamTurn (second) err: %v", err)
	}
	if _, err := drain(t, ts); err != nil {
		t.Fatalf("stream (second) err: %v", err)
	}

	// The committed first turn, preamble included, feeds the next one.
	if len(gen.gotHistory) != 3 {
		t.Fatalf("second turn history: got %d messages want 3", len(gen.gotHistory))
	}
	if gen.gotMessage != "second" {
		t.Fatalf("user message: got %q", gen.gotMessage)
	}
	if !strings.Contains(gen.gotHistory[2].Content, "reply") {
		t.Fatalf("history tail: got %q", gen.gotHistory[2].Content)
	}
}
