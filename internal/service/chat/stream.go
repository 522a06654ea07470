package chat

import (
	"io"
	"sync"
)

type snapshot struct {
	text string
	err  error
}

// TurnStream delivers the reply for one turn as a finite, non-restartable
// sequence of cumulative text snapshots. Each snapshot replaces the previous
// one, so a consumer that misses intermediate yields still renders correctly.
type TurnStream struct {
	updates chan snapshot
	closed  chan struct{}
	once    sync.Once
}

func newTurnStream() *TurnStream {
	return &TurnStream{
		updates: make(chan snapshot, 8),
		closed:  make(chan struct{}),
	}
}

// Recv blocks for the next snapshot. It returns io.EOF once the turn has been
// committed, or the turn's failure otherwise.
func (t *TurnStream) Recv() (string, error) {
	up, ok := <-t.updates
	if !ok {
		return "", io.EOF
	}
	if up.err != nil {
		return "", up.err
	}
	return up.text, nil
}

// Close abandons the stream. The in-flight turn is discarded without being
// committed. Safe to call multiple times.
func (t *TurnStream) Close() {
	t.once.Do(func() { close(t.closed) })
}

// send delivers a snapshot, reporting false when the consumer has closed the
// stream. The closed check runs first so an abandoned stream never wins the
// race against remaining buffer space.
func (t *TurnStream) send(text string) bool {
	select {
	case <-t.closed:
		return false
	default:
	}

	select {
	case t.updates <- snapshot{text: text}:
		return true
	case <-t.closed:
		return false
	}
}

// abandoned reports whether the consumer has closed the stream.
func (t *TurnStream) abandoned() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// fail delivers a terminal error and ends the stream.
func (t *TurnStream) fail(err error) {
	select {
	case t.updates <- snapshot{err: err}:
	case <-t.closed:
	}
	close(t.updates)
}

// finish ends the stream normally.
func (t *TurnStream) finish() {
	close(t.updates)
}
