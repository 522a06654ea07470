package judge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const evaluateTimeout = 60 * time.Second

// Worker is the bounded queue between the stream committer and the judge.
// Handoff is fire-and-forget by construction: Enqueue never blocks, a full
// queue drops the request, and evaluation failures stay inside the worker.
type Worker struct {
	log     *logrus.Logger
	svc     *Service
	queue   chan string
	workers int
	wg      sync.WaitGroup
	once    sync.Once
}

// NewWorker builds a worker pool of the given size with a bounded queue.
func NewWorker(log *logrus.Logger, svc *Service, workers, queueSize int) *Worker {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 16
	}
	return &Worker{
		log:     log,
		svc:     svc,
		queue:   make(chan string, queueSize),
		workers: workers,
	}
}

// Start launches the pool. Workers run until Stop is called and the queue
// drains, or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

// Enqueue schedules a session for evaluation. It reports false when the queue
// is full or already closed; the caller treats that as a dropped, non-fatal
// event.
func (w *Worker) Enqueue(sessionID string) (accepted bool) {
	defer func() {
		// Enqueue after Stop loses the race to a closed channel; a
		// dropped evaluation is the documented outcome.
		if recover() != nil {
			accepted = false
		}
	}()

	select {
	case w.queue <- sessionID:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for in-flight evaluations to finish.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.queue) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sessionID, ok := <-w.queue:
			if !ok {
				return
			}
			w.evaluate(ctx, sessionID)
		}
	}
}

// evaluate runs one judgement with its own deadline, detached from any
// request context. Errors never leave this method.
func (w *Worker) evaluate(ctx context.Context, sessionID string) {
	evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), evaluateTimeout)
	defer cancel()

	_, err := w.svc.Evaluate(evalCtx, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, ErrEmptyTranscript):
		w.log.WithField("session", sessionID).Debug("evaluation skipped: empty transcript")
	default:
		w.log.WithField("session", sessionID).WithError(err).Warn("evaluation dropped")
	}
}
