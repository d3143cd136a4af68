package summary

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbright/brainlive/internal/observe"
)

// Store reads and writes the summary attached to a ledger session.
type Store interface {
	Summary(sessionID string) (State, error)
	SetSummary(sessionID string, state State) error
}

// Recorder observes update latency. *observe.Metrics satisfies it.
type Recorder interface {
	RecordSummary(ctx context.Context, seconds float64, outcome string)
}

type job struct {
	sessionID string
	segment   string
	locale    string
}

// Worker applies updates one at a time in submission order so each update
// sees the result of the previous one.
type Worker struct {
	updater  Updater
	store    Store
	logger   *slog.Logger
	recorder Recorder

	queue chan job

	mu     sync.Mutex
	closed bool
}

func NewWorker(updater Updater, store Store, logger *slog.Logger, recorder Recorder) *Worker {
	return &Worker{
		updater:  updater,
		store:    store,
		logger:   logger,
		recorder: recorder,
		queue:    make(chan job, 64),
	}
}

// Submit queues a segment without blocking. It reports false when the
// worker is closed or the queue is full.
func (w *Worker) Submit(sessionID string, segment string, locale string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- job{sessionID: sessionID, segment: segment, locale: locale}:
		return true
	default:
		w.warn("summary queue full; dropping segment", "session_id", sessionID)
		return false
	}
}

// Close stops accepting segments. Run drains what is queued and returns.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.queue)
}

// Run processes queued segments until Close drains the queue or ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-w.queue:
			if !ok {
				return nil
			}
			w.process(ctx, j)
		}
	}
}

func (w *Worker) process(ctx context.Context, j job) {
	ctx, span := observe.StartSpan(ctx, "summary.update")
	span.SetAttributes(attribute.String("session_id", j.sessionID), attribute.String("locale", j.locale))

	started := time.Now()
	outcome := "ok"
	defer func() {
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
		if w.recorder != nil {
			w.recorder.RecordSummary(ctx, time.Since(started).Seconds(), outcome)
		}
	}()

	prior, err := w.store.Summary(j.sessionID)
	if err != nil {
		outcome = "store_error"
		w.warn("read summary failed", "session_id", j.sessionID, "error", err.Error())
		return
	}

	next, err := w.updater.Update(ctx, prior, j.segment, j.locale)
	if err != nil {
		outcome = "update_error"
		w.warn("summary update failed", "session_id", j.sessionID, "error", err.Error())
		return
	}

	if err := w.store.SetSummary(j.sessionID, next); err != nil {
		outcome = "store_error"
		w.warn("store summary failed", "session_id", j.sessionID, "error", err.Error())
	}
}

func (w *Worker) warn(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Warn(msg, args...)
	}
}
