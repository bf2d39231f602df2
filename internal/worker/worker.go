package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/stargazer-relay/internal/domain"
	"github.com/notifyhub/stargazer-relay/internal/queue"
	"github.com/notifyhub/stargazer-relay/internal/repository"
	"github.com/notifyhub/stargazer-relay/internal/service"
)

// maxLoggedFrame bounds how much of a malformed frame ends up in the log.
const maxLoggedFrame = 512

// Dispatcher fans a rendered message out to subscribers.
// *service.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, topic, kind, message string) (service.Report, error)
}

// Worker is a single goroutine that pulls raw frames off the queue, decodes
// and renders them, and hands the result to the dispatcher.
type Worker struct {
	id              int
	q               *queue.Queue
	dispatcher      Dispatcher
	seen            repository.SeenRepository
	dedupTTL        time.Duration
	dispatchTimeout time.Duration
	logger          *zap.Logger
	hooks           MetricHooks
}

// NewWorker constructs a worker. Duplicate suppression runs only with a
// non-nil seen and a positive dedupTTL; a zero dispatchTimeout leaves
// dispatch unbounded.
func NewWorker(
	id int,
	q *queue.Queue,
	dispatcher Dispatcher,
	seen repository.SeenRepository,
	dedupTTL time.Duration,
	dispatchTimeout time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *Worker {
	hooks.fill()
	return &Worker{
		id: id, q: q, dispatcher: dispatcher, seen: seen,
		dedupTTL: dedupTTL, dispatchTimeout: dispatchTimeout,
		logger: logger, hooks: hooks,
	}
}

// Run blocks until ctx is cancelled, processing one queue item per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("worker started")
	for {
		item, ok := w.q.Dequeue(ctx)
		if !ok {
			w.logger.Debug("worker stopping")
			return
		}
		w.process(ctx, item)
	}
}

// process handles one frame. Nothing that goes wrong here may escape: a bad
// frame is logged and dropped, and the queue is always told the item is done.
func (w *Worker) process(ctx context.Context, item queue.Item) {
	log := w.logger.With(zap.String("event_id", item.ID))
	defer w.q.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing frame", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	e, err := domain.DecodeEvent(item.Data)
	if err != nil {
		log.Warn("dropping malformed frame", zap.Error(err), zap.ByteString("frame", truncate(item.Data)))
		w.hooks.OnMalformed()
		return
	}
	log = log.With(zap.String("topic", e.Topic), zap.String("kind", e.Kind))
	w.hooks.OnDecoded(e.Kind)

	n, ok := domain.NewNotification(e)
	if !ok {
		log.Debug("dropping unrenderable event")
		w.hooks.OnUnrenderable()
		return
	}

	key := repository.FrameKey(item.Data)
	if !w.firstSighting(ctx, key, log) {
		log.Debug("dropping duplicate frame")
		w.hooks.OnDuplicate()
		return
	}

	msg := n.Render()
	log.Debug("rendered", zap.String("message", msg))

	dctx, cancel := w.dispatchContext(ctx)
	defer cancel()

	start := time.Now()
	report, err := w.dispatcher.Dispatch(dctx, e.Topic, e.Kind, msg)
	w.hooks.OnDispatched(e.Kind, time.Since(start), err)
	if err != nil {
		log.Error("dispatch failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		w.forget(ctx, key, log)
		return
	}
	log.Debug("event relayed",
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", report.Failed),
		zap.Duration("latency", time.Since(item.ReceivedAt)),
	)
}

func (w *Worker) dedup() bool {
	return w.seen != nil && w.dedupTTL > 0
}

// firstSighting marks the frame seen. Store errors fail open so an outage
// of the dedup store never stops relaying.
func (w *Worker) firstSighting(ctx context.Context, key string, log *zap.Logger) bool {
	if !w.dedup() {
		return true
	}
	first, err := w.seen.MarkSeen(ctx, key, w.dedupTTL)
	if err != nil {
		log.Warn("seen store unavailable, relaying anyway", zap.Error(err))
		return true
	}
	return first
}

// forget releases the mark of a frame that was not relayed so a resend is
// dispatched.
func (w *Worker) forget(ctx context.Context, key string, log *zap.Logger) {
	if !w.dedup() {
		return
	}
	if err := w.seen.Forget(ctx, key); err != nil {
		log.Warn("could not release seen mark", zap.Error(err))
	}
}

func (w *Worker) dispatchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.dispatchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.dispatchTimeout)
}

func truncate(b []byte) []byte {
	if len(b) > maxLoggedFrame {
		return b[:maxLoggedFrame]
	}
	return b
}
