package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/stargazer-relay/internal/config"
	"github.com/notifyhub/stargazer-relay/internal/queue"
	"github.com/notifyhub/stargazer-relay/internal/repository"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnDecoded      func(kind string)
	OnMalformed    func()
	OnUnrenderable func()
	OnDuplicate    func()
	OnDispatched   func(kind string, latency time.Duration, err error)
}

func (h *MetricHooks) fill() {
	if h.OnDecoded == nil {
		h.OnDecoded = func(string) {}
	}
	if h.OnMalformed == nil {
		h.OnMalformed = func() {}
	}
	if h.OnUnrenderable == nil {
		h.OnUnrenderable = func() {}
	}
	if h.OnDuplicate == nil {
		h.OnDuplicate = func() {}
	}
	if h.OnDispatched == nil {
		h.OnDispatched = func(string, time.Duration, error) {}
	}
}

// Pool manages the lifecycle of all workers.
// All workers share one queue; completion order across workers is not
// guaranteed even though the queue itself is FIFO.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates cfg.Workers identical workers.
func NewPool(
	cfg *config.Config,
	q *queue.Queue,
	dispatcher Dispatcher,
	seen repository.SeenRepository,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	workers := make([]*Worker, cfg.Workers)

	for i := range workers {
		workers[i] = NewWorker(
			i, q, dispatcher, seen,
			cfg.DedupTTL,
			cfg.DispatchTimeout,
			logger.With(zap.Int("worker_id", i)),
			hooks,
		)
	}

	return &Pool{workers: workers}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches all workers as goroutines.
// Cancelling ctx stops every worker after its current frame.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
