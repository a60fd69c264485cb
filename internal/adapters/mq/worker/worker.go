// Package worker runs the background consumers that turn record approvals
// into point grants and leaderboard updates.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/runac/internal/adapters/mq/queue"
	"github.com/okian/runac/internal/domain/dedupe"
	"github.com/okian/runac/pkg/logger"
	"github.com/okian/runac/pkg/metrics"
)

// Event is what workers read off the queue.
type Event = queue.Event

// Scorer computes the runbility of an approved run.
type Scorer interface {
	Score(ctx context.Context, e Event) (float64, error)
}

// Applier applies a scored approval: grants points and refreshes the
// user's leaderboard entry.
type Applier interface {
	Apply(ctx context.Context, e Event, score float64) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes approval events.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue drains.
	Run(ctx context.Context)

	// Shutdown stops the worker without draining.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue   Queue
	scorer  Scorer
	applier Applier
	deduper dedupe.Deduper
	name    string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, scorer Scorer, applier Applier, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		scorer:   scorer,
		applier:  applier,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := w.processEvent(ctx, e); err != nil {
				w.logger.Error(ctx, "error processing approval", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker loop.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processEvent handles a single approval. A failed event is unrecorded from
// the deduper so the applier's own sweep can process it again.
func (w *InMemoryWorker) processEvent(ctx context.Context, e Event) error {
	start := time.Now()

	if w.deduper != nil && w.deduper.SeenAndRecord(ctx, e.RecordID) {
		metrics.RecordApprovalDuplicate()
		w.logger.Debug(ctx, "duplicate approval dropped", logger.String("recordID", e.RecordID))
		return nil
	}

	score, err := w.scorer.Score(ctx, e)
	if err != nil {
		w.forget(ctx, e)
		metrics.RecordWorkerError("scoring")
		metrics.RecordErrorByComponent("worker", "scoring_error")
		return fmt.Errorf("score record %s: %w", e.RecordID, err)
	}

	if err := w.applier.Apply(ctx, e, score); err != nil {
		w.forget(ctx, e)
		metrics.RecordWorkerError("apply")
		metrics.RecordErrorByComponent("worker", "apply_error")
		return fmt.Errorf("apply record %s: %w", e.RecordID, err)
	}

	metrics.RecordApprovalProcessed()
	metrics.RecordWorkerProcessed(float64(time.Since(start).Microseconds()) / 1000)
	w.logger.Debug(ctx, "approval processed",
		logger.String("recordID", e.RecordID),
		logger.Int64("userSeq", e.UserSeq),
		logger.Float64("runbility", score),
	)
	return nil
}

func (w *InMemoryWorker) forget(ctx context.Context, e Event) {
	if w.deduper != nil {
		w.deduper.Unrecord(ctx, e.RecordID)
	}
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates workerCount workers. A count below 1 uses one per CPU.
// opts apply to every worker.
func NewPool(workerCount int, q Queue, scorer Scorer, applier Applier, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{}, opts...)
		wopts = append(wopts, WithName("worker-"+strconv.Itoa(i)))
		p.workers[i] = NewInMemoryWorker(q, scorer, applier, wopts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown closes the queue and waits for workers to drain it, up to ctx.
// Workers still running when ctx ends are stopped without draining.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			timedOut = true
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := w.Shutdown(stopCtx); err != nil {
				p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("workerID", i))
			}
			cancel()
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("worker pool drain: %w", ctx.Err())
	}
	return nil
}
