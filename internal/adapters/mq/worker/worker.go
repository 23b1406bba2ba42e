// Package worker runs the background rebuild of rank indexes that fell
// behind the score store.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/scoreboard/internal/adapters/mq/queue"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"
)

const (
	defaultWorkerCount  = 2
	defaultMaxAttempts  = 5
	defaultBackoff      = 100 * time.Millisecond
	maxBackoff          = 10 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

// Job is what workers read off the queue.
type Job = queue.Job

// Reindexer re-derives one level's rank index from durable storage.
type Reindexer interface {
	ReindexLevel(ctx context.Context, level model.Level) error
}

// Queue defines how workers receive jobs and hand failed ones back.
type Queue interface {
	Next(ctx context.Context) (Job, bool)
	Enqueue(ctx context.Context, j Job) bool
}

// Worker processes reindex jobs.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in hand finishes.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	reindexer Reindexer
	name      string

	maxAttempts int
	backoff     time.Duration

	retries sync.WaitGroup

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, r Reindexer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       q,
		reindexer:   r,
		name:        "worker",
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop. A job in hand is processed under ctx even
// when Shutdown is called meanwhile.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.shutdown:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	for {
		if waitCtx.Err() != nil {
			return
		}
		job, ok := w.queue.Next(waitCtx)
		if !ok {
			return
		}
		if err := w.process(ctx, job); err != nil {
			w.logger.Error(ctx, "reindex failed",
				logger.String("level", job.Level.Key()),
				logger.Int("attempt", job.Attempt),
				logger.Error(err),
			)
			w.retry(ctx, job)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		w.retries.Wait()
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, job Job) error { //nolint:gocritic // hugeParam: Job travels by value
	start := time.Now()
	defer func() { metrics.RecordWorkerJobLatency(metrics.Since(start)) }()

	if err := w.reindexer.ReindexLevel(ctx, job.Level); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "reindex_error")
		return fmt.Errorf("reindex %s: %w", job.Level.Key(), err)
	}
	w.logger.Debug(ctx, "level reindexed",
		logger.String("level", job.Level.Key()),
		logger.String("reason", job.Reason),
	)
	return nil
}

// retry hands the job back to the queue after an exponential delay.
func (w *InMemoryWorker) retry(ctx context.Context, job Job) { //nolint:gocritic // hugeParam: Job travels by value
	next := job.Attempt + 1
	if next >= w.maxAttempts {
		w.logger.Warn(ctx, "giving up on level",
			logger.String("level", job.Level.Key()),
			logger.Int("attempts", next),
		)
		return
	}
	delay := backoffFor(w.backoff, job.Attempt)
	job.Attempt = next

	w.retries.Add(1)
	go func() {
		defer w.retries.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-w.shutdown:
			return
		case <-ctx.Done():
			return
		}
		if w.queue.Enqueue(ctx, job) {
			metrics.RecordWorkerRetry()
		}
	}()
}

func backoffFor(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// Pool manages multiple workers.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Queue
	startOnce sync.Once

	logger logger.Logger
}

// NewPool creates a worker pool. Options apply to every worker.
func NewPool(workerCount int, q Queue, r Reindexer, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range workerCount {
		wopts := append([]Option{}, opts...)
		wopts = append(wopts, WithName("worker-"+strconv.Itoa(i)))
		p.workers[i] = NewInMemoryWorker(q, r, wopts...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool. Later calls do nothing; a pool
// that was shut down stays down.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for _, w := range p.workers {
			go w.Run(ctx)
		}
	})
}

// Shutdown closes the queue and waits for all workers to finish.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdateWorkerCount(0)
	return firstErr
}
