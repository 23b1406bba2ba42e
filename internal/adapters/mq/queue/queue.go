// Package queue is the bounded in-memory queue feeding reindex jobs to the
// worker pool. Jobs for a level that is already pending are coalesced.
package queue

import (
	"context"
	"sync"

	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Job is the payload type flowing through the queue.
type Job = model.ReindexJob

// Queue provides non-blocking enqueue and blocking dequeue semantics.
type Queue interface {
	// Enqueue adds a job. Returns false if the queue is full or closed.
	// A job for a level that is already pending is accepted without
	// being queued twice.
	Enqueue(ctx context.Context, j Job) bool

	// Next blocks until a job is available and removes it from the queue.
	// It returns false once the queue is closed and drained or ctx is done.
	Next(ctx context.Context) (Job, bool)

	// Len returns the number of queued jobs.
	Len(ctx context.Context) int

	// Close stops accepting jobs. Queued jobs can still be taken.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int

	mu      sync.RWMutex
	closed  bool
	pendMu  sync.Mutex
	pending map[model.Level]struct{}
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)
	q.pending = make(map[model.Level]struct{})

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a job to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		return false
	}

	q.pendMu.Lock()
	if _, ok := q.pending[j.Level]; ok {
		q.pendMu.Unlock()
		return true
	}
	q.pending[j.Level] = struct{}{}
	q.pendMu.Unlock()

	select {
	case q.jobs <- j:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.jobs))
		return true
	case <-ctx.Done():
		metrics.RecordQueueRejected("context_cancelled")
	default:
		metrics.RecordQueueRejected("full")
	}
	q.release(j.Level)
	return false
}

func (q *InMemoryQueue) release(l model.Level) {
	q.pendMu.Lock()
	delete(q.pending, l)
	q.pendMu.Unlock()
}

// Next takes the oldest job. A job leaves the queue only when a caller
// receives it, so Len never counts jobs held in transit.
func (q *InMemoryQueue) Next(ctx context.Context) (Job, bool) {
	select {
	case <-ctx.Done():
		return Job{}, false
	case j, ok := <-q.jobs:
		if !ok {
			return Job{}, false
		}
		q.release(j.Level)
		metrics.RecordQueueDequeue()
		metrics.UpdateQueueSize(len(q.jobs))
		return j, true
	}
}

// Len returns the current number of queued jobs.
func (q *InMemoryQueue) Len(context.Context) int {
	return len(q.jobs)
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
