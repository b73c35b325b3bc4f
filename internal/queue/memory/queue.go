// Package memory provides a queue implementation for local development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/crawlbridge/internal/bridge"
)

// Queue is a bounded in-memory index job queue with context-aware
// operations. Failed jobs requeue until the attempt cap is reached.
type Queue struct {
	ch          chan bridge.IndexJob
	maxAttempts int
	closeMu     sync.Mutex
	closed      bool
}

// NewQueue constructs a queue with the provided capacity and attempt cap.
func NewQueue(capacity, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Queue{
		ch:          make(chan bridge.IndexJob, capacity),
		maxAttempts: maxAttempts,
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job bridge.IndexJob) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation. The
// returned job carries its incremented attempt count.
func (q *Queue) Dequeue(ctx context.Context) (bridge.IndexJob, error) {
	select {
	case <-ctx.Done():
		return bridge.IndexJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return bridge.IndexJob{}, bridge.ErrQueueClosed
		}
		job.Attempt++
		return job, nil
	}
}

// Complete acknowledges a dequeued job. On failure the job requeues
// until the attempt cap; beyond the cap it is dropped (the worker has
// already surfaced the failure).
func (q *Queue) Complete(ctx context.Context, job bridge.IndexJob, jobErr error) error {
	if jobErr == nil || job.Attempt >= q.maxAttempts {
		return nil
	}
	return q.Enqueue(ctx, job)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
