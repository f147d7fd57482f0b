package ingest

import (
	"context"

	ferrors "git.home.luguber.info/inful/flutterci/internal/foundation/errors"
	"git.home.luguber.info/inful/flutterci/internal/metrics"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

// Job is the in-memory descriptor handed from ingestion to the worker. The
// durable record lives in the ledger; the job carries just enough to process
// and log without a second lookup.
type Job struct {
	EventID    int64
	Provider   store.Provider
	DeliveryID string
	EventType  string
}

// Queue is a bounded FIFO of pending webhook jobs. Enqueue never blocks;
// callers that need admission under pressure use EnqueueWait.
type Queue struct {
	jobs     chan Job
	recorder metrics.Recorder
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int, recorder metrics.Recorder) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Queue{
		jobs:     make(chan Job, capacity),
		recorder: recorder,
	}
}

// Enqueue admits a job without blocking. A full queue returns a capacity
// error; the caller decides whether to surface backpressure or retry later.
func (q *Queue) Enqueue(job Job) error {
	select {
	case q.jobs <- job:
		q.recorder.SetQueueDepth(len(q.jobs))
		return nil
	default:
		return ferrors.CapacityError("event queue is full").Build()
	}
}

// EnqueueWait blocks until the job is admitted or the context is cancelled.
// The recovery sweep uses this so restart replay cannot drop events.
func (q *Queue) EnqueueWait(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		q.recorder.SetQueueDepth(len(q.jobs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs exposes the receive side for the worker loop.
func (q *Queue) Jobs() <-chan Job {
	return q.jobs
}

// Depth returns the number of jobs currently waiting.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Capacity returns the configured queue size.
func (q *Queue) Capacity() int {
	return cap(q.jobs)
}
