package ingest

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
)

// QueueConfig bounds the ingestion work queue's capacity and worker pool
// width.
type QueueConfig struct {
	// Capacity is the number of pending requests the queue holds before
	// Submit blocks the caller (default 1024).
	Capacity int

	// Workers is the number of concurrent ingest workers (0 = NumCPU).
	Workers int
}

// DefaultQueueConfig mirrors the documented ingest defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Capacity: 1024, Workers: runtime.NumCPU()}
}

// job pairs a request with the channel its result is delivered on.
type job struct {
	req    Request
	result chan<- jobResult
}

type jobResult struct {
	outcome Outcome
	err     error
}

// Queue fans a bounded backlog of ingest requests out to a fixed pool of
// workers. Per-document critical sections (via Pipeline's docLocks) still
// serialize writes to a single document; the queue only bounds how many
// documents are in flight across the whole pipeline at once.
type Queue struct {
	pipeline *Pipeline
	jobs     chan job

	wg   sync.WaitGroup
	once sync.Once
}

// NewQueue starts cfg.Workers worker goroutines draining a channel of
// capacity cfg.Capacity. Callers block in Submit once the backlog fills,
// which is the pipeline's back-pressure mechanism.
func NewQueue(pipeline *Pipeline, cfg QueueConfig) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultQueueConfig().Capacity
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	q := &Queue{
		pipeline: pipeline,
		jobs:     make(chan job, cfg.Capacity),
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		outcome, err := q.pipeline.IngestDocument(context.Background(), j.req)
		if err != nil {
			slog.Warn("ingest queue: document failed, continuing batch",
				slog.String("uri", j.req.URI), slog.Any("error", err))
		}
		j.result <- jobResult{outcome: outcome, err: err}
	}
}

// Submit enqueues a request and blocks until a worker has processed it,
// returning its outcome. Submit blocks if the queue backlog is full;
// it returns ctx.Err() if ctx is cancelled before a slot opens.
func (q *Queue) Submit(ctx context.Context, req Request) (Outcome, error) {
	result := make(chan jobResult, 1)
	select {
	case q.jobs <- job{req: req, result: result}:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	select {
	case r := <-result:
		return r.outcome, r.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Close stops accepting new work and waits for in-flight jobs to drain.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.jobs)
	})
	q.wg.Wait()
}
