package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Local is an in-process queue: a buffered channel drained by a fixed number of
// workers.
type Local struct {
	jobs    chan Job
	workers int
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ Queue = (*Local)(nil)

func NewLocal(buffer, workers int, logger *slog.Logger) *Local {
	if buffer < 1 {
		buffer = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Local{
		jobs:    make(chan Job, buffer),
		workers: workers,
		logger:  logger,
	}
}

// Enqueue adds a job, waiting for buffer space until ctx is done.
func (q *Local) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the workers. They stop once Close has been called and the buffer
// is drained. ctx is handed to every job; once it is cancelled, in-flight jobs are
// abandoned and buffered ones are dropped without running. Dropped transcripts
// stay Checking For Conflicts and are requeued on the next start.
func (q *Local) Start(ctx context.Context, h Handler) error {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				if ctx.Err() != nil {
					q.logger.Debug("dropping queued job on shutdown", "transcript_id", job.TranscriptID)
					continue
				}
				if err := h(ctx, job); err != nil {
					q.logger.Error("integration job failed",
						"transcript_id", job.TranscriptID,
						"error", err,
					)
				}
			}
		}()
	}
	return nil
}

// Close stops accepting jobs and waits for the workers to drain the buffer. Cancel
// the context given to Start first to skip whatever is still buffered.
func (q *Local) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}
