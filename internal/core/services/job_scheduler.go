package services

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// SchedulerConfig bounds how many pipelines run at once. Each job holds one
// semaphore unit for its whole lifetime, including the renderer subprocess.
type SchedulerConfig struct {
	MaxConcurrentJobs int64
}

// JobScheduler hands accepted jobs to background goroutines. The API enqueues
// and returns; the consumer loop acquires a slot and runs the handler.
type JobScheduler struct {
	logger       *slog.Logger
	pendingQueue chan RunRequest
	semaphore    *semaphore.Weighted
}

func NewJobScheduler(logger *slog.Logger, cfg SchedulerConfig) *JobScheduler {
	limit := cfg.MaxConcurrentJobs
	if limit <= 0 {
		limit = 4
	}

	return &JobScheduler{
		logger:       logger,
		pendingQueue: make(chan RunRequest, 100),
		semaphore:    semaphore.NewWeighted(limit),
	}
}

// Submit adds a queued job to the scheduling queue without blocking the
// request path. A full queue is a client-visible error, not silent loss.
func (s *JobScheduler) Submit(ctx context.Context, req RunRequest) error {
	select {
	case s.pendingQueue <- req:
		s.logger.Info("job submitted", "job_id", req.JobID)
		return nil
	default:
		return errors.New("scheduling queue full")
	}
}

// Start consumes the queue until ctx is done, launching each job in its own
// goroutine once a concurrency slot is free.
func (s *JobScheduler) Start(ctx context.Context, handler func(context.Context, RunRequest)) {
	s.logger.Info("starting job scheduler")

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("stopping scheduler")
				return
			case req := <-s.pendingQueue:
				if err := s.semaphore.Acquire(ctx, 1); err != nil {
					s.logger.Error("failed to acquire scheduler slot", "error", err)
					return
				}

				go func(r RunRequest) {
					defer s.semaphore.Release(1)
					handler(ctx, r)
				}(req)
			}
		}
	}()
}
