package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultTimeout = 5 * time.Minute

// Job is a periodic unit of work. Jobs with a non-positive Interval are skipped.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
}

func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		logger: logger.With("component", "scheduler"),
	}
}

// Start runs every job once immediately and then on its interval, until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Info("job disabled", "job", job.Name)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, job)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.logger.Info("job scheduled", "job", job.Name, "interval", job.Interval)

	s.runJob(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("job stopped", "job", job.Name)
			return
		case <-ticker.C:
			s.runJob(ctx, job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("job panicked", "job", job.Name, "panic", p)
		}
	}()

	if err := job.Run(jobCtx); err != nil {
		s.logger.Error("job failed", "job", job.Name, "error", err)
	}
}
