package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"news_enricher/internal/domain"
)

// Janitor keeps both stores bounded: it purges expired cache rows, deletes finished tasks past
// retention and returns tasks stuck in processing to the queue.
type Janitor struct {
	tasks      TaskStore
	cache      CacheStore
	waker      Waker
	stuckAfter time.Duration
	retention  time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewJanitor(tasks TaskStore, cache CacheStore, waker Waker, stuckAfter, retention time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		tasks:      tasks,
		cache:      cache,
		waker:      waker,
		stuckAfter: stuckAfter,
		retention:  retention,
		now:        time.Now,
		logger:     logger.With("component", "janitor"),
	}
}

func (j *Janitor) WithClock(now func() time.Time) *Janitor {
	j.now = now
	return j
}

// Run performs one sweep. Every step runs even if an earlier one fails; the errors are joined.
func (j *Janitor) Run(ctx context.Context) (*domain.MaintenanceStats, error) {
	startTime := time.Now()
	stats := &domain.MaintenanceStats{}
	var errs []error

	purged, err := j.cache.PurgeExpired(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("purge expired cache: %w", err))
	}
	stats.PurgedEntries = purged

	if j.retention > 0 {
		deleted, err := j.tasks.DeleteOlderThan(ctx, j.now().Add(-j.retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("delete old tasks: %w", err))
		}
		stats.DeletedTasks = deleted
	}

	requeued, err := j.RequeueStuck(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	stats.RequeuedTasks = requeued

	stats.Duration = time.Since(startTime)

	j.logger.Info("maintenance completed",
		"purged_entries", stats.PurgedEntries,
		"deleted_tasks", stats.DeletedTasks,
		"requeued_tasks", stats.RequeuedTasks,
		"duration", stats.Duration,
	)

	return stats, errors.Join(errs...)
}

// RequeueStuck sweeps tasks that have been processing longer than the stuck threshold.
func (j *Janitor) RequeueStuck(ctx context.Context) (int64, error) {
	if j.stuckAfter <= 0 {
		return 0, nil
	}
	return j.requeue(ctx, j.now().Add(-j.stuckAfter))
}

// RecoverOrphans requeues every task left in processing. It must run before this process starts
// dispatching, while no task can legitimately be in flight.
func (j *Janitor) RecoverOrphans(ctx context.Context) (int64, error) {
	return j.requeue(ctx, j.now())
}

func (j *Janitor) requeue(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := j.tasks.RequeueStuck(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck tasks: %w", err)
	}

	if n > 0 {
		j.logger.Warn("requeued stuck tasks", "count", n, "started_before", cutoff)
		if j.waker != nil {
			j.waker.Resume()
		}
	}
	return n, nil
}
