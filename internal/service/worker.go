package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"news_enricher/internal/domain"
)

// Worker executes one claimed task to completion or to a recorded failure.
type Worker struct {
	tasks      TaskStore
	cache      CacheStore
	translator Translator
	notifier   Notifier
	retry      RetryPolicy
	timeout    time.Duration
	logger     *slog.Logger
}

func NewWorker(
	tasks TaskStore,
	cache CacheStore,
	translator Translator,
	notifier Notifier,
	retry RetryPolicy,
	timeout time.Duration,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		tasks:      tasks,
		cache:      cache,
		translator: translator,
		notifier:   notifier,
		retry:      retry,
		timeout:    timeout,
		logger:     logger.With("component", "worker"),
	}
}

func (w *Worker) Run(ctx context.Context, task *domain.Task) {
	logger := w.logger.With("task_id", task.ID, "item_id", task.ItemID, "attempt", task.Attempts)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("worker panicked", "panic", p)
			w.fail(ctx, task, fmt.Errorf("panic: %v", p), logger)
		}
	}()

	start := time.Now()

	result, err := w.translate(ctx, task)
	if err != nil {
		w.fail(ctx, task, err, logger)
		return
	}

	entry := domain.NewCacheEntry(task, *result, time.Since(start), w.translator.Model())
	if err := w.cache.Upsert(ctx, entry); err != nil {
		w.fail(ctx, task, fmt.Errorf("write cache: %w", err), logger)
		return
	}

	// the cache entry is what readers see, so the event goes out even if this update is lost
	if err := w.tasks.MarkCompleted(ctx, task.ID, *result); err != nil {
		logger.Error("failed to mark task completed", "error", err)
	}

	if w.notifier != nil {
		w.notifier.Publish(ctx, domain.NewUpdateEvent(entry))
	}

	logger.Info("task completed",
		"processing_time_ms", entry.ProcessingTimeMs,
		"model", entry.ModelUsed,
	)
}

func (w *Worker) translate(ctx context.Context, task *domain.Task) (*domain.EnrichmentResult, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	result, err := w.translator.Translate(ctx, task.Title, task.URL())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEnrichmentFailed, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: empty result", domain.ErrEnrichmentFailed)
	}
	return result, nil
}

func (w *Worker) fail(ctx context.Context, task *domain.Task, cause error, logger *slog.Logger) {
	delay := w.retry.Delay(task.Attempts)

	status, err := w.tasks.MarkFailedOrRetry(ctx, task.ID, cause.Error(), delay)
	if err != nil {
		logger.Error("failed to record task failure", "error", err, "cause", cause)
		return
	}

	if status == domain.TaskStatusFailed {
		logger.Error("task failed permanently", "error", cause, "max_attempts", task.MaxAttempts)
		return
	}
	logger.Warn("task will be retried", "error", cause, "retry_in", delay)
}
