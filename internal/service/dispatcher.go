package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"news_enricher/internal/domain"
)

const (
	claimAttempts = 3
	maxDrainPoll  = time.Second
)

// Dispatcher pulls eligible tasks and hands them to a TaskRunner, never running more than
// maxConcurrency at once and never running two tasks for the same item.
type Dispatcher struct {
	tasks        TaskStore
	runner       TaskRunner
	sem          *semaphore.Weighted
	max          int
	pollInterval time.Duration
	wake         chan struct{}
	logger       *slog.Logger

	mu     sync.Mutex
	active map[int64]struct{}
	wg     sync.WaitGroup
}

func NewDispatcher(tasks TaskStore, runner TaskRunner, maxConcurrency int, pollInterval time.Duration, logger *slog.Logger) *Dispatcher {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Dispatcher{
		tasks:        tasks,
		runner:       runner,
		sem:          semaphore.NewWeighted(int64(maxConcurrency)),
		max:          maxConcurrency,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
		logger:       logger.With("component", "dispatcher"),
		active:       make(map[int64]struct{}),
	}
}

// Resume wakes the loop. It never blocks; calls made while a wake-up is pending coalesce.
func (d *Dispatcher) Resume() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is cancelled. Workers get a context detached from ctx so that
// a shutdown lets them finish; use Wait to block on them.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "max_concurrency", d.max, "poll_interval", d.pollInterval)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped", "active_workers", d.ActiveWorkers())
			return ctx.Err()
		case <-d.wake:
		case <-ticker.C:
		}
		d.drain(ctx)
	}
}

// Drain processes work until no task is pending and no worker is running. Pending tasks held
// back by a retry delay are waited for. It is meant for one-shot runs and must not be used
// together with Run.
func (d *Dispatcher) Drain(ctx context.Context) error {
	interval := min(d.pollInterval, maxDrainPoll)

	for {
		launched := d.drain(ctx)

		if d.ActiveWorkers() == 0 && launched == 0 {
			counts, err := d.tasks.StatusCounts(ctx)
			if err != nil {
				return err
			}
			if counts.Pending == 0 {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		case <-time.After(interval):
		}
	}
}

// Wait blocks until every launched worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) ActiveWorkers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Dispatcher) MaxConcurrency() int {
	return d.max
}

// drain launches workers until capacity or eligible work runs out and reports how many it started.
func (d *Dispatcher) drain(ctx context.Context) int {
	launched := 0
	for ctx.Err() == nil {
		if !d.sem.TryAcquire(1) {
			break
		}

		task, err := d.claim(ctx)
		if err != nil {
			d.sem.Release(1)
			d.logger.Error("failed to pull next task", "error", err)
			break
		}
		if task == nil {
			d.sem.Release(1)
			break
		}

		d.launch(ctx, task)
		launched++
	}
	return launched
}

func (d *Dispatcher) claim(ctx context.Context) (*domain.Task, error) {
	for range claimAttempts {
		next, err := d.tasks.NextEligible(ctx, d.activeItems()...)
		if err != nil || next == nil {
			return nil, err
		}

		task, err := d.tasks.MarkProcessing(ctx, next.ID)
		if errors.Is(err, domain.ErrTaskNotPending) {
			d.logger.Debug("task claimed elsewhere", "task_id", next.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		return task, nil
	}
	return nil, nil
}

func (d *Dispatcher) launch(ctx context.Context, task *domain.Task) {
	d.mu.Lock()
	d.active[task.ItemID] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.active, task.ItemID)
			d.mu.Unlock()

			d.sem.Release(1)
			d.wg.Done()
			d.Resume()
		}()

		d.logger.Debug("task started", "task_id", task.ID, "item_id", task.ItemID, "priority", task.Priority)
		d.runner.Run(context.WithoutCancel(ctx), task)
	}()
}

func (d *Dispatcher) activeItems() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := make([]int64, 0, len(d.active))
	for id := range d.active {
		items = append(items, id)
	}
	return items
}
