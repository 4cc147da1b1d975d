// Package memory holds process-local stores with the same semantics as the postgres ones.
// Nothing survives a restart.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"news_enricher/internal/domain"
)

type TaskStore struct {
	mu     sync.Mutex
	tasks  map[int64]*domain.Task
	active map[int64]int64 // item id -> task id
	nextID int64
	now    func() time.Time
}

func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks:  make(map[int64]*domain.Task),
		active: make(map[int64]int64),
		now:    time.Now,
	}
}

func (s *TaskStore) WithClock(now func() time.Time) *TaskStore {
	s.now = now
	return s
}

func (s *TaskStore) Enqueue(_ context.Context, nt domain.NewTask) (*domain.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[nt.ItemID]; ok {
		return clone(s.tasks[id]), false, nil
	}

	if nt.MaxAttempts <= 0 {
		nt.MaxAttempts = domain.DefaultMaxAttempts
	}

	s.nextID++
	now := s.now()
	task := &domain.Task{
		ID:          s.nextID,
		ItemID:      nt.ItemID,
		Title:       nt.Title,
		SourceURL:   nt.SourceURL,
		Status:      domain.TaskStatusPending,
		Priority:    nt.Priority,
		MaxAttempts: nt.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
		AvailableAt: now,
	}
	s.tasks[task.ID] = task
	s.active[task.ItemID] = task.ID

	return clone(task), true, nil
}

func (s *TaskStore) Get(_ context.Context, id int64) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return clone(task), nil
}

func (s *TaskStore) NextEligible(_ context.Context, exclude ...int64) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var best *domain.Task
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusPending || task.AvailableAt.After(now) {
			continue
		}
		if slices.Contains(exclude, task.ItemID) {
			continue
		}
		if best == nil || compareEligibility(task, best) < 0 {
			best = task
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

// compareEligibility orders by priority descending, then creation time, then id.
func compareEligibility(a, b *domain.Task) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (s *TaskStore) MarkProcessing(_ context.Context, id int64) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.transition(id, domain.TaskStatusProcessing, domain.ErrTaskNotPending)
	if err != nil {
		return nil, err
	}

	now := s.now()
	task.Status = domain.TaskStatusProcessing
	task.Attempts++
	task.ProcessingStartedAt = &now
	task.UpdatedAt = now

	return clone(task), nil
}

func (s *TaskStore) MarkCompleted(_ context.Context, id int64, result domain.EnrichmentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.transition(id, domain.TaskStatusCompleted, domain.ErrInvalidTransition)
	if err != nil {
		return err
	}

	now := s.now()
	task.Status = domain.TaskStatusCompleted
	task.Result = &result
	task.LastError = nil
	task.CompletedAt = &now
	task.UpdatedAt = now
	delete(s.active, task.ItemID)

	return nil
}

func (s *TaskStore) MarkFailedOrRetry(_ context.Context, id int64, errText string, retryDelay time.Duration) (domain.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return "", fmt.Errorf("task %d: %w", id, domain.ErrTaskNotFound)
	}
	if task.Status != domain.TaskStatusProcessing {
		return "", fmt.Errorf("task %d is %s: %w", id, task.Status, domain.ErrInvalidTransition)
	}

	now := s.now()
	s.fail(task, errText, now, now.Add(retryDelay))
	return task.Status, nil
}

func (s *TaskStore) fail(task *domain.Task, errText string, now, availableAt time.Time) {
	task.LastError = &errText
	task.UpdatedAt = now
	task.Status = task.NextStatusAfterFailure()
	if task.Status == domain.TaskStatusFailed {
		delete(s.active, task.ItemID)
		return
	}
	task.ProcessingStartedAt = nil
	task.AvailableAt = availableAt
}

func (s *TaskStore) transition(id int64, next domain.TaskStatus, cause error) (*domain.Task, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, domain.ErrTaskNotFound)
	}
	if !task.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("task %d is %s: %w", id, task.Status, cause)
	}
	return task, nil
}

func (s *TaskStore) StatusCounts(_ context.Context) (domain.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts domain.StatusCounts
	perStatus := make(map[domain.TaskStatus]int)
	for _, task := range s.tasks {
		perStatus[task.Status]++
	}
	for status, n := range perStatus {
		counts.Set(status, n)
	}
	return counts, nil
}

func (s *TaskStore) List(_ context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	tasks := []domain.Task{}
	for _, task := range s.tasks {
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		if filter.ItemID != nil && task.ItemID != *filter.ItemID {
			continue
		}
		tasks = append(tasks, *clone(task))
	}

	slices.SortFunc(tasks, func(a, b domain.Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *TaskStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, task := range s.tasks {
		if task.Status.IsTerminal() && task.CreatedAt.Before(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (s *TaskStore) RequeueStuck(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusProcessing || task.ProcessingStartedAt == nil {
			continue
		}
		if !task.ProcessingStartedAt.Before(cutoff) {
			continue
		}
		s.fail(task, "processing timed out", now, now)
		n++
	}
	return n, nil
}

func clone(task *domain.Task) *domain.Task {
	c := *task
	if task.Result != nil {
		r := *task.Result
		r.Tags = slices.Clone(task.Result.Tags)
		c.Result = &r
	}
	return &c
}
