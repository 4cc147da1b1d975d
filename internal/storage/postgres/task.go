package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"news_enricher/internal/domain"
)

var taskColumns = []string{
	"id", "item_id", "title", "source_url", "status", "priority", "attempts", "max_attempts",
	"last_error", "result", "created_at", "updated_at", "available_at",
	"processing_started_at", "completed_at",
}

const taskSelect = `SELECT id, item_id, title, source_url, status, priority, attempts, max_attempts,
	last_error, result, created_at, updated_at, available_at, processing_started_at, completed_at
	FROM tasks`

const taskReturning = `RETURNING id, item_id, title, source_url, status, priority, attempts, max_attempts,
	last_error, result, created_at, updated_at, available_at, processing_started_at, completed_at`

// TaskStore is the persisted enrichment queue. Every status change is a single conditional
// UPDATE, so concurrent callers cannot move a task along an edge the state machine lacks.
type TaskStore struct {
	db        *sqlx.DB
	txManager *TransactionManager
	now       func() time.Time
}

func NewTaskStore(db *sqlx.DB) *TaskStore {
	return &TaskStore{
		db:        db,
		txManager: NewTransactionManager(db),
		now:       time.Now,
	}
}

func (s *TaskStore) WithClock(now func() time.Time) *TaskStore {
	s.now = now
	return s
}

// Enqueue inserts a pending task unless the item already has an active one, in which case the
// existing task is returned with created == false.
func (s *TaskStore) Enqueue(ctx context.Context, nt domain.NewTask) (*domain.Task, bool, error) {
	if nt.MaxAttempts <= 0 {
		nt.MaxAttempts = domain.DefaultMaxAttempts
	}

	var (
		task    *domain.Task
		created bool
	)

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.findActive(txCtx, nt.ItemID)
		if err != nil {
			return err
		}
		if existing != nil {
			task = existing
			return nil
		}

		now := s.now()
		query := `
			INSERT INTO tasks (
				item_id, title, source_url, status, priority, attempts, max_attempts,
				created_at, updated_at, available_at
			) VALUES (
				$1, $2, $3, 'pending', $4, 0, $5, $6, $6, $6
			)
			ON CONFLICT (item_id) WHERE status IN ('pending', 'processing') DO NOTHING
			` + taskReturning

		var inserted domain.Task
		err = sqlx.GetContext(txCtx, GetExecutor(txCtx, s.db), &inserted, query,
			nt.ItemID,
			nt.Title,
			nt.SourceURL,
			nt.Priority,
			nt.MaxAttempts,
			now,
		)
		if errors.Is(err, sql.ErrNoRows) {
			// lost the race against a concurrent enqueue for the same item
			task, err = s.findActive(txCtx, nt.ItemID)
			if err == nil && task == nil {
				err = fmt.Errorf("active task for item %d vanished", nt.ItemID)
			}
			return err
		}
		if err != nil {
			return wrapErr("insert task", err)
		}

		task = &inserted
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return task, created, nil
}

func (s *TaskStore) findActive(ctx context.Context, itemID int64) (*domain.Task, error) {
	query := taskSelect + ` WHERE item_id = $1 AND status IN ('pending', 'processing') LIMIT 1`
	return s.getOne(ctx, "find active task", query, itemID)
}

func (s *TaskStore) Get(ctx context.Context, id int64) (*domain.Task, error) {
	task, err := s.getOne(ctx, "get task", taskSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.ErrTaskNotFound
	}
	return task, nil
}

func (s *TaskStore) getOne(ctx context.Context, op, query string, args ...any) (*domain.Task, error) {
	var task domain.Task
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &task, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return &task, nil
}

// NextEligible returns the pending task that should run next: highest priority first, then
// oldest, then lowest id. Items listed in exclude are skipped. It returns nil when nothing is
// eligible.
func (s *TaskStore) NextEligible(ctx context.Context, exclude ...int64) (*domain.Task, error) {
	query := taskSelect + `
		WHERE status = 'pending' AND available_at <= $1 AND NOT (item_id = ANY($2))
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT 1`

	if exclude == nil {
		exclude = []int64{}
	}
	return s.getOne(ctx, "next eligible task", query, s.now(), pq.Array(exclude))
}

// MarkProcessing claims a pending task and counts the attempt.
func (s *TaskStore) MarkProcessing(ctx context.Context, id int64) (*domain.Task, error) {
	now := s.now()
	query := `
		UPDATE tasks SET
			status = 'processing',
			attempts = attempts + 1,
			processing_started_at = $2,
			updated_at = $2
		WHERE id = $1 AND status = 'pending'
		` + taskReturning

	task, err := s.getOne(ctx, "mark task processing", query, id, now)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, s.missedTransition(ctx, id, domain.ErrTaskNotPending)
	}
	return task, nil
}

func (s *TaskStore) MarkCompleted(ctx context.Context, id int64, result domain.EnrichmentResult) error {
	now := s.now()
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE tasks SET
			status = 'completed',
			result = $2,
			last_error = NULL,
			completed_at = $3,
			updated_at = $3
		WHERE id = $1 AND status = 'processing'`,
		id, result, now,
	)
	if err != nil {
		return wrapErr("mark task completed", err)
	}

	n, err := rowsAffected("mark task completed", res)
	if err != nil {
		return err
	}
	if n == 0 {
		return s.missedTransition(ctx, id, domain.ErrInvalidTransition)
	}
	return nil
}

// MarkFailedOrRetry records a failed attempt. The task returns to pending, eligible again after
// retryDelay, unless it has used all of its attempts, in which case it becomes failed.
func (s *TaskStore) MarkFailedOrRetry(ctx context.Context, id int64, errText string, retryDelay time.Duration) (domain.TaskStatus, error) {
	now := s.now()
	query := `
		UPDATE tasks SET
			status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
			processing_started_at = CASE WHEN attempts >= max_attempts THEN processing_started_at ELSE NULL END,
			available_at = CASE WHEN attempts >= max_attempts THEN available_at ELSE $4 END,
			last_error = $2,
			updated_at = $3
		WHERE id = $1 AND status = 'processing'
		RETURNING status`

	var status domain.TaskStatus
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query, id, errText, now, now.Add(retryDelay)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", s.missedTransition(ctx, id, domain.ErrInvalidTransition)
	}
	if err != nil {
		return "", wrapErr("mark task failed", err)
	}
	return status, nil
}

func (s *TaskStore) missedTransition(ctx context.Context, id int64, cause error) error {
	task, err := s.getOne(ctx, "get task", taskSelect+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %d: %w", id, domain.ErrTaskNotFound)
	}
	return fmt.Errorf("task %d is %s: %w", id, task.Status, cause)
}

func (s *TaskStore) StatusCounts(ctx context.Context) (domain.StatusCounts, error) {
	var rows []struct {
		Status domain.TaskStatus `db:"status"`
		Count  int               `db:"count"`
	}

	var counts domain.StatusCounts
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows,
		"SELECT status, COUNT(*) AS count FROM tasks GROUP BY status")
	if err != nil {
		return counts, wrapErr("count tasks by status", err)
	}

	for _, row := range rows {
		counts.Set(row.Status, row.Count)
	}
	return counts, nil
}

// List returns tasks newest first, narrowed by the optional filter fields.
func (s *TaskStore) List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	q := sq.Select(taskColumns...).
		From("tasks").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar)

	if filter.Status != nil {
		q = q.Where(sq.Eq{"status": string(*filter.Status)})
	}
	if filter.ItemID != nil {
		q = q.Where(sq.Eq{"item_id": *filter.ItemID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build task list query: %w", err)
	}

	tasks := []domain.Task{}
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &tasks, query, args...); err != nil {
		return nil, wrapErr("list tasks", err)
	}
	return tasks, nil
}

// DeleteOlderThan removes completed and failed tasks created before cutoff.
func (s *TaskStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM tasks WHERE created_at < $1 AND status IN ('completed', 'failed')", cutoff)
	if err != nil {
		return 0, wrapErr("delete old tasks", err)
	}
	return rowsAffected("delete old tasks", res)
}

// RequeueStuck treats tasks that entered processing before cutoff as failed attempts.
func (s *TaskStore) RequeueStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	now := s.now()
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE tasks SET
			status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
			processing_started_at = CASE WHEN attempts >= max_attempts THEN processing_started_at ELSE NULL END,
			available_at = $2,
			last_error = 'processing timed out',
			updated_at = $2
		WHERE status = 'processing' AND processing_started_at < $1`,
		cutoff, now,
	)
	if err != nil {
		return 0, wrapErr("requeue stuck tasks", err)
	}
	return rowsAffected("requeue stuck tasks", res)
}
