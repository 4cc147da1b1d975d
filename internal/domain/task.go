package domain

import "time"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

const (
	PriorityDefault = 0
	PriorityTop     = 1

	DefaultMaxAttempts = 3
)

var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusProcessing},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusPending, TaskStatusFailed},
}

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// IsActive reports whether a task in this status blocks a new task for the same item.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusPending || s == TaskStatusProcessing
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task is one enrichment job for one item.
type Task struct {
	ID                  int64             `db:"id" json:"id"`
	ItemID              int64             `db:"item_id" json:"itemId"`
	Title               string            `db:"title" json:"title"`
	SourceURL           *string           `db:"source_url" json:"sourceUrl,omitempty"`
	Status              TaskStatus        `db:"status" json:"status"`
	Priority            int               `db:"priority" json:"priority"`
	Attempts            int               `db:"attempts" json:"attempts"`
	MaxAttempts         int               `db:"max_attempts" json:"maxAttempts"`
	LastError           *string           `db:"last_error" json:"lastError,omitempty"`
	Result              *EnrichmentResult `db:"result" json:"result,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updatedAt"`
	AvailableAt         time.Time         `db:"available_at" json:"availableAt"`
	ProcessingStartedAt *time.Time        `db:"processing_started_at" json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time        `db:"completed_at" json:"completedAt,omitempty"`
}

// NextStatusAfterFailure returns the status a processing task moves to when an attempt fails.
func (t *Task) NextStatusAfterFailure() TaskStatus {
	if t.Attempts >= t.MaxAttempts {
		return TaskStatusFailed
	}
	return TaskStatusPending
}

func (t *Task) URL() string {
	if t.SourceURL == nil {
		return ""
	}
	return *t.SourceURL
}

// NewTask carries the fields Ingestion supplies when enqueueing.
type NewTask struct {
	ItemID      int64
	Title       string
	SourceURL   *string
	Priority    int
	MaxAttempts int
}

type TaskFilter struct {
	Status *TaskStatus
	ItemID *int64
	Limit  int
}
