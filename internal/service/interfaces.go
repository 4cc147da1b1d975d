package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"news_enricher/internal/domain"
)

type TaskStore interface {
	Enqueue(ctx context.Context, task domain.NewTask) (*domain.Task, bool, error)
	Get(ctx context.Context, id int64) (*domain.Task, error)
	NextEligible(ctx context.Context, exclude ...int64) (*domain.Task, error)
	MarkProcessing(ctx context.Context, id int64) (*domain.Task, error)
	MarkCompleted(ctx context.Context, id int64, result domain.EnrichmentResult) error
	MarkFailedOrRetry(ctx context.Context, id int64, errText string, retryDelay time.Duration) (domain.TaskStatus, error)
	StatusCounts(ctx context.Context) (domain.StatusCounts, error)
	List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	RequeueStuck(ctx context.Context, cutoff time.Time) (int64, error)
}

type CacheStore interface {
	Get(ctx context.Context, itemID int64) (*domain.CacheEntry, error)
	GetAny(ctx context.Context, itemID int64) (*domain.CacheEntry, error)
	GetValidBatch(ctx context.Context, itemIDs []int64) (map[int64]domain.CacheEntry, error)
	Upsert(ctx context.Context, entry *domain.CacheEntry) error
	PurgeExpired(ctx context.Context) (int64, error)
}

type Translator interface {
	Translate(ctx context.Context, title, sourceURL string) (*domain.EnrichmentResult, error)
	Model() string
}

type Discoverer interface {
	Discover(ctx context.Context, kind domain.StoryKind, page, limit int) ([]domain.Candidate, error)
}

// Notifier fans update events out to subscribers. Delivery is best-effort; it never fails the caller.
type Notifier interface {
	Publish(ctx context.Context, event domain.UpdateEvent, rooms ...string)
	PublishBatch(ctx context.Context, events []domain.UpdateEvent, rooms ...string)
}

type Waker interface {
	Resume()
}

type TaskRunner interface {
	Run(ctx context.Context, task *domain.Task)
}
