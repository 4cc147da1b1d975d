package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"news_enricher/internal/domain"
	"news_enricher/testdata/utils"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	now   time.Time
	tasks *TaskStore
	cache *CacheStore
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	s.tasks = NewTaskStore().WithClock(clock)
	s.cache = NewCacheStore(24 * time.Hour).WithClock(clock)
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) enqueue(itemID int64, priority int) *domain.Task {
	task, created, err := s.tasks.Enqueue(s.ctx, domain.NewTask{ItemID: itemID, Title: "Story", Priority: priority})
	s.Require().NoError(err)
	s.Require().True(created)
	return task
}

func (s *MemoryStoreSuite) TestEnqueue_SingleActivePerItem() {
	first := s.enqueue(42, domain.PriorityDefault)

	again, created, err := s.tasks.Enqueue(s.ctx, domain.NewTask{ItemID: 42, Title: "Story"})
	s.NoError(err)
	s.False(created)
	s.Equal(first.ID, again.ID)
}

func (s *MemoryStoreSuite) TestEnqueue_Concurrent() {
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.tasks.Enqueue(s.ctx, domain.NewTask{ItemID: 7, Title: "Race"})
			s.NoError(err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, created)
	counts, err := s.tasks.StatusCounts(s.ctx)
	s.NoError(err)
	s.Equal(1, counts.Pending)
}

func (s *MemoryStoreSuite) TestNextEligible_PriorityThenAge() {
	oldLow := s.enqueue(1, domain.PriorityDefault)
	s.now = s.now.Add(time.Second)
	high := s.enqueue(2, domain.PriorityTop)
	s.now = s.now.Add(time.Second)
	s.enqueue(3, domain.PriorityTop)

	next, err := s.tasks.NextEligible(s.ctx)
	s.NoError(err)
	s.Equal(high.ID, next.ID)

	next, err = s.tasks.NextEligible(s.ctx, 2, 3)
	s.NoError(err)
	s.Equal(oldLow.ID, next.ID)

	next, err = s.tasks.NextEligible(s.ctx, 1, 2, 3)
	s.NoError(err)
	s.Nil(next)
}

func (s *MemoryStoreSuite) TestTransitions() {
	task := s.enqueue(42, domain.PriorityDefault)

	s.ErrorIs(s.tasks.MarkCompleted(s.ctx, task.ID, domain.EnrichmentResult{}), domain.ErrInvalidTransition)

	claimed, err := s.tasks.MarkProcessing(s.ctx, task.ID)
	s.NoError(err)
	s.Equal(1, claimed.Attempts)

	_, err = s.tasks.MarkProcessing(s.ctx, task.ID)
	s.ErrorIs(err, domain.ErrTaskNotPending)

	_, err = s.tasks.MarkProcessing(s.ctx, 999)
	s.ErrorIs(err, domain.ErrTaskNotFound)

	s.NoError(s.tasks.MarkCompleted(s.ctx, task.ID, domain.EnrichmentResult{TranslatedTitle: "福"}))

	_, err = s.tasks.MarkFailedOrRetry(s.ctx, task.ID, "late", 0)
	s.ErrorIs(err, domain.ErrInvalidTransition)

	// a completed task no longer blocks a new one
	s.enqueue(42, domain.PriorityDefault)
}

func (s *MemoryStoreSuite) TestMarkFailedOrRetry_BoundedAttempts() {
	task := s.enqueue(42, domain.PriorityDefault)

	var status domain.TaskStatus
	for i := 0; i < domain.DefaultMaxAttempts; i++ {
		_, err := s.tasks.MarkProcessing(s.ctx, task.ID)
		s.Require().NoError(err)
		status, err = s.tasks.MarkFailedOrRetry(s.ctx, task.ID, "boom", 0)
		s.Require().NoError(err)
	}
	s.Equal(domain.TaskStatusFailed, status)

	got, err := s.tasks.Get(s.ctx, task.ID)
	s.NoError(err)
	s.Equal(domain.DefaultMaxAttempts, got.Attempts)
	s.Equal(utils.Ptr("boom"), got.LastError)
}

func (s *MemoryStoreSuite) TestMarkFailedOrRetry_Delay() {
	task := s.enqueue(42, domain.PriorityDefault)
	_, err := s.tasks.MarkProcessing(s.ctx, task.ID)
	s.Require().NoError(err)

	status, err := s.tasks.MarkFailedOrRetry(s.ctx, task.ID, "boom", time.Minute)
	s.NoError(err)
	s.Equal(domain.TaskStatusPending, status)

	next, err := s.tasks.NextEligible(s.ctx)
	s.NoError(err)
	s.Nil(next)

	s.now = s.now.Add(time.Minute)
	next, err = s.tasks.NextEligible(s.ctx)
	s.NoError(err)
	s.Require().NotNil(next)
	s.Equal(task.ID, next.ID)
}

func (s *MemoryStoreSuite) TestRequeueStuckAndRetention() {
	stuck := s.enqueue(1, domain.PriorityDefault)
	done := s.enqueue(2, domain.PriorityDefault)
	_, _ = s.tasks.MarkProcessing(s.ctx, stuck.ID)
	_, _ = s.tasks.MarkProcessing(s.ctx, done.ID)
	s.Require().NoError(s.tasks.MarkCompleted(s.ctx, done.ID, domain.EnrichmentResult{}))

	s.now = s.now.Add(time.Hour)

	n, err := s.tasks.RequeueStuck(s.ctx, s.now.Add(-10*time.Minute))
	s.NoError(err)
	s.Equal(int64(1), n)

	n, err = s.tasks.DeleteOlderThan(s.ctx, s.now)
	s.NoError(err)
	s.Equal(int64(1), n)

	list, err := s.tasks.List(s.ctx, domain.TaskFilter{})
	s.NoError(err)
	s.Require().Len(list, 1)
	s.Equal(stuck.ID, list[0].ID)
	s.Equal(domain.TaskStatusPending, list[0].Status)
}

func (s *MemoryStoreSuite) TestCache_TTLWindow() {
	entry := &domain.CacheEntry{ItemID: 42, Title: "Foo", TranslatedTitle: "福", Summary: "摘要"}
	s.Require().NoError(s.cache.Upsert(s.ctx, entry))
	s.Equal(s.now.Add(24*time.Hour), entry.ExpiresAt)

	got, err := s.cache.Get(s.ctx, 42)
	s.NoError(err)
	s.Require().NotNil(got)
	s.Equal("福", got.TranslatedTitle)

	s.now = s.now.Add(24 * time.Hour)
	got, err = s.cache.Get(s.ctx, 42)
	s.NoError(err)
	s.Nil(got)

	n, err := s.cache.PurgeExpired(s.ctx)
	s.NoError(err)
	s.Equal(int64(0), n, "an entry expiring exactly now is not purged yet")

	s.now = s.now.Add(time.Nanosecond)
	n, err = s.cache.PurgeExpired(s.ctx)
	s.NoError(err)
	s.Equal(int64(1), n)
}

func (s *MemoryStoreSuite) TestCache_UpsertRestartsWindow() {
	s.Require().NoError(s.cache.Upsert(s.ctx, &domain.CacheEntry{ItemID: 42, TranslatedTitle: "一"}))
	created := s.now

	s.now = s.now.Add(20 * time.Hour)
	entry := &domain.CacheEntry{ItemID: 42, TranslatedTitle: "二"}
	s.Require().NoError(s.cache.Upsert(s.ctx, entry))
	s.Equal(created, entry.CreatedAt)

	s.now = s.now.Add(10 * time.Hour)
	got, err := s.cache.Get(s.ctx, 42)
	s.NoError(err)
	s.Require().NotNil(got)
	s.Equal("二", got.TranslatedTitle)

	batch, err := s.cache.GetValidBatch(s.ctx, []int64{42, 43})
	s.NoError(err)
	s.Len(batch, 1)
}
