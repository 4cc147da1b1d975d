package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"news_enricher/internal/domain"
	"news_enricher/internal/service/mocks"
)

type JanitorTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	tasks    *mocks.MockTaskStore
	cache    *mocks.MockCacheStore
	waker    *mocks.MockWaker
	notifier *mocks.MockNotifier

	now     time.Time
	janitor *Janitor
	logger  *slog.Logger
}

func (s *JanitorTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.tasks = mocks.NewMockTaskStore(s.ctrl)
	s.cache = mocks.NewMockCacheStore(s.ctrl)
	s.waker = mocks.NewMockWaker(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s.janitor = NewJanitor(s.tasks, s.cache, s.waker, 10*time.Minute, 7*24*time.Hour, s.logger).
		WithClock(func() time.Time { return s.now })
}

func (s *JanitorTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestJanitorTestSuite(t *testing.T) {
	suite.Run(t, new(JanitorTestSuite))
}

func (s *JanitorTestSuite) TestRun_AllSteps() {
	ctx := context.Background()

	s.cache.EXPECT().PurgeExpired(ctx).Return(int64(4), nil)
	s.tasks.EXPECT().DeleteOlderThan(ctx, s.now.Add(-7*24*time.Hour)).Return(int64(2), nil)
	s.tasks.EXPECT().RequeueStuck(ctx, s.now.Add(-10*time.Minute)).Return(int64(1), nil)
	s.waker.EXPECT().Resume()

	stats, err := s.janitor.Run(ctx)

	s.NoError(err)
	s.Equal(int64(4), stats.PurgedEntries)
	s.Equal(int64(2), stats.DeletedTasks)
	s.Equal(int64(1), stats.RequeuedTasks)
}

func (s *JanitorTestSuite) TestRun_ContinuesAfterFailure() {
	ctx := context.Background()

	s.cache.EXPECT().PurgeExpired(ctx).Return(int64(0), domain.ErrStoreUnavailable)
	s.tasks.EXPECT().DeleteOlderThan(ctx, gomock.Any()).Return(int64(3), nil)
	s.tasks.EXPECT().RequeueStuck(ctx, gomock.Any()).Return(int64(0), nil)

	stats, err := s.janitor.Run(ctx)

	s.ErrorIs(err, domain.ErrStoreUnavailable)
	s.Contains(err.Error(), "purge expired cache")
	s.Equal(int64(3), stats.DeletedTasks)
}

func (s *JanitorTestSuite) TestRequeueStuck_NoWakeWhenNothingMoved() {
	ctx := context.Background()

	s.tasks.EXPECT().RequeueStuck(ctx, s.now.Add(-10*time.Minute)).Return(int64(0), nil)

	n, err := s.janitor.RequeueStuck(ctx)

	s.NoError(err)
	s.Equal(int64(0), n)
}

func (s *JanitorTestSuite) TestRecoverOrphans_RequeuesAllProcessing() {
	ctx := context.Background()

	s.tasks.EXPECT().RequeueStuck(ctx, s.now).Return(int64(2), nil)
	s.waker.EXPECT().Resume()

	n, err := s.janitor.RecoverOrphans(ctx)

	s.NoError(err)
	s.Equal(int64(2), n)
}

func (s *JanitorTestSuite) TestRefresher_PublishesResolvedBatch() {
	ctx := context.Background()
	discoverer := mocks.NewMockDiscoverer(s.ctrl)
	ingest := NewIngestService(s.tasks, s.cache, discoverer, s.waker, 3, s.logger)
	refresher := NewRefresher(ingest, s.notifier, []domain.StoryKind{domain.StoryKindTop, domain.StoryKindNew}, 30, s.logger)

	discoverer.EXPECT().Discover(ctx, domain.StoryKindTop, 0, 30).Return([]domain.Candidate{candidate(1, "a"), candidate(2, "b")}, nil)
	s.cache.EXPECT().GetValidBatch(ctx, []int64{1, 2}).Return(map[int64]domain.CacheEntry{
		2: {ItemID: 2, TranslatedTitle: "乙"},
	}, nil)
	s.tasks.EXPECT().Enqueue(ctx, gomock.Any()).Return(&domain.Task{ID: 1, ItemID: 1}, true, nil)
	s.waker.EXPECT().Resume()
	s.notifier.EXPECT().PublishBatch(ctx, gomock.Any(), "top-stories").Do(
		func(_ context.Context, events []domain.UpdateEvent, _ ...string) {
			s.Require().Len(events, 1)
			s.Equal(int64(2), events[0].ItemID)
		},
	)

	discoverer.EXPECT().Discover(ctx, domain.StoryKindNew, 0, 30).Return(nil, errors.New("timeout"))

	err := refresher.Run(ctx)

	s.Error(err)
	s.Contains(err.Error(), "refresh new")
}
