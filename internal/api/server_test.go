package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"news_enricher/internal/broadcast"
	"news_enricher/internal/domain"
	"news_enricher/internal/service/mocks"
	"news_enricher/internal/storage/memory"
	"news_enricher/testdata/utils"
)

type fakeLister struct {
	stories []domain.Story
	result  *domain.IngestResult
	err     error

	kind    domain.StoryKind
	page    int
	limit   int
	refresh bool
}

func (f *fakeLister) ListStories(_ context.Context, kind domain.StoryKind, page, limit int, refresh bool) ([]domain.Story, *domain.IngestResult, error) {
	f.kind, f.page, f.limit, f.refresh = kind, page, limit, refresh
	return f.stories, f.result, f.err
}

type fakeQueue struct{}

func (fakeQueue) ActiveWorkers() int  { return 2 }
func (fakeQueue) MaxConcurrency() int { return 3 }

type ServerTestSuite struct {
	suite.Suite
	now    time.Time
	tasks  *memory.TaskStore
	cache  *memory.CacheStore
	lister *fakeLister
	hub    *broadcast.Hub
	server *Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return s.now }

	s.now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.tasks = memory.NewTaskStore().WithClock(clock)
	s.cache = memory.NewCacheStore(time.Hour).WithClock(clock)
	s.lister = &fakeLister{}
	s.hub = broadcast.NewHub([]string{"top-stories"}, 4, logger)

	s.server = NewServer(Deps{
		Tasks:     s.tasks,
		Cache:     s.cache,
		Stories:   s.lister,
		Queue:     fakeQueue{},
		Broadcast: s.hub,
		Model:     ModelInfo{Provider: "openai", Model: "gpt-4o-mini"},
	}, logger).WithClock(clock)
}

func (s *ServerTestSuite) do(method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func (s *ServerTestSuite) seedEntry(itemID int64, translated string) {
	s.Require().NoError(s.cache.Upsert(context.Background(), &domain.CacheEntry{
		ItemID:          itemID,
		Title:           fmt.Sprintf("Story %d", itemID),
		TranslatedTitle: translated,
		Summary:         "摘要",
		ModelUsed:       "test-model",
	}))
}

func (s *ServerTestSuite) TestHealth() {
	rec, body := s.do(http.MethodGet, "/health", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("ok", body["status"])
}

func (s *ServerTestSuite) TestModelConfig() {
	rec, body := s.do(http.MethodGet, "/api/config", "")
	s.Equal(http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	s.Equal("openai", data["provider"])
	s.Equal("gpt-4o-mini", data["model"])
}

func (s *ServerTestSuite) TestQueueStatus() {
	ctx := context.Background()
	_, _, err := s.tasks.Enqueue(ctx, domain.NewTask{ItemID: 1, Title: "a"})
	s.Require().NoError(err)
	_, _, err = s.tasks.Enqueue(ctx, domain.NewTask{ItemID: 2, Title: "b"})
	s.Require().NoError(err)

	rec, body := s.do(http.MethodGet, "/api/queue/status", "")
	s.Equal(http.StatusOK, rec.Code)
	s.EqualValues(2, body["pending"])
	s.EqualValues(0, body["processing"])
	s.EqualValues(2, body["activeWorkers"])
	s.EqualValues(3, body["maxConcurrency"])
}

func (s *ServerTestSuite) TestCacheEntry() {
	s.seedEntry(42, "福")

	rec, body := s.do(http.MethodGet, "/api/cache/42", "")
	s.Equal(http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	s.Equal("福", data["translatedTitle"])

	rec, body = s.do(http.MethodGet, "/api/cache/43", "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal(false, body["success"])

	rec, _ = s.do(http.MethodGet, "/api/cache/abc", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestDebugCacheEntry_ReportsExpiry() {
	s.seedEntry(42, "福")
	s.now = s.now.Add(2 * time.Hour)

	rec, _ := s.do(http.MethodGet, "/api/cache/42", "")
	s.Equal(http.StatusNotFound, rec.Code)

	rec, body := s.do(http.MethodGet, "/api/debug/cache/42", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(false, body["valid"])
	s.Equal("福", body["data"].(map[string]any)["translatedTitle"])

	rec, _ = s.do(http.MethodGet, "/api/debug/cache/7", "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerTestSuite) TestListTasks_Filters() {
	ctx := context.Background()
	for id := int64(1); id <= 3; id++ {
		_, _, err := s.tasks.Enqueue(ctx, domain.NewTask{ItemID: id, Title: "t"})
		s.Require().NoError(err)
	}

	rec, body := s.do(http.MethodGet, "/api/tasks?status=pending&item_id=2", "")
	s.Equal(http.StatusOK, rec.Code)
	data := body["data"].([]any)
	s.Require().Len(data, 1)
	s.EqualValues(2, data[0].(map[string]any)["itemId"])

	rec, body = s.do(http.MethodGet, "/api/tasks?limit=2", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Len(body["data"].([]any), 2)

	rec, _ = s.do(http.MethodGet, "/api/tasks?status=unknown", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestListStories() {
	s.lister.stories = []domain.Story{
		domain.NewStory(domain.Candidate{ItemID: 1, Title: "Foo", SourceURL: utils.Ptr("https://a.example/1")}, nil),
		domain.NewStory(domain.Candidate{ItemID: 2, Title: "Bar", SourceURL: utils.Ptr("https://a.example/2")}, &domain.CacheEntry{
			ItemID: 2, TranslatedTitle: "酒吧", Summary: "摘要",
		}),
	}
	s.lister.result = &domain.IngestResult{Queued: 1}

	rec, body := s.do(http.MethodGet, "/api/stories?type=best&page=1&limit=2&refresh=true", "")
	s.Equal(http.StatusOK, rec.Code)

	s.Equal(domain.StoryKindBest, s.lister.kind)
	s.Equal(1, s.lister.page)
	s.Equal(2, s.lister.limit)
	s.True(s.lister.refresh)

	s.EqualValues(2, body["count"])
	s.EqualValues(1, body["processingCount"])
	s.EqualValues(1, body["queued"])
	s.Equal(false, body["cached"])
	s.Equal(true, body["hasMore"])

	data := body["data"].([]any)
	first := data[0].(map[string]any)
	s.Equal("Foo", first["translatedTitle"])
	s.Equal(domain.SummaryProcessing, first["summary"])
	s.Equal(false, first["cached"])
	s.Equal("酒吧", data[1].(map[string]any)["translatedTitle"])
}

func (s *ServerTestSuite) TestListStories_Defaults() {
	rec, _ := s.do(http.MethodGet, "/api/stories", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(domain.StoryKindTop, s.lister.kind)
	s.Equal(0, s.lister.page)
	s.Equal(defaultStoriesLimit, s.lister.limit)
	s.False(s.lister.refresh)
}

func (s *ServerTestSuite) TestListStories_BadInput() {
	rec, _ := s.do(http.MethodGet, "/api/stories?type=ask", "")
	s.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/stories?limit=0", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestListStories_ErrorMapping() {
	s.lister.err = fmt.Errorf("lookup cache: %w", domain.ErrStoreUnavailable)
	rec, body := s.do(http.MethodGet, "/api/stories", "")
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Equal(false, body["success"])
	s.Contains(body["error"], "store unavailable")

	s.lister.err = errors.New("discover top stories: boom")
	rec, _ = s.do(http.MethodGet, "/api/stories", "")
	s.Equal(http.StatusInternalServerError, rec.Code)
}

func (s *ServerTestSuite) TestStoryUpdates() {
	s.seedEntry(1, "甲")
	s.seedEntry(3, "丙")

	rec, body := s.do(http.MethodPost, "/api/stories/updates", `{"storyIds":[3,2,1,3]}`)
	s.Equal(http.StatusOK, rec.Code)

	updates := body["updates"].([]any)
	s.Require().Len(updates, 2)
	s.EqualValues(3, updates[0].(map[string]any)["itemId"])
	s.EqualValues(1, updates[1].(map[string]any)["itemId"])

	rec, _ = s.do(http.MethodPost, "/api/stories/updates", `{"storyIds":[]}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodPost, "/api/stories/updates", `not json`)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestBroadcastStats() {
	s.hub.Attach("conn-1")
	s.Require().NoError(s.hub.Subscribe("conn-1", "top-stories"))

	rec, body := s.do(http.MethodGet, "/api/broadcast/stats", "")
	s.Equal(http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	s.EqualValues(1, data["subscriberCount"])
	s.EqualValues(1, data["perRoomCount"].(map[string]any)["top-stories"])
}

func TestServer_StoreUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	tasks := mocks.NewMockTaskStore(ctrl)
	cache := mocks.NewMockCacheStore(ctrl)

	server := NewServer(Deps{Tasks: tasks, Cache: cache}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tasks.EXPECT().StatusCounts(gomock.Any()).
		Return(domain.StatusCounts{}, fmt.Errorf("count tasks by status: %w", domain.ErrStoreUnavailable)).
		Times(2)
	cache.EXPECT().Get(gomock.Any(), int64(5)).Return(nil, errors.New("syntax error"))

	for _, tc := range []struct {
		target string
		want   int
	}{
		{"/health", http.StatusServiceUnavailable},
		{"/api/queue/status", http.StatusServiceUnavailable},
		{"/api/cache/5", http.StatusInternalServerError},
	} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
		if rec.Code != tc.want {
			t.Errorf("%s: status %d, want %d", tc.target, rec.Code, tc.want)
		}
	}
}
