package hackernews

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"news_enricher/internal/domain"
)

type fakeHN struct {
	mu       sync.Mutex
	lists    map[string][]int64
	items    map[int64]*Item
	failures map[string]int
	hits     map[string]int
}

func (f *fakeHN) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	f.hits[path]++

	if f.failures[path] > 0 {
		f.failures[path]--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if ids, ok := f.lists[path]; ok {
		_ = json.NewEncoder(w).Encode(ids)
		return
	}

	if raw, ok := strings.CutPrefix(path, "/item/"); ok {
		id, err := strconv.ParseInt(strings.TrimSuffix(raw, ".json"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		item, ok := f.items[id]
		if !ok {
			_, _ = w.Write([]byte("null"))
			return
		}
		_ = json.NewEncoder(w).Encode(item)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeHN) update(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeHN) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

type SourceTestSuite struct {
	suite.Suite
	hn     *fakeHN
	server *httptest.Server
	source *Source
}

func TestSourceSuite(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

func (s *SourceTestSuite) SetupTest() {
	s.hn = &fakeHN{
		lists: map[string][]int64{
			"/topstories.json":  {1, 2, 3, 4, 5},
			"/beststories.json": {5, 4},
			"/newstories.json":  {},
		},
		items:    make(map[int64]*Item),
		failures: make(map[string]int),
		hits:     make(map[string]int),
	}
	for id := int64(1); id <= 5; id++ {
		s.hn.items[id] = &Item{
			ID:    id,
			Type:  "story",
			Title: "Story " + strconv.FormatInt(id, 10),
			URL:   "https://example.com/" + strconv.FormatInt(id, 10),
			Score: int(id) * 10,
			By:    "alice",
			Time:  1700000000 + id,
		}
	}

	s.server = httptest.NewServer(s.hn)
	s.source = New(Config{
		BaseURL:     s.server.URL,
		Timeout:     time.Second,
		CacheTTL:    time.Minute,
		CacheSize:   16,
		MaxAttempts: 3,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *SourceTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *SourceTestSuite) TestDiscover_FirstPageInRankingOrder() {
	candidates, err := s.source.Discover(context.Background(), domain.StoryKindTop, 0, 3)
	s.Require().NoError(err)
	s.Require().Len(candidates, 3)

	for i, c := range candidates {
		s.Equal(int64(i+1), c.ItemID)
	}
	first := candidates[0]
	s.Equal("Story 1", first.Title)
	s.Require().NotNil(first.SourceURL)
	s.Equal("https://example.com/1", *first.SourceURL)
	s.Equal(10, first.Score)
	s.Equal("alice", first.Author)
	s.Equal(time.Unix(1700000001, 0).UTC(), first.Timestamp)
}

func (s *SourceTestSuite) TestDiscover_SecondPageIsShort() {
	candidates, err := s.source.Discover(context.Background(), domain.StoryKindTop, 1, 3)
	s.Require().NoError(err)
	s.Require().Len(candidates, 2)
	s.Equal(int64(4), candidates[0].ItemID)
	s.Equal(int64(5), candidates[1].ItemID)
}

func (s *SourceTestSuite) TestDiscover_PagePastEnd() {
	candidates, err := s.source.Discover(context.Background(), domain.StoryKindBest, 3, 10)
	s.Require().NoError(err)
	s.Empty(candidates)
}

func (s *SourceTestSuite) TestDiscover_CachesListsAndItems() {
	ctx := context.Background()

	_, err := s.source.Discover(ctx, domain.StoryKindTop, 0, 2)
	s.Require().NoError(err)
	_, err = s.source.Discover(ctx, domain.StoryKindTop, 0, 2)
	s.Require().NoError(err)

	s.Equal(1, s.hn.hitCount("/topstories.json"))
	s.Equal(1, s.hn.hitCount("/item/1.json"))
	s.Equal(1, s.hn.hitCount("/item/2.json"))
}

func (s *SourceTestSuite) TestDiscover_SkipsMissingDeletedAndDeadItems() {
	s.hn.update(func() {
		s.hn.lists["/topstories.json"] = []int64{1, 2, 3, 99}
		s.hn.items[2].Deleted = true
		s.hn.items[3].Dead = true
	})

	candidates, err := s.source.Discover(context.Background(), domain.StoryKindTop, 0, 10)
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(int64(1), candidates[0].ItemID)
}

func (s *SourceTestSuite) TestDiscover_ItemWithoutURL() {
	s.hn.update(func() { s.hn.items[1].URL = "" })

	candidates, err := s.source.Discover(context.Background(), domain.StoryKindTop, 0, 1)
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Nil(candidates[0].SourceURL)
	s.False(candidates[0].HasURL())
}

func (s *SourceTestSuite) TestDiscover_RetriesServerErrors() {
	s.hn.update(func() { s.hn.failures["/beststories.json"] = 2 })

	candidates, err := s.source.Discover(context.Background(), domain.StoryKindBest, 0, 10)
	s.Require().NoError(err)
	s.Len(candidates, 2)
	s.Equal(3, s.hn.hitCount("/beststories.json"))
}

func (s *SourceTestSuite) TestDiscover_GivesUpAfterMaxAttempts() {
	s.hn.update(func() { s.hn.failures["/beststories.json"] = 5 })

	_, err := s.source.Discover(context.Background(), domain.StoryKindBest, 0, 10)
	s.Require().Error(err)
	s.Contains(err.Error(), "after 3 attempts")
	s.Equal(3, s.hn.hitCount("/beststories.json"))
}

func (s *SourceTestSuite) TestDiscover_FailedItemIsSkipped() {
	s.hn.update(func() { s.hn.failures["/item/2.json"] = 10 })

	candidates, err := s.source.Discover(context.Background(), domain.StoryKindTop, 0, 3)
	s.Require().NoError(err)
	s.Require().Len(candidates, 2)
	s.Equal(int64(1), candidates[0].ItemID)
	s.Equal(int64(3), candidates[1].ItemID)
}

func (s *SourceTestSuite) TestDiscover_UnknownKind() {
	_, err := s.source.Discover(context.Background(), domain.StoryKind("ask"), 0, 10)
	s.Error(err)
}
