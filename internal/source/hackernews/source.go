package hackernews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"news_enricher/internal/domain"
)

const (
	SourceID = "hackernews"

	DefaultLimit       = 20
	defaultConcurrency = 8
)

// Config holds Hacker News source configuration.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	CacheTTL       time.Duration
	CacheSize      int
	Concurrency    int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Source discovers candidates from the Hacker News Firebase API. List and item responses are
// cached for CacheTTL.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	concurrency    int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	lists          *expirable.LRU[domain.StoryKind, []int64]
	items          *expirable.LRU[int64, Item]
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Source {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 2048
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		concurrency:    cfg.Concurrency,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		lists:          expirable.NewLRU[domain.StoryKind, []int64](8, nil, cfg.CacheTTL),
		items:          expirable.NewLRU[int64, Item](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:         logger.With("source", SourceID),
	}
}

// Discover returns page (zero-based) of the kind's ranking, limit items per page, in ranking
// order. Items that cannot be fetched, or that are deleted or dead, are left out.
func (s *Source) Discover(ctx context.Context, kind domain.StoryKind, page, limit int) ([]domain.Candidate, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown story kind %q", kind)
	}
	if page < 0 {
		page = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	ids, err := s.storyIDs(ctx, kind)
	if err != nil {
		return nil, err
	}

	start := page * limit
	if start >= len(ids) {
		return []domain.Candidate{}, nil
	}
	end := min(start+limit, len(ids))

	items, err := s.fetchItems(ctx, ids[start:end])
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(items))
	for _, item := range items {
		if item == nil || item.Deleted || item.Dead {
			continue
		}
		candidates = append(candidates, item.candidate())
	}

	s.logger.Debug("discovered stories",
		"kind", kind,
		"page", page,
		"requested", end-start,
		"candidates", len(candidates),
	)

	return candidates, nil
}

func (s *Source) storyIDs(ctx context.Context, kind domain.StoryKind) ([]int64, error) {
	if ids, ok := s.lists.Get(kind); ok {
		return ids, nil
	}

	var ids []int64
	if err := s.getJSON(ctx, s.baseURL+listPath(kind), &ids); err != nil {
		return nil, fmt.Errorf("fetch %s stories: %w", kind, err)
	}

	s.lists.Add(kind, ids)
	return ids, nil
}

// fetchItems keeps the order of ids; the slot of an item that failed stays nil.
func (s *Source) fetchItems(ctx context.Context, ids []int64) ([]*Item, error) {
	items := make([]*Item, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, id := range ids {
		if item, ok := s.items.Get(id); ok {
			items[i] = &item
			continue
		}

		g.Go(func() error {
			item, err := s.fetchItem(gctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("failed to fetch item", "item_id", id, "error", err)
				return nil
			}
			items[i] = item
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Source) fetchItem(ctx context.Context, id int64) (*Item, error) {
	var item *Item
	if err := s.getJSON(ctx, fmt.Sprintf("%s/item/%d.json", s.baseURL, id), &item); err != nil {
		return nil, err
	}
	// the API answers null for ids it does not know
	if item == nil {
		return nil, nil
	}

	s.items.Add(id, *item)
	return item, nil
}

func (s *Source) getJSON(ctx context.Context, url string, dst any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff
	b.MaxInterval = s.maxBackoff
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return s.doRequest(ctx, url, dst)
	}, policy, func(err error, wait time.Duration) {
		s.logger.Warn("request failed, retrying",
			"url", url,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
	})
	if err != nil {
		return fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return nil
}

func (s *Source) doRequest(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "NewsEnricher/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
