package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"news_enricher/internal/domain"
)

// IngestService turns discovered items into queued work, skipping items that already have a
// valid cached result.
type IngestService struct {
	tasks       TaskStore
	cache       CacheStore
	discoverer  Discoverer
	waker       Waker
	maxAttempts int
	logger      *slog.Logger
}

func NewIngestService(
	tasks TaskStore,
	cache CacheStore,
	discoverer Discoverer,
	waker Waker,
	maxAttempts int,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		tasks:       tasks,
		cache:       cache,
		discoverer:  discoverer,
		waker:       waker,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "ingest"),
	}
}

// Ingest enqueues every candidate without a valid cache entry at the given priority.
func (s *IngestService) Ingest(ctx context.Context, candidates []domain.Candidate, priority int) (*domain.IngestResult, error) {
	return s.ingest(ctx, candidates, priority, false)
}

func (s *IngestService) ingest(ctx context.Context, candidates []domain.Candidate, priority int, refresh bool) (*domain.IngestResult, error) {
	startTime := time.Now()
	candidates = uniqueCandidates(candidates)

	result := &domain.IngestResult{
		Received: len(candidates),
		Resolved: map[int64]domain.CacheEntry{},
	}
	if len(candidates) == 0 {
		return result, nil
	}

	itemIDs := make([]int64, len(candidates))
	for i, c := range candidates {
		itemIDs[i] = c.ItemID
	}

	resolved, err := s.cache.GetValidBatch(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("lookup cache: %w", err)
	}
	result.Resolved = resolved

	for _, c := range candidates {
		if _, ok := resolved[c.ItemID]; ok && !refresh {
			continue
		}

		_, created, err := s.tasks.Enqueue(ctx, domain.NewTask{
			ItemID:      c.ItemID,
			Title:       c.Title,
			SourceURL:   c.SourceURL,
			Priority:    priority,
			MaxAttempts: s.maxAttempts,
		})
		if err != nil {
			result.Failed++
			s.logger.Error("failed to enqueue item", "item_id", c.ItemID, "error", err)
			continue
		}

		if created {
			result.Queued++
		} else {
			result.AlreadyQueued++
		}
	}

	if s.waker != nil {
		s.waker.Resume()
	}

	result.Duration = time.Since(startTime)

	s.logger.Info("ingest completed",
		"received", result.Received,
		"cached", len(result.Resolved),
		"queued", result.Queued,
		"already_queued", result.AlreadyQueued,
		"failed", result.Failed,
		"duration", result.Duration,
	)

	return result, nil
}

// ListStories discovers one page of a list, ingests it and returns the stories in discovery
// order. Items still being enriched come back as placeholders. With refresh set, every item is
// enqueued again even when a valid result exists.
func (s *IngestService) ListStories(ctx context.Context, kind domain.StoryKind, page, limit int, refresh bool) ([]domain.Story, *domain.IngestResult, error) {
	if !kind.IsValid() {
		return nil, nil, fmt.Errorf("unknown story kind %q", kind)
	}

	candidates, err := s.discoverer.Discover(ctx, kind, page, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("discover %s stories: %w", kind, err)
	}
	candidates = uniqueCandidates(processable(candidates))

	result, err := s.ingest(ctx, candidates, kind.Priority(), refresh)
	if err != nil {
		return nil, nil, err
	}

	stories := make([]domain.Story, 0, len(candidates))
	for _, c := range candidates {
		var entry *domain.CacheEntry
		if e, ok := result.Resolved[c.ItemID]; ok {
			entry = &e
		}
		stories = append(stories, domain.NewStory(c, entry))
	}

	return stories, result, nil
}

// processable keeps items that have both a title and a link.
func processable(candidates []domain.Candidate) []domain.Candidate {
	var filtered []domain.Candidate
	for _, c := range candidates {
		if c.Title != "" && c.HasURL() {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func uniqueCandidates(candidates []domain.Candidate) []domain.Candidate {
	seen := make(map[int64]struct{}, len(candidates))
	unique := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.ItemID]; ok {
			continue
		}
		seen[c.ItemID] = struct{}{}
		unique = append(unique, c)
	}
	return unique
}
