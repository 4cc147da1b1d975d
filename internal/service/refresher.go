package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"news_enricher/internal/domain"
)

// Refresher periodically pulls the configured lists into ingestion and sends each list's room a
// batch of the results that are already available.
type Refresher struct {
	ingest   *IngestService
	notifier Notifier
	kinds    []domain.StoryKind
	limit    int
	logger   *slog.Logger
}

func NewRefresher(ingest *IngestService, notifier Notifier, kinds []domain.StoryKind, limit int, logger *slog.Logger) *Refresher {
	return &Refresher{
		ingest:   ingest,
		notifier: notifier,
		kinds:    kinds,
		limit:    limit,
		logger:   logger.With("component", "refresher"),
	}
}

func (r *Refresher) Run(ctx context.Context) error {
	var errs []error

	for _, kind := range r.kinds {
		stories, result, err := r.ingest.ListStories(ctx, kind, 0, r.limit, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", kind, err))
			continue
		}

		r.logger.Info("refreshed list",
			"kind", kind,
			"stories", len(stories),
			"queued", result.Queued,
			"already_queued", result.AlreadyQueued,
		)

		if r.notifier == nil || len(result.Resolved) == 0 {
			continue
		}

		events := make([]domain.UpdateEvent, 0, len(result.Resolved))
		for _, story := range stories {
			if entry, ok := result.Resolved[story.ItemID]; ok {
				events = append(events, domain.NewUpdateEvent(&entry))
			}
		}
		r.notifier.PublishBatch(ctx, events, kind.Room())
	}

	return errors.Join(errs...)
}
