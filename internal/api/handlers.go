package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"news_enricher/internal/domain"
)

const (
	defaultStoriesLimit = 20
	maxStoriesLimit     = 100
	maxTasksLimit       = 500
	maxUpdateIDs        = 500
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type storiesResponse struct {
	Success         bool                `json:"success"`
	Data            []domain.Story      `json:"data"`
	Cached          bool                `json:"cached"`
	Count           int                 `json:"count"`
	ProcessingCount int                 `json:"processingCount"`
	Queued          int                 `json:"queued"`
	QueueStatus     *domain.QueueStatus `json:"queueStatus,omitempty"`
	Page            int                 `json:"page"`
	Limit           int                 `json:"limit"`
	HasMore         bool                `json:"hasMore"`
}

type updatesRequest struct {
	StoryIDs []int64 `json:"storyIds"`
}

type updatesResponse struct {
	Success bool                 `json:"success"`
	Updates []domain.UpdateEvent `json:"updates"`
}

type debugCacheResponse struct {
	Success bool               `json:"success"`
	Data    *domain.CacheEntry `json:"data"`
	Valid   bool               `json:"valid"`
	Tasks   []domain.Task      `json:"tasks"`
}

func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrStoreUnavailable) {
		status = http.StatusServiceUnavailable
	}
	s.logger.Error("request failed", "path", c.Path(), "error", err)
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) health(c echo.Context) error {
	if _, err := s.tasks.StatusCounts(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) modelConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, dataResponse{Success: true, Data: s.model})
}

func (s *Server) loadQueueStatus(c echo.Context) (*domain.QueueStatus, error) {
	counts, err := s.tasks.StatusCounts(c.Request().Context())
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	status := &domain.QueueStatus{StatusCounts: counts}
	if s.queue != nil {
		status.ActiveWorkers = s.queue.ActiveWorkers()
		status.MaxConcurrency = s.queue.MaxConcurrency()
	}
	return status, nil
}

func (s *Server) queueStatus(c echo.Context) error {
	status, err := s.loadQueueStatus(c)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

func parseItemID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("itemId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) cacheEntry(c echo.Context) error {
	itemID, ok := parseItemID(c)
	if !ok {
		return badRequest(c, "invalid item id")
	}

	entry, err := s.cache.Get(c.Request().Context(), itemID)
	if err != nil {
		return s.fail(c, err)
	}
	if entry == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no valid cache entry"})
	}
	return c.JSON(http.StatusOK, dataResponse{Success: true, Data: entry})
}

func (s *Server) debugCacheEntry(c echo.Context) error {
	itemID, ok := parseItemID(c)
	if !ok {
		return badRequest(c, "invalid item id")
	}

	ctx := c.Request().Context()
	entry, err := s.cache.GetAny(ctx, itemID)
	if err != nil {
		return s.fail(c, err)
	}

	tasks, err := s.tasks.List(ctx, domain.TaskFilter{ItemID: &itemID, Limit: 20})
	if err != nil {
		return s.fail(c, err)
	}

	if entry == nil && len(tasks) == 0 {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "item not found"})
	}

	return c.JSON(http.StatusOK, debugCacheResponse{
		Success: true,
		Data:    entry,
		Valid:   entry != nil && entry.ValidAt(s.now()),
		Tasks:   tasks,
	})
}

func (s *Server) listTasks(c echo.Context) error {
	var filter domain.TaskFilter

	if raw := c.QueryParam("status"); raw != "" {
		status := domain.TaskStatus(raw)
		if !status.IsValid() {
			return badRequest(c, fmt.Sprintf("invalid status %q", raw))
		}
		filter.Status = &status
	}
	if raw := c.QueryParam("item_id"); raw != "" {
		itemID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return badRequest(c, "invalid item_id")
		}
		filter.ItemID = &itemID
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return badRequest(c, "invalid limit")
		}
		filter.Limit = min(limit, maxTasksLimit)
	}

	tasks, err := s.tasks.List(c.Request().Context(), filter)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, dataResponse{Success: true, Data: tasks})
}

func (s *Server) listStories(c echo.Context) error {
	kind := domain.StoryKindTop
	if raw := c.QueryParam("type"); raw != "" {
		kind = domain.StoryKind(raw)
		if !kind.IsValid() {
			return badRequest(c, fmt.Sprintf("invalid type %q", raw))
		}
	}

	page, limit := 0, defaultStoriesLimit
	if raw := c.QueryParam("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 0 {
			return badRequest(c, "invalid page")
		}
		page = p
	}
	if raw := c.QueryParam("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l < 1 {
			return badRequest(c, "invalid limit")
		}
		limit = min(l, maxStoriesLimit)
	}
	refresh := c.QueryParam("refresh") == "true"

	stories, result, err := s.stories.ListStories(c.Request().Context(), kind, page, limit, refresh)
	if err != nil {
		return s.fail(c, err)
	}

	processing := 0
	for _, story := range stories {
		if !story.Cached {
			processing++
		}
	}

	resp := storiesResponse{
		Success:         true,
		Data:            stories,
		Cached:          processing == 0,
		Count:           len(stories),
		ProcessingCount: processing,
		Page:            page,
		Limit:           limit,
		HasMore:         len(stories) == limit,
	}
	if result != nil {
		resp.Queued = result.Queued
	}

	// the listing itself succeeded; a status read failure only drops the summary
	if status, err := s.loadQueueStatus(c); err == nil {
		resp.QueueStatus = status
	} else {
		s.logger.Warn("failed to load queue status", "error", err)
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) storyUpdates(c echo.Context) error {
	var req updatesRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.StoryIDs) == 0 {
		return badRequest(c, "storyIds must be a non-empty array")
	}
	if len(req.StoryIDs) > maxUpdateIDs {
		return badRequest(c, fmt.Sprintf("at most %d storyIds per request", maxUpdateIDs))
	}

	entries, err := s.cache.GetValidBatch(c.Request().Context(), req.StoryIDs)
	if err != nil {
		return s.fail(c, err)
	}

	updates := make([]domain.UpdateEvent, 0, len(entries))
	seen := make(map[int64]struct{}, len(entries))
	for _, id := range req.StoryIDs {
		entry, ok := entries[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		updates = append(updates, domain.NewUpdateEvent(&entry))
	}

	return c.JSON(http.StatusOK, updatesResponse{Success: true, Updates: updates})
}

func (s *Server) broadcastStats(c echo.Context) error {
	if s.hub == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "broadcast disabled"})
	}
	return c.JSON(http.StatusOK, dataResponse{Success: true, Data: s.hub.Stats()})
}
