// Package api exposes the read side of the enrichment queue over HTTP and hosts the WebSocket
// endpoint of the broadcaster.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"news_enricher/internal/broadcast"
	"news_enricher/internal/domain"
	"news_enricher/internal/service"
)

type StoryLister interface {
	ListStories(ctx context.Context, kind domain.StoryKind, page, limit int, refresh bool) ([]domain.Story, *domain.IngestResult, error)
}

type QueueMonitor interface {
	ActiveWorkers() int
	MaxConcurrency() int
}

type BroadcastMonitor interface {
	Stats() broadcast.Stats
}

// ModelInfo describes the model that produces translations.
type ModelInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Deps struct {
	Tasks     service.TaskStore
	Cache     service.CacheStore
	Stories   StoryLister
	Queue     QueueMonitor
	Broadcast BroadcastMonitor
	WebSocket http.Handler
	Model     ModelInfo
}

type Server struct {
	echo    *echo.Echo
	tasks   service.TaskStore
	cache   service.CacheStore
	stories StoryLister
	queue   QueueMonitor
	hub     BroadcastMonitor
	model   ModelInfo
	now     func() time.Time
	logger  *slog.Logger
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		echo:    echo.New(),
		tasks:   deps.Tasks,
		cache:   deps.Cache,
		stories: deps.Stories,
		queue:   deps.Queue,
		hub:     deps.Broadcast,
		model:   deps.Model,
		now:     time.Now,
		logger:  logger.With("component", "api"),
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(requestLogger(s.logger))

	s.routes(deps.WebSocket)
	return s
}

func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

func (s *Server) routes(ws http.Handler) {
	s.echo.GET("/health", s.health)

	api := s.echo.Group("/api")
	api.GET("/config", s.modelConfig)
	api.GET("/queue/status", s.queueStatus)
	api.GET("/cache/:itemId", s.cacheEntry)
	api.GET("/debug/cache/:itemId", s.debugCacheEntry)
	api.GET("/tasks", s.listTasks)
	api.GET("/stories", s.listStories)
	api.POST("/stories/updates", s.storyUpdates)
	api.GET("/broadcast/stats", s.broadcastStats)

	if ws != nil {
		s.echo.GET("/ws", echo.WrapHandler(ws))
	}
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	})
}
