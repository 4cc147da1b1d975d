package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"news_enricher/internal/config"
	"news_enricher/internal/domain"
	"news_enricher/internal/fetcher"
	"news_enricher/internal/service"
	"news_enricher/internal/source/hackernews"
	"news_enricher/internal/storage/memory"
	"news_enricher/internal/storage/postgres"
	"news_enricher/internal/translator"
	"news_enricher/migrations"
)

// app carries the loaded configuration and logger into every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
}

func (a *app) load(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger, a.closeLog = config.SetupLogger(cfg.LogLevel, cfg.LogFile)
	return nil
}

func (a *app) close() error {
	if a.closeLog == nil {
		return nil
	}
	return a.closeLog()
}

// stores holds the backing stores selected by database.driver.
type stores struct {
	db     *sqlx.DB
	tasks  service.TaskStore
	cache  service.CacheStore
	logger *slog.Logger
}

func (a *app) openStores(ctx context.Context, migrate bool) (*stores, error) {
	cfg, logger := a.cfg, a.logger

	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory stores, queue and cache are lost on exit")
		return &stores{
			tasks:  memory.NewTaskStore(),
			cache:  memory.NewCacheStore(cfg.Cache.TTL),
			logger: logger,
		}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(connectCtx, "postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	logger.Info("connected to database", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)

	if migrate {
		if err := postgres.Migrate(ctx, db, migrations.FS, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &stores{
		db:     db,
		tasks:  postgres.NewTaskStore(db),
		cache:  postgres.NewCacheStore(db, cfg.Cache.TTL),
		logger: logger,
	}, nil
}

func (s *stores) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("failed to close database", "error", err)
		}
	}
}

// pipeline is the enrichment machinery shared by serve and ingest.
type pipeline struct {
	dispatcher *service.Dispatcher
	ingest     *service.IngestService
	janitor    *service.Janitor
	model      string
}

func (a *app) newPipeline(st *stores, notifier service.Notifier) (*pipeline, error) {
	cfg, logger := a.cfg, a.logger

	contentFetcher := fetcher.New(fetcher.Config{
		Timeout:         cfg.Fetcher.Timeout,
		MaxBodyBytes:    cfg.Fetcher.MaxBodyBytes,
		MaxContentChars: cfg.Fetcher.MaxContentChars,
		UserAgent:       cfg.Fetcher.UserAgent,
	}, logger)

	tr, err := translator.New(cfg.Translator, contentFetcher, logger)
	if err != nil {
		return nil, fmt.Errorf("create translator: %w", err)
	}

	retry := service.RetryPolicy{
		Initial: cfg.Queue.RetryBackoff,
		Max:     cfg.Queue.MaxRetryBackoff,
	}
	worker := service.NewWorker(st.tasks, st.cache, tr, notifier, retry, cfg.Queue.TaskTimeout, logger)
	dispatcher := service.NewDispatcher(st.tasks, worker, cfg.Queue.MaxConcurrency, cfg.Queue.PollInterval, logger)

	source := hackernews.New(hackernews.Config{
		BaseURL:        cfg.HackerNews.BaseURL,
		Timeout:        cfg.HackerNews.Timeout,
		CacheTTL:       cfg.HackerNews.CacheTTL,
		CacheSize:      cfg.HackerNews.CacheSize,
		MaxAttempts:    cfg.HackerNews.Retry.MaxAttempts,
		InitialBackoff: cfg.HackerNews.Retry.InitialBackoff,
		MaxBackoff:     cfg.HackerNews.Retry.MaxBackoff,
	}, logger)

	logger.Info("enrichment pipeline ready",
		"model", tr.Model(),
		"max_concurrency", cfg.Queue.MaxConcurrency,
		"max_attempts", cfg.Queue.MaxAttempts,
	)

	return &pipeline{
		model:      tr.Model(),
		dispatcher: dispatcher,
		ingest:     service.NewIngestService(st.tasks, st.cache, source, dispatcher, cfg.Queue.MaxAttempts, logger),
		janitor:    service.NewJanitor(st.tasks, st.cache, dispatcher, cfg.Queue.StuckAfter, cfg.Queue.TaskRetention, logger),
	}, nil
}

func storyKinds(names []string) ([]domain.StoryKind, error) {
	kinds := make([]domain.StoryKind, 0, len(names))
	for _, name := range names {
		kind := domain.StoryKind(name)
		if !kind.IsValid() {
			return nil, fmt.Errorf("unknown story kind %q", name)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
