package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"news_enricher/internal/api"
	"news_enricher/internal/broadcast"
	"news_enricher/internal/publisher"
	"news_enricher/internal/scheduler"
	"news_enricher/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket broadcaster and enrichment workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	cfg, logger := a.cfg, a.logger

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	kinds, err := storyKinds(cfg.Discovery.Kinds)
	if err != nil {
		return err
	}

	st, err := a.openStores(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()

	var relays []broadcast.Relay
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer rabbitMQ.Close()
		relays = append(relays, rabbitMQ)
	}

	hub := broadcast.NewHub(cfg.Broadcast.Rooms, cfg.Broadcast.BufferSize, logger, relays...)

	p, err := a.newPipeline(st, hub)
	if err != nil {
		return err
	}

	if _, err := p.janitor.RecoverOrphans(ctx); err != nil {
		logger.Warn("startup recovery failed", "error", err)
	}

	refresher := service.NewRefresher(p.ingest, hub, kinds, cfg.Discovery.Limit, logger)
	sched := scheduler.NewScheduler(logger,
		scheduler.Job{
			Name:     "janitor",
			Interval: cfg.Janitor.Interval,
			Timeout:  cfg.Janitor.Timeout,
			Run: func(ctx context.Context) error {
				_, err := p.janitor.Run(ctx)
				return err
			},
		},
		scheduler.Job{
			Name:     "refresh",
			Interval: cfg.Discovery.Interval,
			Run:      refresher.Run,
		},
	)

	server := api.NewServer(api.Deps{
		Tasks:     st.tasks,
		Cache:     st.cache,
		Stories:   p.ingest,
		Queue:     p.dispatcher,
		Broadcast: hub,
		WebSocket: broadcast.NewWSHandler(hub, cfg.Server.AllowedOrigins, cfg.Broadcast.PingInterval, cfg.Broadcast.WriteTimeout, logger),
		Model:     api.ModelInfo{Provider: cfg.Translator.Provider, Model: p.model},
	}, logger)

	go p.dispatcher.Run(ctx)
	go sched.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Server.Addr)
	}()

	logger.Info("news enricher started",
		"addr", cfg.Server.Addr,
		"driver", cfg.Database.Driver,
		"rooms", hub.Rooms(),
		"relays", len(relays),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}

	if err := waitWorkers(shutdownCtx, p.dispatcher); err != nil {
		logger.Warn("workers still running at shutdown; their tasks will be recovered on next start",
			"active_workers", p.dispatcher.ActiveWorkers(),
		)
	}

	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("relays did not flush before shutdown", "error", err)
	}

	logger.Info("news enricher stopped")
	return runErr
}

func waitWorkers(ctx context.Context, d *service.Dispatcher) error {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("timed out waiting for workers"), ctx.Err())
	}
}
