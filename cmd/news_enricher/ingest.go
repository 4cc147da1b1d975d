package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"news_enricher/internal/domain"
)

type ingestOptions struct {
	kind    string
	page    int
	limit   int
	refresh bool
	wait    bool
	timeout time.Duration
}

func newIngestCmd(a *app) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Discover one page of stories and queue them for enrichment",
		Long: `Discover one page of a Hacker News list and queue every story without a valid cached
result. With --wait the command also runs the workers until the queue is drained.

Examples:
  news_enricher ingest --kind top --limit 30
  news_enricher ingest --kind best --page 1 --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.ingest(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", string(domain.StoryKindTop), "story list: top, best or new")
	cmd.Flags().IntVar(&opts.page, "page", 0, "zero-based page of the list")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 30, "stories per page")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "queue stories even when a valid result is cached")
	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "process the queue until it is drained")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "upper bound for --wait")
	return cmd
}

func (a *app) ingest(cmd *cobra.Command, opts ingestOptions) error {
	cfg, logger := a.cfg, a.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kinds, err := storyKinds([]string{opts.kind})
	if err != nil {
		return err
	}

	st, err := a.openStores(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := a.newPipeline(st, nil)
	if err != nil {
		return err
	}

	if cfg.Database.Driver == "memory" && !opts.wait {
		logger.Info("memory driver keeps nothing after exit, enabling --wait")
		opts.wait = true
	}

	stories, result, err := p.ingest.ListStories(ctx, kinds[0], opts.page, opts.limit, opts.refresh)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "discovered %d stories: %d cached, %d queued, %d already queued, %d failed\n",
		len(stories), len(result.Resolved), result.Queued, result.AlreadyQueued, result.Failed)

	if !opts.wait {
		return nil
	}

	drainCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	start := time.Now()
	drainErr := p.dispatcher.Drain(drainCtx)
	p.dispatcher.Wait()

	counts, err := st.tasks.StatusCounts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "drained in %s: %d pending, %d processing, %d completed, %d failed\n",
		time.Since(start).Round(time.Millisecond), counts.Pending, counts.Processing, counts.Completed, counts.Failed)

	return drainErr
}
