package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"news_enricher/internal/domain"
	"news_enricher/internal/service"
)

func newPurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Run one maintenance sweep: expired cache rows, old tasks, stuck tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := a.openStores(ctx, false)
			if err != nil {
				return err
			}
			defer st.Close()

			janitor := service.NewJanitor(st.tasks, st.cache, nil, a.cfg.Queue.StuckAfter, a.cfg.Queue.TaskRetention, a.logger)
			stats, err := janitor.Run(ctx)

			fmt.Fprintf(cmd.OutOrStdout(), "purged %d cache entries, deleted %d tasks, requeued %d tasks\n",
				stats.PurgedEntries, stats.DeletedTasks, stats.RequeuedTasks)
			return err
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Database.Driver != "postgres" {
				return errors.New("migrate requires database.driver postgres")
			}

			st, err := a.openStores(cmd.Context(), true)
			if err != nil {
				return err
			}
			st.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		limit int
		state string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print queue counts and, optionally, the most recent tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := a.openStores(ctx, false)
			if err != nil {
				return err
			}
			defer st.Close()

			counts, err := st.tasks.StatusCounts(ctx)
			if err != nil {
				return err
			}

			out := struct {
				Counts domain.StatusCounts `json:"counts"`
				Tasks  []domain.Task       `json:"tasks,omitempty"`
			}{Counts: counts}

			if limit > 0 {
				filter := domain.TaskFilter{Limit: limit}
				if state != "" {
					status := domain.TaskStatus(state)
					if !status.IsValid() {
						return fmt.Errorf("invalid status %q", state)
					}
					filter.Status = &status
				}

				out.Tasks, err = st.tasks.List(ctx, filter)
				if err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().IntVar(&limit, "tasks", 0, "also list this many recent tasks")
	cmd.Flags().StringVar(&state, "state", "", "only list tasks in this status")
	return cmd
}
