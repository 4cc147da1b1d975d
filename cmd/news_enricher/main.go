package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string
	a := &app{}

	root := &cobra.Command{
		Use:   "news_enricher",
		Short: "Asynchronous translation and summarization queue for Hacker News stories",
		Long: `news_enricher discovers Hacker News stories, queues each one for LLM translation and
summarization, caches the results and pushes updates to WebSocket subscribers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if err := a.close(); err != nil {
				fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	root.AddCommand(
		newServeCmd(a),
		newIngestCmd(a),
		newPurgeCmd(a),
		newMigrateCmd(a),
		newStatusCmd(a),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
