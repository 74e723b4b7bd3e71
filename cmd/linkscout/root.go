package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitCodeFatal is returned when a crawl aborted.
const exitCodeFatal = 2

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkscout",
		Short: "Polite URL discovery crawler",
		Long: `linkscout crawls a single website and records every in-scope URL it visits.

It paces requests, retries transient failures with backoff, stops at a page
or time budget and writes the discovered URLs to a JSON artifact. Progress is
checkpointed so an interrupted crawl can be resumed.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .linkscout in current, home or XDG config directory)")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errCrawlAborted) {
			os.Exit(exitCodeFatal)
		}
		os.Exit(1)
	}
}
