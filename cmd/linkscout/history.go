package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/nao1215/linkscout/internal/config"
	"github.com/nao1215/linkscout/internal/model"
	"github.com/nao1215/linkscout/internal/store"
)

// defaultHistoryLimit is the number of sessions listed.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <site>",
		Short: "List past crawl sessions of a site",
		Long: `History lists the crawl sessions recorded for a site, newest first.

Examples:
  linkscout history example.com
  linkscout history --limit 5 --markdown example.com
  linkscout history --store redis --store-dsn redis://localhost:6379/0 example.com`,
		Args: cobra.ExactArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "Maximum number of sessions (0 for all)")
	cmd.Flags().BoolP("markdown", "m", false, "Print a Markdown table")
	cmd.Flags().String("store", config.DefaultStore, "Checkpoint store: sqlite, postgres or redis")
	cmd.Flags().String("store-dsn", "", "SQLite directory, Postgres DSN or Redis URL (default: XDG data directory)")

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	cfg := config.NewConfig()
	setString(v, "store", &cfg.StoreBackend)
	setString(v, "store-dsn", &cfg.StoreDSN)

	site := historySite(args[0])

	st, err := store.Open(cmd.Context(), store.Config{Backend: cfg.StoreBackend, DSN: cfg.StoreLocation()})
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	defer st.Close()

	sessions, err := st.ListSessions(cmd.Context(), site, v.GetInt("limit"))
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintf(out, "No crawl sessions recorded for %s\n", site)
		return nil
	}
	if v.GetBool("markdown") {
		return writeHistoryMarkdown(out, site, sessions)
	}
	writeHistoryText(out, sessions, time.Now())
	return nil
}

// historySite maps a URL or site argument to the key the crawl stored:
// the bare host, or host/path for a path-scoped crawl.
func historySite(arg string) string {
	s := strings.TrimSpace(arg)
	if _, rest, ok := strings.Cut(s, "://"); ok {
		s = rest
	}
	s = strings.TrimRight(s, "/")
	if _, path, _ := strings.Cut(s, "/"); path == "" {
		return config.HostOf(s)
	}
	return s
}

func writeHistoryText(w io.Writer, sessions []model.CrawlSummary, now time.Time) {
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %-16s  %s visited, %s failed, %s pending  (%s, %s)\n",
			s.SessionID,
			s.Termination,
			humanize.Comma(int64(s.Visited)),
			humanize.Comma(int64(s.Failed)),
			humanize.Comma(int64(s.Pending)),
			humanize.RelTime(s.StartedAt, now, "ago", "from now"),
			s.Duration().Round(time.Second),
		)
	}
}

func writeHistoryMarkdown(w io.Writer, site string, sessions []model.CrawlSummary) error {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.StartedAt.UTC().Format(time.RFC3339),
			string(s.Termination),
			strconv.Itoa(s.Visited),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Pending),
			s.Duration().Round(time.Second).String(),
			s.OutputPath,
		})
	}

	return markdown.NewMarkdown(w).
		H1("Crawl history: " + site).
		Table(markdown.TableSet{
			Header: []string{"Started", "Termination", "Visited", "Failed", "Pending", "Duration", "Artifact"},
			Rows:   rows,
		}).
		Build()
}
