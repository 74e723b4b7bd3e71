package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nao1215/linkscout/internal/model"
)

// SimpleWriter outputs a plain-text summary for the terminal.
type SimpleWriter struct {
	baseWriter

	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose adds the session id and the visited URLs.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) { w.verbose = verbose }
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary.
func (w *SimpleWriter) Write(s *model.CrawlSummary) (int, error) {
	var sb strings.Builder
	rule := strings.Repeat("-", 60)

	sb.WriteString(rule + "\n")
	fmt.Fprintf(&sb, "Site:        %s\n", s.Site)
	fmt.Fprintf(&sb, "Start URL:   %s\n", s.StartURL)
	if w.verbose {
		fmt.Fprintf(&sb, "Session:     %s\n", s.SessionID)
	}
	fmt.Fprintf(&sb, "Duration:    %s\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, "Termination: %s\n", s.Termination)
	if s.Error != "" {
		fmt.Fprintf(&sb, "Error:       %s\n", s.Error)
	}
	sb.WriteString(rule + "\n")

	fmt.Fprintf(&sb, "  visited:                %s\n", humanize.Comma(int64(s.Visited)))
	fmt.Fprintf(&sb, "  permanently failed:     %s\n", humanize.Comma(int64(s.Failed)))
	fmt.Fprintf(&sb, "  pending at termination: %s\n", humanize.Comma(int64(s.Pending)))
	fmt.Fprintf(&sb, "  unique urls:            %s\n", humanize.Comma(int64(s.Discovered)))

	if s.OutputPath != "" {
		fmt.Fprintf(&sb, "\nSaved %s to %s\n", pluralURLs(len(s.URLs)), s.OutputPath)
	}
	if w.verbose && len(s.URLs) > 0 {
		sb.WriteString("\n")
		for _, u := range s.URLs {
			fmt.Fprintf(&sb, "  [+] %s\n", u)
		}
	}
	sb.WriteString(rule + "\n")

	return io.WriteString(w.output, sb.String())
}

func pluralURLs(n int) string {
	if n == 1 {
		return "1 URL"
	}
	return humanize.Comma(int64(n)) + " URLs"
}
