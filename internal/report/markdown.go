package report

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/linkscout/internal/model"
)

// MarkdownWriter outputs the summary as GitHub-flavored Markdown.
type MarkdownWriter struct {
	baseWriter

	// listURLs appends the visited URLs as a bullet list.
	listURLs bool
}

// MarkdownWriterOption configures a MarkdownWriter.
type MarkdownWriterOption func(*MarkdownWriter)

// WithURLList appends the visited URLs to the summary.
func WithURLList(enabled bool) MarkdownWriterOption {
	return func(w *MarkdownWriter) { w.listURLs = enabled }
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...MarkdownWriterOption) *MarkdownWriter {
	w := &MarkdownWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(summary *model.CrawlSummary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeCounts(md, summary)
	w.writeAlert(md, summary)
	if w.listURLs {
		w.writeURLs(md, summary)
	}
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s *model.CrawlSummary) {
	md.H1("Crawl Summary")
	md.PlainText("")

	rows := [][]string{
		{"Site", "`" + s.Site + "`"},
		{"Start URL", s.StartURL},
		{"Session", "`" + s.SessionID + "`"},
		{"Started", s.StartedAt.Format("2006-01-02 15:04:05 MST")},
		{"Duration", s.Duration().Round(time.Millisecond).String()},
		{"Termination", terminationText(s.Termination)},
	}
	if s.OutputPath != "" {
		rows = append(rows, []string{"Output", "`" + s.OutputPath + "`"})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func terminationText(t model.Termination) string {
	switch t {
	case model.TerminationDrained:
		return "✅ Drained"
	case model.TerminationBudgetExhausted:
		return "✅ Page budget reached"
	case model.TerminationDeadline:
		return "⚠️ Time budget elapsed (partial results)"
	case model.TerminationCancelled:
		return "⚠️ Cancelled (partial results)"
	case model.TerminationFatal:
		return "❌ Aborted"
	default:
		return string(t)
	}
}

func (w *MarkdownWriter) writeCounts(md *markdown.Markdown, s *model.CrawlSummary) {
	md.H2("URLs")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"State", "Count"},
		Rows: [][]string{
			{"Visited", humanize.Comma(int64(s.Visited))},
			{"Permanently failed", humanize.Comma(int64(s.Failed))},
			{"Pending at termination", humanize.Comma(int64(s.Pending))},
			{"**Discovered**", "**" + humanize.Comma(int64(s.Discovered)) + "**"},
		},
	})
	md.PlainText("")

	if s.Visited+s.Failed+s.Pending > 0 {
		w.writePieChart(md, s)
	}
}

func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, s *model.CrawlSummary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("URL States"),
		piechart.WithShowData(true),
	)
	if s.Visited > 0 {
		chart.LabelAndIntValue("Visited", uint64(s.Visited))
	}
	if s.Failed > 0 {
		chart.LabelAndIntValue("Failed", uint64(s.Failed))
	}
	if s.Pending > 0 {
		chart.LabelAndIntValue("Pending", uint64(s.Pending))
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, s *model.CrawlSummary) {
	switch s.Termination {
	case model.TerminationFatal:
		md.Cautionf("The crawl was aborted: %s", s.Error)
	case model.TerminationDeadline, model.TerminationCancelled:
		md.Warningf("The crawl stopped early. %d URL(s) were still pending.", s.Pending)
	case model.TerminationBudgetExhausted:
		md.Note("The page budget was reached. Raise max pages to discover more URLs.")
	default:
		if s.Failed > 0 {
			md.Importantf("%d URL(s) failed permanently.", s.Failed)
		} else {
			md.Tip("Every reachable page in scope was visited.")
		}
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeURLs(md *markdown.Markdown, s *model.CrawlSummary) {
	md.H2("Visited URLs")
	md.PlainText("")
	if len(s.URLs) == 0 {
		md.PlainText("No page was visited.")
		md.PlainText("")
		return
	}
	md.BulletList(s.URLs...)
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated by [linkscout](https://github.com/nao1215/linkscout)*")
}
