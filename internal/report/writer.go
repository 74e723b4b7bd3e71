package report

import (
	"io"

	"github.com/nao1215/linkscout/internal/model"
)

// Writer renders a crawl summary.
type Writer interface {
	// Write outputs the summary and returns the number of bytes written.
	Write(summary *model.CrawlSummary) (int, error)
}

type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
