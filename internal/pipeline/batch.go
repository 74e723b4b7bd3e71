package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency is the number of sites crawled at once.
const DefaultBatchConcurrency = 2

// BatchProcessor crawls several sites concurrently.
type BatchProcessor struct {
	// pipelineFactory builds a fresh pipeline per site.
	pipelineFactory func(Target) *Pipeline

	concurrency int
	logger      *slog.Logger
	onComplete  func(run *Run, index int)
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets the logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent crawls.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithOnComplete registers a callback invoked from the worker goroutine as
// each site finishes. It must be safe for concurrent use.
func WithOnComplete(fn func(run *Run, index int)) BatchOption {
	return func(b *BatchProcessor) {
		b.onComplete = fn
	}
}

// NewBatchProcessor creates a BatchProcessor.
func NewBatchProcessor(pipelineFactory func(Target) *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch runs one pipeline per target. Results keep the order of
// targets; a site that failed still has its Run with Errors set. Targets
// not started before ctx was cancelled have a nil Run. The returned error is
// the context error if the batch was cancelled.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, targets []Target) ([]*Run, error) {
	bp.logger.Info("starting batch crawl",
		"sites", len(targets),
		"concurrency", bp.concurrency,
	)
	startTime := time.Now()

	// Each goroutine writes only its own index.
	results := make([]*Run, len(targets))

	var g errgroup.Group
	g.SetLimit(bp.concurrency)

	for i, target := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			bp.logger.Info("crawling site",
				"site", target.Site,
				"index", i+1,
				"total", len(targets),
			)

			run := &Run{Target: target}
			if err := bp.pipelineFactory(target).Execute(ctx, run); err != nil {
				bp.logger.Warn("site failed", "site", target.Site, "error", err)
			} else {
				bp.logger.Info("site completed", "site", target.Site)
			}
			results[i] = run

			if bp.onComplete != nil {
				bp.onComplete(run, i)
			}
			// A failed site never stops the others.
			return nil
		})
	}

	_ = g.Wait()

	bp.logger.Info("batch crawl complete",
		"sites", len(targets),
		"elapsed", time.Since(startTime).Round(time.Millisecond).String(),
	)
	return results, ctx.Err()
}
