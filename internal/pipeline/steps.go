package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/nao1215/linkscout/internal/model"
	"github.com/nao1215/linkscout/internal/publish"
	"github.com/nao1215/linkscout/internal/report"
	"github.com/nao1215/linkscout/internal/store"
)

type stepBase struct {
	logger *slog.Logger
}

// StepOption configures the built-in steps.
type StepOption func(*stepBase)

// WithStepLogger sets the logger of a step.
func WithStepLogger(logger *slog.Logger) StepOption {
	return func(b *stepBase) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func newStepBase(opts []StepOption) stepBase {
	b := stepBase{logger: slog.Default()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// CrawlFunc crawls target and returns the summary and the final frontier.
// A non-nil error is fatal; the summary is still returned when available.
type CrawlFunc func(ctx context.Context, target Target) (*model.CrawlSummary, []model.URLRecord, error)

// CrawlStep runs the crawl session. Steps after it do nothing when the crawl
// produced no summary.
type CrawlStep struct {
	crawl CrawlFunc
}

// NewCrawlStep wraps crawl as a step.
func NewCrawlStep(crawl CrawlFunc) *CrawlStep {
	return &CrawlStep{crawl: crawl}
}

// Name returns "crawl".
func (s *CrawlStep) Name() string { return "crawl" }

// Do runs the crawl and stores its result in run.
func (s *CrawlStep) Do(ctx context.Context, run *Run) error {
	summary, records, err := s.crawl(ctx, run.Target)
	run.Summary = summary
	run.Records = records
	return err
}

// ArtifactStep writes the URL artifact.
type ArtifactStep struct {
	stepBase
	dir     string
	file    string
	perSite bool
}

// NewArtifactStep writes dir/file, or dir/<site>/file when perSite is set.
func NewArtifactStep(dir, file string, perSite bool, opts ...StepOption) *ArtifactStep {
	return &ArtifactStep{stepBase: newStepBase(opts), dir: dir, file: file, perSite: perSite}
}

// Name returns "artifact".
func (s *ArtifactStep) Name() string { return "artifact" }

// Finalize reports true.
func (s *ArtifactStep) Finalize() bool { return true }

// Path returns the artifact path for site.
func (s *ArtifactStep) Path(site string) string {
	if s.perSite && site != "" {
		return filepath.Join(s.dir, siteDirName(site), s.file)
	}
	return filepath.Join(s.dir, s.file)
}

// siteDirName turns a site path such as example.com/blog into a single
// path element.
func siteDirName(site string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(strings.Trim(site, "/"))
}

// Do writes the visited URLs and records the path in the summary.
func (s *ArtifactStep) Do(_ context.Context, run *Run) error {
	if run.Summary == nil {
		return nil
	}
	path := s.Path(run.Target.Site)
	if err := report.WriteURLs(path, report.NewURLDocument(run.Summary)); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	run.Summary.OutputPath = path
	s.logger.Info("artifact written", "path", path, "urls", len(run.Summary.URLs))
	return nil
}

// CheckpointStep saves the final frontier so the crawl can be resumed.
// A drained crawl has nothing left to resume, so its checkpoint is removed.
type CheckpointStep struct {
	stepBase
	store store.Store
}

// NewCheckpointStep creates a CheckpointStep.
func NewCheckpointStep(st store.Store, opts ...StepOption) *CheckpointStep {
	return &CheckpointStep{stepBase: newStepBase(opts), store: st}
}

// Name returns "checkpoint".
func (s *CheckpointStep) Name() string { return "checkpoint" }

// Finalize reports true.
func (s *CheckpointStep) Finalize() bool { return true }

// Do saves or deletes the checkpoint.
func (s *CheckpointStep) Do(ctx context.Context, run *Run) error {
	if run.Summary == nil {
		return nil
	}
	site := run.Summary.Site
	if run.Summary.Termination == model.TerminationDrained {
		if err := s.store.DeleteCheckpoint(ctx, site); err != nil {
			return fmt.Errorf("delete checkpoint: %w", err)
		}
		s.logger.Debug("checkpoint cleared", "site", site)
		return nil
	}
	if len(run.Records) == 0 {
		return nil
	}
	cp := model.Checkpoint{
		Site:      site,
		SessionID: run.Summary.SessionID,
		SavedAt:   run.Summary.FinishedAt,
		Records:   run.Records,
	}
	if err := s.store.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.logger.Info("checkpoint saved", "site", site, "records", len(run.Records))
	return nil
}

// HistoryStep records the finished session.
type HistoryStep struct {
	stepBase
	store store.Store
}

// NewHistoryStep creates a HistoryStep.
func NewHistoryStep(st store.Store, opts ...StepOption) *HistoryStep {
	return &HistoryStep{stepBase: newStepBase(opts), store: st}
}

// Name returns "history".
func (s *HistoryStep) Name() string { return "history" }

// Finalize reports true.
func (s *HistoryStep) Finalize() bool { return true }

// Do saves the session summary.
func (s *HistoryStep) Do(ctx context.Context, run *Run) error {
	if run.Summary == nil {
		return nil
	}
	if err := s.store.SaveSession(ctx, run.Summary); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// PublishStep sends the URL list to a publisher. Only sessions that ended
// normally are published.
type PublishStep struct {
	stepBase
	publisher publish.Publisher
}

// NewPublishStep creates a PublishStep.
func NewPublishStep(p publish.Publisher, opts ...StepOption) *PublishStep {
	return &PublishStep{stepBase: newStepBase(opts), publisher: p}
}

// Name returns "publish".
func (s *PublishStep) Name() string { return "publish" }

// Do publishes the visited URLs.
func (s *PublishStep) Do(ctx context.Context, run *Run) error {
	if run.Summary == nil {
		return nil
	}
	if !run.Summary.Termination.Completed() {
		s.logger.Warn("skipping publish of incomplete crawl",
			"site", run.Summary.Site,
			"termination", string(run.Summary.Termination),
		)
		return nil
	}
	batch := publish.Batch{
		Site:      run.Summary.Site,
		SessionID: run.Summary.SessionID,
		URLs:      run.Summary.URLs,
	}
	if err := s.publisher.Publish(ctx, batch); err != nil {
		return err
	}
	s.logger.Info("urls published", "site", batch.Site, "urls", len(batch.URLs))
	return nil
}

// SummaryStep renders the summary with a report.Writer.
type SummaryStep struct {
	writer report.Writer
}

// NewSummaryStep creates a SummaryStep.
func NewSummaryStep(w report.Writer) *SummaryStep {
	return &SummaryStep{writer: w}
}

// Name returns "summary".
func (s *SummaryStep) Name() string { return "summary" }

// Finalize reports true.
func (s *SummaryStep) Finalize() bool { return true }

// Do writes the summary.
func (s *SummaryStep) Do(_ context.Context, run *Run) error {
	if run.Summary == nil {
		return nil
	}
	if _, err := s.writer.Write(run.Summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
