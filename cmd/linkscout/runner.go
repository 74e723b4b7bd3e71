package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/nao1215/linkscout/internal/config"
	"github.com/nao1215/linkscout/internal/crawler"
	"github.com/nao1215/linkscout/internal/fetch"
	"github.com/nao1215/linkscout/internal/frontier"
	"github.com/nao1215/linkscout/internal/log"
	"github.com/nao1215/linkscout/internal/model"
	"github.com/nao1215/linkscout/internal/pacer"
	"github.com/nao1215/linkscout/internal/pipeline"
	"github.com/nao1215/linkscout/internal/publish"
	"github.com/nao1215/linkscout/internal/report"
	"github.com/nao1215/linkscout/internal/retry"
	"github.com/nao1215/linkscout/internal/store"
)

// errCrawlAborted marks a run in which at least one session ended fatally.
var errCrawlAborted = errors.New("crawl aborted")

// runner wires the configured components into one pipeline per site.
type runner struct {
	cfg    *config.Config
	v      *viper.Viper
	logger *slog.Logger

	// out receives the summary, progress goes to errOut.
	out    io.Writer
	errOut io.Writer

	store     store.Store
	publisher publish.Publisher
	summary   report.Writer

	// entries maps a target site to its config file entry with --all-sites.
	entries map[string]string

	// floors holds one request floor per host, shared by concurrent sessions.
	floorMu sync.Mutex
	floors  map[string]*rate.Limiter
}

func (r *runner) run(ctx context.Context) error {
	r.errOut = &syncWriter{w: r.errOut}

	if r.cfg.Proxy != "" {
		status := fetch.CheckProxy(ctx, r.cfg.Proxy, r.cfg.Timeout)
		if err := status.Err(); err != nil {
			return fmt.Errorf("proxy %s: %w", log.RedactURL(r.cfg.Proxy), err)
		}
		r.logger.Debug("proxy reachable", "proxy", r.cfg.Proxy)
	}

	st, err := store.Open(ctx, store.Config{
		Backend: r.cfg.StoreBackend,
		DSN:     r.cfg.StoreLocation(),
		TTL:     r.cfg.StoreTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", r.cfg.StoreBackend, err)
	}
	defer st.Close()
	r.store = st

	if r.cfg.KafkaBroker != "" {
		p, err := publish.NewKafkaPublisher(r.cfg.KafkaBroker, r.cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer p.Close()
		r.publisher = p
	}

	out, closeOut, err := r.summaryOutput()
	if err != nil {
		return err
	}
	defer closeOut()
	r.summary = &lockedWriter{w: r.summaryWriter(out)}

	targets, err := r.targets()
	if err != nil {
		return err
	}

	var runs []*pipeline.Run
	if len(targets) > 1 {
		fmt.Fprintf(r.errOut, "Crawling %d sites (concurrency: %d)...\n\n", len(targets), r.cfg.BatchSize)
		bp := pipeline.NewBatchProcessor(r.pipelineFor,
			pipeline.WithConcurrency(r.cfg.BatchSize),
			pipeline.WithBatchLogger(r.logger),
			pipeline.WithOnComplete(r.progress(len(targets))),
		)
		runs, err = bp.ProcessBatch(ctx, targets)
	} else {
		run := &pipeline.Run{Target: targets[0]}
		err = r.pipelineFor(targets[0]).Execute(ctx, run)
		runs = []*pipeline.Run{run}
	}
	return r.result(runs, err)
}

// progress reports each finished site of a batch on errOut.
func (r *runner) progress(total int) func(run *pipeline.Run, index int) {
	var done atomic.Int32
	return func(run *pipeline.Run, _ int) {
		n := done.Add(1)
		status := "no summary"
		if run.Summary != nil {
			status = string(run.Summary.Termination)
		}
		if err := run.Err(); err != nil {
			status += " (" + err.Error() + ")"
		}
		fmt.Fprintf(r.errOut, "[%d/%d] %s: %s\n", n, total, run.Target.Site, status)
	}
}

// result turns the finished runs into the command error. An interrupt is
// not an error: the artifact and checkpoint were still written.
func (r *runner) result(runs []*pipeline.Run, err error) error {
	var errs []error
	aborted := false
	for _, run := range runs {
		if run == nil {
			continue
		}
		if run.Summary != nil && run.Summary.Termination == model.TerminationFatal {
			aborted = true
		}
		if runErr := run.Err(); runErr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", run.Target.Site, runErr))
		}
	}
	if aborted {
		errs = append([]error{errCrawlAborted}, errs...)
		return errors.Join(errs...)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// targets returns the sites to crawl.
func (r *runner) targets() ([]pipeline.Target, error) {
	if !r.cfg.AllSites {
		return []pipeline.Target{{Site: r.cfg.SiteKey(), StartURL: r.cfg.StartURL}}, nil
	}
	if r.cfg.SiteConfigs == nil {
		return nil, errors.New("--all-sites needs a configuration file")
	}
	var targets []pipeline.Target
	r.entries = make(map[string]string)
	for _, t := range r.cfg.SiteConfigs.Targets() {
		targets = append(targets, pipeline.Target{Site: t.Site, StartURL: t.StartURL})
		r.entries[t.Site] = t.Key
	}
	if len(targets) == 0 {
		return nil, errors.New("no site in the configuration file has a startUrl")
	}
	return targets, nil
}

// siteConfig returns the configuration of target. With --all-sites each
// site gets its own file entry under the shared flags.
func (r *runner) siteConfig(target pipeline.Target) *config.Config {
	if !r.cfg.AllSites || r.v == nil {
		return r.cfg
	}
	cfg := resolveSiteConfig(r.v, r.cfg.SiteConfigs, r.entries[target.Site], target.StartURL)
	cfg.Site = target.Site
	return cfg
}

// pipelineFor builds the steps of one site.
func (r *runner) pipelineFor(target pipeline.Target) *pipeline.Pipeline {
	cfg := r.siteConfig(target)
	logger := r.logger.With("site", target.Site)
	stepLogger := pipeline.WithStepLogger(logger)

	artifact := pipeline.NewArtifactStep(cfg.OutputDir, cfg.OutputFile, r.cfg.AllSites, stepLogger)

	p := pipeline.New(pipeline.WithLogger(logger))
	p.AddSteps(
		pipeline.NewCrawlStep(r.crawlFunc(cfg, artifact.Path(target.Site), logger)),
		artifact,
		pipeline.NewCheckpointStep(r.store, stepLogger),
		pipeline.NewHistoryStep(r.store, stepLogger),
	)
	if r.publisher != nil {
		p.AddStep(pipeline.NewPublishStep(r.publisher, stepLogger))
	}
	p.AddStep(pipeline.NewSummaryStep(r.summary))
	return p
}

// crawlFunc builds the session of one site: frontier, renderer, pacer and
// retry policy.
func (r *runner) crawlFunc(cfg *config.Config, artifactPath string, logger *slog.Logger) pipeline.CrawlFunc {
	return func(ctx context.Context, target pipeline.Target) (*model.CrawlSummary, []model.URLRecord, error) {
		// Site entries of --all-sites bypass the command's own validation.
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("configuration error: %w", err)
		}
		policy, err := retryPolicy(cfg)
		if err != nil {
			return nil, nil, err
		}
		fr, err := newFrontier(cfg, target.Site, policy)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Resume {
			if err := r.resume(ctx, fr, target.Site, artifactPath, logger); err != nil {
				return nil, nil, err
			}
		}

		p := newPacer(cfg, r.floorFor(config.HostOf(target.StartURL), cfg.DelayBetweenRequests))
		renderer, closeRenderer, err := newRenderer(cfg)
		if err != nil {
			return nil, nil, err
		}
		defer func() {
			if err := closeRenderer(); err != nil {
				logger.Warn("failed to close renderer", "error", err)
			}
		}()
		fetcher := fetch.NewAdapter(renderer,
			fetch.WithTimeout(cfg.Timeout),
			fetch.WithUserAgent(p.UserAgent),
		)

		session := crawler.NewSession(fr, fetcher, p,
			crawler.WithSite(target.Site),
			crawler.WithConcurrency(cfg.Concurrency),
			crawler.WithMaxPages(cfg.MaxPages),
			crawler.WithTimeBudget(cfg.TimeBudget),
			crawler.WithRetryPolicy(policy),
			crawler.WithLogger(logger),
			crawler.WithCheckpoint(cfg.CheckpointEvery, func(ctx context.Context, cp model.Checkpoint) error {
				return r.store.SaveCheckpoint(ctx, cp)
			}),
		)

		fmt.Fprintf(r.errOut, "Crawling %s from %s (session %s)...\n", target.Site, target.StartURL, session.ID())
		summary, err := session.Run(ctx, target.StartURL)
		return summary, fr.Records(), err
	}
}

// resume restores the stored checkpoint of site, or re-queues the URLs of
// the previous artifact when there is none.
func (r *runner) resume(ctx context.Context, fr *frontier.Frontier, site, artifactPath string, logger *slog.Logger) error {
	cp, err := r.store.LoadCheckpoint(ctx, site)
	switch {
	case err == nil:
		if err := fr.Restore(cp.Records); err != nil {
			return fmt.Errorf("restore checkpoint: %w", err)
		}
		logger.Info("resumed from checkpoint",
			"session", cp.SessionID,
			"records", len(cp.Records),
			"saved_at", cp.SavedAt.Format(time.RFC3339),
		)
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("load checkpoint: %w", err)
	}

	doc, err := report.LoadURLs(artifactPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("nothing to resume, starting fresh")
			return nil
		}
		return err
	}
	added := fr.Discover(doc.URLs, "resume")
	logger.Info("resumed from artifact", "path", artifactPath, "urls", added)
	return nil
}

func retryPolicy(cfg *config.Config) (retry.Policy, error) {
	strategy, err := retry.ParseStrategy(cfg.RetryStrategy)
	if err != nil {
		return retry.Policy{}, err
	}
	p := retry.NewPolicy()
	p.MaxRetries = cfg.MaxRetries
	p.BaseDelay = cfg.RetryDelay
	p.MaxDelay = cfg.RetryMaxDelay
	p.Strategy = strategy
	p.RetryRenderErrors = cfg.Renderer == config.RendererChrome
	return p, nil
}

func newFrontier(cfg *config.Config, site string, policy retry.Policy) (*frontier.Frontier, error) {
	scopeOpts := []frontier.ScopeOption{
		frontier.WithIgnorePatterns(cfg.IgnorePatterns),
		frontier.WithFollowPatterns(cfg.FollowPatterns),
	}
	if len(cfg.SkipExtensions) > 0 {
		scopeOpts = append(scopeOpts, frontier.WithSkipExtensions(cfg.SkipExtensions))
	}
	scope, err := frontier.NewScope(site, scopeOpts...)
	if err != nil {
		return nil, fmt.Errorf("invalid site %q: %w", site, err)
	}
	return frontier.New(policy,
		frontier.WithScope(scope),
		frontier.WithNormalizer(frontier.Normalizer{KeepQueryParams: cfg.KeepQueryParams}),
	), nil
}

// floorFor returns the request floor limiter of host. Sites on the same
// host share it, so --all-sites never hits one server faster than the floor.
// A zero floor returns nil.
func (r *runner) floorFor(host string, floor time.Duration) *rate.Limiter {
	if floor <= 0 {
		return nil
	}
	r.floorMu.Lock()
	defer r.floorMu.Unlock()
	if r.floors == nil {
		r.floors = make(map[string]*rate.Limiter)
	}
	l, ok := r.floors[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(floor), 1)
		r.floors[host] = l
	}
	return l
}

func newPacer(cfg *config.Config, floor *rate.Limiter) *pacer.Pacer {
	opts := []pacer.Option{
		pacer.WithDelayRange(cfg.DelayMin, cfg.DelayMax),
		pacer.WithFloor(cfg.DelayBetweenRequests),
		pacer.WithStealth(cfg.Stealth, cfg.StealthJitter),
		pacer.WithUserAgent(cfg.UserAgent),
	}
	if floor != nil {
		opts = append(opts, pacer.WithLimiter(floor))
	}
	return pacer.New(opts...)
}

// newRenderer returns the configured renderer and its cleanup.
func newRenderer(cfg *config.Config) (fetch.Renderer, func() error, error) {
	if cfg.Renderer == config.RendererChrome {
		r := fetch.NewChromeRenderer(fetch.ChromeOptions{
			Headless: cfg.Headless,
			Stealth:  cfg.Stealth,
			ProxyURL: cfg.Proxy,
			ExecPath: cfg.ChromePath,
		})
		return r, r.Close, nil
	}

	r, err := fetch.NewHTTPRenderer(
		fetch.WithCookie(cfg.Cookie),
		fetch.WithHeaders(cfg.Headers),
		fetch.WithProxy(cfg.Proxy),
		fetch.WithStealthHeaders(cfg.Stealth),
		fetch.WithMaxBodyBytes(cfg.MaxBodySize),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid proxy %s: %w", log.RedactURL(cfg.Proxy), err)
	}
	return r, func() error { return nil }, nil
}

// summaryOutput opens --summary-file, or returns the command output.
func (r *runner) summaryOutput() (io.Writer, func(), error) {
	if r.cfg.SummaryFile == "" {
		return r.out, func() {}, nil
	}
	if dir := filepath.Dir(r.cfg.SummaryFile); dir != "." {
		if err := os.MkdirAll(dir, report.DirPerm); err != nil {
			return nil, nil, fmt.Errorf("failed to create summary directory: %w", err)
		}
	}
	f, err := os.OpenFile(r.cfg.SummaryFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, report.FilePerm)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create summary file: %w", err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			r.logger.Error("failed to close summary file", "error", err)
		}
	}, nil
}

func (r *runner) summaryWriter(out io.Writer) report.Writer {
	switch {
	case r.cfg.JSONReport:
		return report.NewJSONWriter(out, report.WithPrettyPrint())
	case r.cfg.MarkdownReport:
		return report.NewMarkdownWriter(out, report.WithURLList(r.cfg.Verbose))
	default:
		return report.NewSimpleWriter(out, report.WithVerbose(r.cfg.Verbose))
	}
}

// lockedWriter serializes summaries of concurrent sites.
type lockedWriter struct {
	mu sync.Mutex
	w  report.Writer
}

func (l *lockedWriter) Write(s *model.CrawlSummary) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(s)
}

// syncWriter lets concurrent sessions share one progress stream.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
