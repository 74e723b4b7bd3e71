package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/linkscout/internal/fetch"
	"github.com/nao1215/linkscout/internal/frontier"
	"github.com/nao1215/linkscout/internal/model"
	"github.com/nao1215/linkscout/internal/retry"
)

// Defaults for a Session.
const (
	DefaultConcurrency     = 2
	DefaultMaxPages        = 100
	DefaultIdleWait        = 100 * time.Millisecond
	DefaultCheckpointEvery = 5
)

var (
	// ErrNoStartURL is returned by Run when the start URL is empty.
	ErrNoStartURL = errors.New("start url is required")

	// ErrFatal wraps every error that aborted a session.
	ErrFatal = errors.New("crawl aborted")
)

// Pacer delays a worker before each fetch.
type Pacer interface {
	Wait(ctx context.Context) error
}

// CheckpointFunc persists the frontier. An error aborts the session.
type CheckpointFunc func(ctx context.Context, cp model.Checkpoint) error

// VisitFunc is called after each successfully visited page.
type VisitFunc func(rec model.URLRecord, res *fetch.Result)

// Session crawls one site.
type Session struct {
	frontier *frontier.Frontier
	fetcher  fetch.Fetcher
	pacer    Pacer
	policy   retry.Policy
	logger   *slog.Logger

	id          string
	site        string
	concurrency int
	maxPages    int
	timeBudget  time.Duration
	idleWait    time.Duration

	checkpointEvery int
	checkpoint      CheckpointFunc
	onVisit         VisitFunc

	budget *budget

	fatalOnce sync.Once
	fatalErr  error
	abort     context.CancelFunc
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithConcurrency sets the number of workers.
func WithConcurrency(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMaxPages caps the number of visited pages. Zero means no cap.
func WithMaxPages(n int) SessionOption {
	return func(s *Session) {
		if n >= 0 {
			s.maxPages = n
		}
	}
}

// WithTimeBudget ends the session after d. Zero means no time limit.
func WithTimeBudget(d time.Duration) SessionOption {
	return func(s *Session) { s.timeBudget = d }
}

// WithIdleWait sets the longest a worker sleeps when nothing is eligible.
func WithIdleWait(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.idleWait = d
		}
	}
}

// WithRetryPolicy sets the policy used to classify fetch failures.
func WithRetryPolicy(p retry.Policy) SessionOption {
	return func(s *Session) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSite names the site in summaries and checkpoints.
func WithSite(site string) SessionOption {
	return func(s *Session) { s.site = site }
}

// WithCheckpoint calls fn after every `every` visited pages.
func WithCheckpoint(every int, fn CheckpointFunc) SessionOption {
	return func(s *Session) {
		s.checkpointEvery = every
		s.checkpoint = fn
	}
}

// WithOnVisit registers a callback for visited pages.
func WithOnVisit(fn VisitFunc) SessionOption {
	return func(s *Session) { s.onVisit = fn }
}

// NewSession creates a session over f. The frontier may already hold
// records restored from a checkpoint.
func NewSession(f *frontier.Frontier, fetcher fetch.Fetcher, pacer Pacer, opts ...SessionOption) *Session {
	s := &Session{
		frontier:        f,
		fetcher:         fetcher,
		pacer:           pacer,
		policy:          retry.NewPolicy(),
		logger:          slog.New(slog.DiscardHandler),
		id:              uuid.NewString(),
		concurrency:     DefaultConcurrency,
		maxPages:        DefaultMaxPages,
		idleWait:        DefaultIdleWait,
		checkpointEvery: DefaultCheckpointEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Run seeds the frontier with startURL and crawls until the frontier drains,
// the page budget is spent, the time budget elapses, ctx is cancelled or a
// checkpoint fails. The summary is always returned; the error is non-nil
// only for a fatal abort or an invalid start URL.
func (s *Session) Run(ctx context.Context, startURL string) (*model.CrawlSummary, error) {
	summary := &model.CrawlSummary{
		SessionID: s.id,
		Site:      s.site,
		StartURL:  startURL,
		StartedAt: time.Now(),
	}
	if startURL == "" {
		return s.finish(summary, model.TerminationFatal, ErrNoStartURL)
	}
	if _, err := s.frontier.Seed(startURL); err != nil {
		return s.finish(summary, model.TerminationFatal, fmt.Errorf("seed start url: %w", err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.timeBudget > 0 {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithTimeout(runCtx, s.timeBudget)
		defer cancelDeadline()
	}
	s.abort = cancel
	s.budget = newBudget(s.maxPages)

	s.logger.Info("crawl started",
		"session", s.id,
		"site", s.site,
		"start_url", startURL,
		"concurrency", s.concurrency,
		"max_pages", s.maxPages,
	)

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for worker := range s.concurrency {
		g.Go(func() error {
			s.work(runCtx, worker)
			return nil
		})
	}
	_ = g.Wait() // workers report fatal errors through fail

	termination := s.termination(ctx, runCtx)
	return s.finish(summary, termination, s.fatalErr)
}

func (s *Session) termination(parent, runCtx context.Context) model.Termination {
	switch {
	case s.fatalErr != nil:
		return model.TerminationFatal
	case s.budget.exhausted():
		return model.TerminationBudgetExhausted
	case s.frontier.IsDrained():
		return model.TerminationDrained
	case parent.Err() != nil:
		return model.TerminationCancelled
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return model.TerminationDeadline
	default:
		return model.TerminationCancelled
	}
}

func (s *Session) finish(summary *model.CrawlSummary, term model.Termination, err error) (*model.CrawlSummary, error) {
	counts := s.frontier.Counts()
	summary.FinishedAt = time.Now()
	summary.Termination = term
	summary.Visited = counts.Visited
	summary.Failed = counts.Failed
	summary.Pending = counts.Pending + counts.InFlight
	summary.Discovered = counts.Total()
	summary.URLs = s.frontier.Snapshot()
	if err != nil {
		summary.Error = err.Error()
	}

	s.logger.Info("crawl finished",
		"session", s.id,
		"termination", string(term),
		"visited", summary.Visited,
		"failed", summary.Failed,
		"pending", summary.Pending,
		"duration", summary.Duration().Round(time.Millisecond).String(),
	)
	return summary, err
}

// fail records the first fatal error and stops every worker.
func (s *Session) fail(err error) {
	s.fatalOnce.Do(func() {
		s.fatalErr = fmt.Errorf("%w: %w", ErrFatal, err)
		s.logger.Error("crawl aborted", "session", s.id, "error", err)
		if s.abort != nil {
			s.abort()
		}
	})
}

func (s *Session) work(ctx context.Context, worker int) {
	logger := s.logger.With("worker", worker)

	for {
		if ctx.Err() != nil || s.budget.exhausted() {
			return
		}

		if !s.budget.reserve() {
			// Other workers hold the remaining slots; one may fail and free it.
			if !s.idle(ctx) {
				return
			}
			continue
		}

		rec, ok := s.frontier.TakeNext()
		if !ok {
			s.budget.release()
			if s.frontier.IsDrained() {
				return
			}
			if !s.idle(ctx) {
				return
			}
			continue
		}

		if err := s.pacer.Wait(ctx); err != nil {
			s.budget.release()
			if rerr := s.frontier.Release(rec.URL); rerr != nil {
				s.fail(fmt.Errorf("release %s: %w", rec.URL, rerr))
			}
			return
		}

		// In-flight fetches finish even if the session is cancelled.
		res, err := s.fetcher.Fetch(context.WithoutCancel(ctx), rec.URL)
		if err != nil {
			s.budget.release()
			s.recordFailure(logger, rec, err)
			continue
		}

		added := s.frontier.Discover(res.Links, rec.URL)
		if err := s.frontier.MarkVisited(rec.URL); err != nil {
			s.budget.release()
			s.fail(fmt.Errorf("mark visited %s: %w", rec.URL, err))
			return
		}
		visited := s.budget.commit()
		logger.Info("page visited",
			"url", rec.URL,
			"status", res.StatusCode,
			"links", len(res.Links),
			"new", added,
			"visited", visited,
			"elapsed", res.Elapsed.Round(time.Millisecond).String(),
		)
		if s.onVisit != nil {
			s.onVisit(rec, res)
		}
		s.maybeCheckpoint(ctx, visited)
	}
}

func (s *Session) recordFailure(logger *slog.Logger, rec model.URLRecord, err error) {
	retryable := s.policy.ClassifyError(err)
	state, merr := s.frontier.MarkFailed(rec.URL, retryable, err)
	if merr != nil {
		s.fail(fmt.Errorf("mark failed %s: %w", rec.URL, merr))
		return
	}

	kind, status := fetch.KindOf(err)
	attrs := []any{
		"url", rec.URL,
		"kind", kind.String(),
		"attempt", rec.Attempts + 1,
		"state", state.String(),
		"error", err,
	}
	if status != 0 {
		attrs = append(attrs, "status", status)
	}
	if state == model.StatePending {
		attrs = append(attrs, "backoff", s.policy.Backoff(rec.Attempts+1).String())
		logger.Warn("fetch failed, will retry", attrs...)
		return
	}
	logger.Warn("fetch failed permanently", attrs...)
}

func (s *Session) maybeCheckpoint(ctx context.Context, visited int) {
	if s.checkpoint == nil || s.checkpointEvery <= 0 || visited%s.checkpointEvery != 0 {
		return
	}
	cp := model.Checkpoint{
		Site:      s.site,
		SessionID: s.id,
		SavedAt:   time.Now(),
		Records:   s.frontier.Records(),
	}
	if err := s.checkpoint(context.WithoutCancel(ctx), cp); err != nil {
		s.fail(fmt.Errorf("checkpoint: %w", err))
		return
	}
	s.logger.Debug("checkpoint saved", "session", s.id, "visited", visited, "records", len(cp.Records))
}

// idle sleeps until the soonest backoff ends, capped by the idle wait.
// It returns false if ctx ended.
func (s *Session) idle(ctx context.Context) bool {
	wait := s.idleWait
	if d, ok := s.frontier.NextEligibleIn(); ok && d > 0 && d < wait {
		wait = d
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
