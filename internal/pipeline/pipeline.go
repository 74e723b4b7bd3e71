package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nao1215/linkscout/internal/model"
)

// Target is one site to crawl.
type Target struct {
	Site     string
	StartURL string
}

// Run carries the state of one site through the pipeline.
type Run struct {
	Target Target

	// Summary is set by the crawl step.
	Summary *model.CrawlSummary

	// Records is the final frontier, used to save the checkpoint.
	Records []model.URLRecord

	// PerformedSteps lists the steps that completed without error.
	PerformedSteps []string

	// Errors holds every step error in order.
	Errors []error
}

// Err joins every step error.
func (r *Run) Err() error {
	return errors.Join(r.Errors...)
}

// Step is one stage of the pipeline.
type Step interface {
	// Do executes the step. Non-critical problems are logged and nil is
	// returned.
	Do(ctx context.Context, run *Run) error

	// Name returns the step's name for logging.
	Name() string
}

// Finalizer marks steps that run even after cancellation.
type Finalizer interface {
	Finalize() bool
}

func isFinalizer(s Step) bool {
	f, ok := s.(Finalizer)
	return ok && f.Finalize()
}

// Pipeline executes steps in order.
type Pipeline struct {
	steps           []Step
	logger          *slog.Logger
	continueOnError bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError keeps executing steps after one fails. Finalizer steps
// run after a failure regardless of this option.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates a Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{steps: make([]Step, 0)}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends several steps.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs the steps over run. After a cancellation or a failed step
// only Finalizer steps run. It returns every step error joined, or the
// context error if cancellation skipped a step.
func (p *Pipeline) Execute(ctx context.Context, run *Run) error {
	var (
		stopped   bool
		cancelErr error
	)
	for _, step := range p.steps {
		final := isFinalizer(step)
		if !final && ctx.Err() != nil {
			if cancelErr == nil {
				p.logger.Warn("pipeline cancelled", "step", step.Name(), "reason", ctx.Err())
				cancelErr = ctx.Err()
			}
			continue
		}
		if stopped && !final {
			continue
		}

		stepCtx := ctx
		if final {
			stepCtx = context.WithoutCancel(ctx)
		}

		p.logger.Debug("executing step", "step", step.Name(), "site", run.Target.Site)
		if err := step.Do(stepCtx, run); err != nil {
			p.logger.Error("step failed", "step", step.Name(), "site", run.Target.Site, "error", err)
			run.Errors = append(run.Errors, err)
			if !p.continueOnError {
				stopped = true
			}
			continue
		}
		run.PerformedSteps = append(run.PerformedSteps, step.Name())
	}

	if err := run.Err(); err != nil {
		return err
	}
	return cancelErr
}

// StepCount returns the number of steps.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the step names in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
