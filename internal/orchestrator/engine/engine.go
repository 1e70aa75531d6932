// Package engine runs a load test spec end to end.
//
// A run validates the spec, asks the selector for a strategy, dispatches to
// the batch scheduler or one of the runners, evaluates assertions over the
// aggregated metrics, analyses the latency series and optionally archives
// the raw samples. Everything the engine needs is injected through New.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/loadctl/internal/config"
	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/archive"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/assertion"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/batch"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/clock"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/errs"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/metrics"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/runner"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/selector"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/stats"
)

// ErrNoHeavyLoadRunner is returned when a spec needs the external heavy-load
// runner, none is configured and fallback is disabled.
var ErrNoHeavyLoadRunner = errors.New("no heavy-load runner configured")

// archiveTimeout bounds archive writes, which run even after cancellation.
const archiveTimeout = 30 * time.Second

// HeavyLoadRunner is the external runner used for specs the selector
// classifies as heavy load.
type HeavyLoadRunner interface {
	runner.TestRunner
}

// Engine orchestrates load test runs. It is safe to reuse for several runs
// but not for concurrent ones sharing a Reporter that is not concurrency safe.
type Engine struct {
	executor orchestrator.RequestExecutor
	cfg      *config.Config
	clock    clock.Clock
	logger   *zap.Logger
	selector *selector.Selector

	heavy    HeavyLoadRunner
	archive  archive.Archive
	reporter batch.Reporter

	onSample   func(testID string, s orchestrator.RequestSample)
	onProgress func(testID string, snap metrics.Snapshot)
	newRunID   func() string
}

// Option configures an Engine
type Option func(*Engine)

// WithConfig sets the engine configuration. Defaults to config.Default().
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

// WithClock sets the clock used for all timing
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHeavyLoadRunner sets the external heavy-load runner
func WithHeavyLoadRunner(r HeavyLoadRunner) Option {
	return func(e *Engine) {
		e.heavy = r
	}
}

// WithArchive enables raw sample export
func WithArchive(a archive.Archive) Option {
	return func(e *Engine) {
		e.archive = a
	}
}

// WithReporter receives batch events
func WithReporter(r batch.Reporter) Option {
	return func(e *Engine) {
		e.reporter = r
	}
}

// WithSampleObserver is called for every recorded request sample
func WithSampleObserver(fn func(testID string, s orchestrator.RequestSample)) Option {
	return func(e *Engine) {
		e.onSample = fn
	}
}

// WithProgress receives live snapshots while tests run
func WithProgress(fn func(testID string, snap metrics.Snapshot)) Option {
	return func(e *Engine) {
		e.onProgress = fn
	}
}

// WithRunID overrides run ID generation
func WithRunID(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newRunID = fn
		}
	}
}

// New creates an engine issuing requests through executor.
func New(executor orchestrator.RequestExecutor, options ...Option) *Engine {
	e := &Engine{
		executor: executor,
		cfg:      config.Default(),
		clock:    clock.Real(),
		logger:   zap.NewNop(),
		reporter: batch.NoopReporter{},
		newRunID: uuid.NewString,
	}
	for _, option := range options {
		option(e)
	}
	if e.reporter == nil {
		e.reporter = batch.NoopReporter{}
	}
	e.selector = selector.New(e.cfg.Selector)
	return e
}

// Select classifies ts without validating or running it.
func (e *Engine) Select(ts *spec.LoadTestSpec) selector.Result {
	return e.selector.Select(ts)
}

// Validate checks the spec and every custom assertion expression in it.
func (e *Engine) Validate(ts *spec.LoadTestSpec) error {
	ve := &errs.ValidationErrors{}
	merge(ve, ts.Validate())
	merge(ve, assertion.Validate("assertions", ts.Assertions))
	if ts.Batch != nil {
		for i, item := range ts.Batch.Tests {
			merge(ve, assertion.Validate(fmt.Sprintf("batch.tests[%d].assertions", i), item.Assertions))
		}
	}
	return ve.Err()
}

func merge(into *errs.ValidationErrors, err error) {
	if err == nil {
		return
	}
	var many *errs.ValidationErrors
	var one *errs.ValidationError
	switch {
	case errors.As(err, &many):
		into.Errors = append(into.Errors, many.Errors...)
	case errors.As(err, &one):
		into.Errors = append(into.Errors, one)
	default:
		into.Add("", err.Error())
	}
}

// Run executes ts and returns its report.
//
// Validation errors return a nil report. Any other error comes with the
// report of what ran: partial samples, metrics and assertions survive
// cancellation and execution failures.
func (e *Engine) Run(ctx context.Context, ts *spec.LoadTestSpec) (*Report, error) {
	s := ts.Clone()
	spec.ApplyDefaults(s)
	if err := e.Validate(s); err != nil {
		return nil, err
	}

	sel := e.selector.Select(s)
	rep := &Report{
		RunID:     e.newRunID(),
		TestID:    s.ID,
		Name:      s.Label(),
		TestType:  s.TestType,
		Selection: sel,
		StartTime: e.clock.Now(),
	}
	logger := e.logger.With(zap.String("run", rep.RunID), zap.String("test", s.ID))
	logger.Info("executor selected",
		zap.String("strategy", string(sel.Strategy)),
		zap.Float64("confidence", sel.Confidence),
		zap.String("reason", sel.Reason))

	var (
		samples map[string][]orchestrator.RequestSample
		all     []orchestrator.RequestSample
		runErr  error
	)

	if sel.Strategy == selector.StrategyBatch {
		rep.ExecutedBy = selector.StrategyBatch
		sched := batch.New(&dispatcher{engine: e, logger: logger}, e.clock, logger, e.cfg.Batch).WithReporter(e.reporter)
		res, err := sched.Execute(ctx, s.Batch, s.Variables)
		runErr = err
		if res != nil {
			rep.Batch = res
			rep.Metrics = res.Metrics
			rep.Warnings = append(rep.Warnings, res.Warnings...)
			all = res.Samples()
			samples = make(map[string][]orchestrator.RequestSample, len(res.Tests))
			for _, tr := range res.Tests {
				samples[tr.TestID] = tr.Samples
			}
			if res.Status == batch.StatusFailed && runErr == nil {
				runErr = batchFailure(res)
			}
		}
	} else {
		r, executedBy, err := e.runnerFor(sel.Strategy)
		if err != nil {
			return nil, err
		}
		rep.ExecutedBy = executedBy
		if executedBy != sel.Strategy {
			msg := fmt.Sprintf("%s selected (%s) but no heavy-load runner is configured; ran on %s",
				sel.Strategy, sel.Reason, executedBy)
			logger.Warn("falling back to pattern runner", zap.String("reason", sel.Reason))
			rep.Warnings = append(rep.Warnings, msg)
		}

		res, err := r.Run(ctx, s)
		runErr = err
		if res != nil {
			rep.Run = res
			rep.Metrics = res.Metrics
			all = res.Samples
			samples = map[string][]orchestrator.RequestSample{s.ID: res.Samples}
			if res.CeilingReached {
				rep.Warnings = append(rep.Warnings,
					fmt.Sprintf("duration ceiling reached after %d of %d requests", res.Issued, res.Scheduled))
			}
		}
	}

	rep.Assertions = assertion.Evaluate(s.Assertions, rep.Metrics)
	rep.Analysis = stats.Analyze(all, e.cfg.Engine.AnomalyThreshold)
	rep.Cancelled = ctx.Err() != nil
	if runErr != nil {
		rep.Error = runErr.Error()
	}

	e.archiveSamples(ctx, logger, rep, s, samples)

	rep.EndTime = e.clock.Now()
	rep.Duration = rep.EndTime.Sub(rep.StartTime)

	logger.Info("run finished",
		zap.String("executedBy", string(rep.ExecutedBy)),
		zap.Int64("requests", rep.Metrics.TotalRequests),
		zap.Float64("errorRate", rep.Metrics.ErrorRate),
		zap.Bool("passed", rep.Passed()),
		zap.Duration("duration", rep.Duration))

	return rep, runErr
}

// runnerFor maps a non-batch strategy to the runner that executes it and
// the strategy actually used.
func (e *Engine) runnerFor(strategy selector.Strategy) (runner.TestRunner, selector.Strategy, error) {
	opts := e.runnerOptions()
	switch strategy {
	case selector.StrategyWorkflow:
		return runner.NewWorkflowRunner(e.executor, e.clock, e.logger, opts), selector.StrategyWorkflow, nil
	case selector.StrategyHeavyLoad:
		if e.heavy != nil {
			return e.heavy, selector.StrategyHeavyLoad, nil
		}
		if !e.cfg.Engine.FallbackToPatternRunner {
			return nil, "", ErrNoHeavyLoadRunner
		}
		return runner.NewPatternRunner(e.executor, e.clock, e.logger, opts), selector.StrategyPatternRunner, nil
	default:
		return runner.NewPatternRunner(e.executor, e.clock, e.logger, opts), selector.StrategyPatternRunner, nil
	}
}

func (e *Engine) runnerOptions() runner.Options {
	opts := e.cfg.Runner
	if e.onSample != nil {
		opts.OnSample = e.onSample
	}
	if e.onProgress != nil {
		opts.OnProgress = e.onProgress
	}
	return opts
}

func (e *Engine) archiveSamples(ctx context.Context, logger *zap.Logger, rep *Report, s *spec.LoadTestSpec, samples map[string][]orchestrator.RequestSample) {
	if e.archive == nil || len(samples) == 0 {
		return
	}

	// Samples are archived even when the run was cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	ids := []string{s.ID}
	if s.Batch != nil {
		ids = ids[:0]
		for _, item := range s.Batch.Tests {
			ids = append(ids, item.ID)
		}
	}

	for _, id := range ids {
		if len(samples[id]) == 0 {
			continue
		}
		if err := e.archive.Write(ctx, rep.RunID, id, samples[id]); err != nil {
			logger.Error("archiving samples failed", zap.String("archiveTest", id), zap.Error(err))
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("archive: %v", err))
			continue
		}
		rep.ArchivedSamples += len(samples[id])
	}
}

func batchFailure(res *batch.Result) error {
	if res.Error != "" {
		return fmt.Errorf("batch %q failed: %s", res.Name, res.Error)
	}
	return fmt.Errorf("batch %q failed: none of its %d tests completed", res.Name, len(res.Tests))
}

// dispatcher runs batch sub-tests on the runner their own selection calls for.
type dispatcher struct {
	engine *Engine
	logger *zap.Logger
}

func (d *dispatcher) Run(ctx context.Context, s *spec.LoadTestSpec) (*runner.Result, error) {
	sel := d.engine.selector.Select(s)
	r, executedBy, err := d.engine.runnerFor(sel.Strategy)
	if err != nil {
		return nil, err
	}
	if executedBy != sel.Strategy {
		d.logger.Warn("falling back to pattern runner",
			zap.String("subTest", s.ID),
			zap.String("reason", sel.Reason))
	}
	return r.Run(ctx, s)
}
