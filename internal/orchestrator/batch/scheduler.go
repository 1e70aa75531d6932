package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/assertion"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/clock"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/errs"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/runner"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

// Scheduler executes batches.
type Scheduler struct {
	runner   runner.TestRunner
	clock    clock.Clock
	logger   *zap.Logger
	reporter Reporter
	opts     Options
}

// New creates a scheduler that runs every sub-test through r.
func New(r runner.TestRunner, c clock.Clock, logger *zap.Logger, opts Options) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   r,
		clock:    c,
		logger:   logger,
		reporter: NoopReporter{},
		opts:     opts.withDefaults(),
	}
}

// WithReporter sets the progress reporter.
func (s *Scheduler) WithReporter(r Reporter) *Scheduler {
	if r == nil {
		r = NoopReporter{}
	}
	s.reporter = r
	return s
}

// Options returns the options in effect.
func (s *Scheduler) Options() Options {
	return s.opts
}

// execution is the state of one Execute call.
type execution struct {
	batch     *spec.BatchTestSpec
	variables map[string]string

	// results is indexed by position in batch.Tests
	results []*TestResult
	// order lists positions in launch order
	order []int
}

func (e *execution) status(id string) (Status, bool) {
	for i, item := range e.batch.Tests {
		if item.ID == id && e.results[i] != nil {
			return e.results[i].Status, true
		}
	}
	return "", false
}

// blockedBy returns the first dependency of item that did not complete.
func (e *execution) blockedBy(item spec.BatchTestItem) (string, Status) {
	for _, dep := range item.Dependencies {
		st, ok := e.status(dep)
		if !ok || st != StatusCompleted {
			return dep, st
		}
	}
	return "", ""
}

func (e *execution) record(idx int, r TestResult) {
	e.results[idx] = &r
	e.order = append(e.order, idx)
}

// Execute runs every test of b. The returned result is never nil: on
// cancellation it carries whatever completed, with status cancelled, and the
// error is ctx.Err(). A fault inside the scheduler itself yields status
// failed with Error set and the partial results preserved. A nil batch is a
// *errs.ValidationError.
func (s *Scheduler) Execute(ctx context.Context, b *spec.BatchTestSpec, variables map[string]string) (result *Result, err error) {
	start := s.clock.Now()
	if b == nil {
		verr := &errs.ValidationError{Field: "batch", Message: "batch is required"}
		return &Result{Status: StatusFailed, Error: verr.Error(), StartTime: start, EndTime: start}, verr
	}
	exec := &execution{batch: b, variables: variables}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("batch scheduler fault",
				zap.String("batch", b.Name),
				zap.Any("panic", p))
			result = s.finish(ctx, exec, start)
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("batch scheduler fault: %v", p)
			err = nil
		}
	}()

	exec.results = make([]*TestResult, len(b.Tests))

	s.logger.Info("starting batch",
		zap.String("batch", b.Name),
		zap.String("mode", string(b.Mode())),
		zap.Int("tests", len(b.Tests)))

	if b.Mode() == spec.ModeSequential {
		s.runSequential(ctx, exec)
	} else {
		s.runParallel(ctx, exec)
	}

	result = s.finish(ctx, exec, start)
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// runParallel launches dependency layers in order, each split into chunks.
func (s *Scheduler) runParallel(ctx context.Context, exec *execution) {
	size := exec.batch.Concurrency
	if size <= 0 {
		size = s.opts.Concurrency
	}

	chunk := 0
	for _, layer := range layers(exec.batch.Tests) {
		var ready []int
		for _, idx := range layer {
			item := exec.batch.Tests[idx]
			if dep, st := exec.blockedBy(item); dep != "" {
				exec.record(idx, s.skipped(exec, item, dep, st, chunk))
				continue
			}
			ready = append(ready, idx)
		}

		n := size
		if n <= 0 {
			n = len(ready)
		}
		for lo := 0; lo < len(ready); lo += n {
			hi := min(lo+n, len(ready))
			group := ready[lo:hi]

			if ctx.Err() != nil {
				for _, idx := range group {
					exec.record(idx, cancelled(exec.batch.Tests[idx], chunk, s.clock.Now()))
				}
				chunk++
				continue
			}

			s.logger.Debug("launching chunk",
				zap.String("batch", exec.batch.Name),
				zap.Int("chunk", chunk),
				zap.Int("tests", len(group)))

			settled := make([]TestResult, len(group))
			var g errgroup.Group
			for i, idx := range group {
				g.Go(func() error {
					settled[i] = s.runTest(ctx, exec, exec.batch.Tests[idx], chunk)
					return nil
				})
			}
			_ = g.Wait()

			for i, idx := range group {
				exec.record(idx, settled[i])
			}
			chunk++
		}
	}
}

// runSequential runs one test at a time in executionOrder, holding back tests
// until their dependencies have run.
func (s *Scheduler) runSequential(ctx context.Context, exec *execution) {
	delay := s.opts.DelayBetweenTests
	if exec.batch.DelayBetweenTests != nil {
		delay = exec.batch.DelayBetweenTests.Std()
	}

	pending := make([]int, len(exec.batch.Tests))
	for i := range pending {
		pending[i] = i
	}
	sort.SliceStable(pending, func(a, b int) bool {
		return exec.batch.Tests[pending[a]].ExecutionOrder < exec.batch.Tests[pending[b]].ExecutionOrder
	})

	ran := 0
	position := 0
	for len(pending) > 0 {
		next := -1
		for i, idx := range pending {
			if exec.dependenciesSettled(exec.batch.Tests[idx]) {
				next = i
				break
			}
		}
		if next < 0 {
			// unreachable for validated specs
			for _, idx := range pending {
				item := exec.batch.Tests[idx]
				now := s.clock.Now()
				exec.record(idx, TestResult{
					TestID: item.ID, Name: item.Name, Status: StatusFailed, Chunk: position,
					Error: "unresolvable dependencies", StartTime: now, EndTime: now,
				})
				position++
			}
			return
		}

		idx := pending[next]
		pending = append(pending[:next], pending[next+1:]...)
		item := exec.batch.Tests[idx]

		if ctx.Err() != nil {
			exec.record(idx, cancelled(item, position, s.clock.Now()))
			position++
			continue
		}
		if dep, st := exec.blockedBy(item); dep != "" {
			exec.record(idx, s.skipped(exec, item, dep, st, position))
			position++
			continue
		}

		if ran > 0 && delay > 0 {
			if err := s.clock.Sleep(ctx, delay); err != nil {
				exec.record(idx, cancelled(item, position, s.clock.Now()))
				position++
				continue
			}
		}

		exec.record(idx, s.runTest(ctx, exec, item, position))
		ran++
		position++
	}
}

func (e *execution) dependenciesSettled(item spec.BatchTestItem) bool {
	for _, dep := range item.Dependencies {
		if _, ok := e.status(dep); !ok {
			if !e.known(dep) {
				continue
			}
			return false
		}
	}
	return true
}

func (e *execution) known(id string) bool {
	for _, item := range e.batch.Tests {
		if item.ID == id {
			return true
		}
	}
	return false
}

// runTest runs one sub-test with retries.
func (s *Scheduler) runTest(ctx context.Context, exec *execution, item spec.BatchTestItem, chunk int) TestResult {
	batchName := exec.batch.Name
	sub := exec.batch.SubSpec(item, exec.variables)

	res := TestResult{TestID: item.ID, Name: sub.Label(), Chunk: chunk, StartTime: s.clock.Now()}
	s.reporter.TestStarted(batchName, item.ID)

	var lastErr error
	for attempt := 0; attempt <= item.Retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * s.opts.RetryBaseDelay
			s.reporter.RetryScheduled(batchName, item.ID, attempt, delay)
			s.logger.Warn("retrying test",
				zap.String("batch", batchName),
				zap.String("test", item.ID),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := s.clock.Sleep(ctx, delay); err != nil {
				res.Status = StatusCancelled
				res.Error = lastErr.Error()
				return s.settle(batchName, res)
			}
		}

		res.Attempts++
		run, err := s.attempt(ctx, sub)

		if err == nil {
			res.Status = StatusCompleted
			res.Error = ""
			res.Metrics = run.Metrics
			res.Samples = run.Samples
			res.Assertions = assertion.Evaluate(sub.Assertions, run.Metrics)
			return s.settle(batchName, res)
		}

		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			res.Status = StatusCancelled
			res.Error = err.Error()
			if run != nil {
				res.Metrics = run.Metrics
				res.Samples = run.Samples
			}
			return s.settle(batchName, res)
		}

		lastErr = err
		if errs.IsValidation(err) {
			break
		}
	}

	res.Status = StatusFailed
	if res.Attempts > 1 {
		res.Error = (&errs.RetryExhaustedError{Test: item.ID, Attempts: res.Attempts, LastErr: lastErr}).Error()
	} else {
		res.Error = lastErr.Error()
	}
	return s.settle(batchName, res)
}

// attempt runs sub once, converting a panic in the runner into an error.
func (s *Scheduler) attempt(ctx context.Context, sub *spec.LoadTestSpec) (result *runner.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("test %q panicked: %v", sub.ID, p)
		}
	}()
	return s.runner.Run(ctx, sub)
}

func (s *Scheduler) settle(batchName string, res TestResult) TestResult {
	res.EndTime = s.clock.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	fields := []zap.Field{
		zap.String("batch", batchName),
		zap.String("test", res.TestID),
		zap.String("status", string(res.Status)),
		zap.Int("attempts", res.Attempts),
		zap.Int64("requests", res.Metrics.TotalRequests),
	}
	if res.Status == StatusFailed {
		s.logger.Warn("test failed", append(fields, zap.String("error", res.Error))...)
	} else {
		s.logger.Info("test finished", fields...)
	}

	s.reporter.TestFinished(batchName, res)
	return res
}

func (s *Scheduler) skipped(exec *execution, item spec.BatchTestItem, dep string, st Status, chunk int) TestResult {
	now := s.clock.Now()
	if st == "" {
		st = "not run"
	}
	res := TestResult{
		TestID:    item.ID,
		Name:      item.Name,
		Status:    StatusSkipped,
		Chunk:     chunk,
		Error:     fmt.Sprintf("dependency %s did not complete (%s)", dep, st),
		StartTime: now,
		EndTime:   now,
	}
	s.logger.Warn("skipping test",
		zap.String("batch", exec.batch.Name),
		zap.String("test", item.ID),
		zap.String("dependency", dep))
	s.reporter.TestFinished(exec.batch.Name, res)
	return res
}

func cancelled(item spec.BatchTestItem, chunk int, now time.Time) TestResult {
	return TestResult{
		TestID:    item.ID,
		Name:      item.Name,
		Status:    StatusCancelled,
		Chunk:     chunk,
		Error:     "cancelled before start",
		StartTime: now,
		EndTime:   now,
	}
}

// layers groups test positions so every test comes after all of its
// dependencies. Positions keep their array order within a layer.
func layers(items []spec.BatchTestItem) [][]int {
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.ID] = i
	}

	depth := make([]int, len(items))
	resolved := make([]bool, len(items))
	remaining := len(items)
	for remaining > 0 {
		progressed := false
		for i, item := range items {
			if resolved[i] {
				continue
			}
			d, ready := 0, true
			for _, dep := range item.Dependencies {
				j, ok := index[dep]
				if !ok || j == i {
					continue
				}
				if !resolved[j] {
					ready = false
					break
				}
				d = max(d, depth[j]+1)
			}
			if ready {
				depth[i] = d
				resolved[i] = true
				remaining--
				progressed = true
			}
		}
		if !progressed {
			// cycles are rejected by validation; run what is left last
			last := 0
			for i := range items {
				if resolved[i] {
					last = max(last, depth[i]+1)
				}
			}
			for i := range items {
				if !resolved[i] {
					depth[i] = last
					resolved[i] = true
				}
			}
			remaining = 0
		}
	}

	var out [][]int
	for i := range items {
		for len(out) <= depth[i] {
			out = append(out, nil)
		}
		out[depth[i]] = append(out[depth[i]], i)
	}
	return out
}
