package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/clock"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/rate"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

// PatternRunner is the in-process loop executor for plain request specs.
type PatternRunner struct {
	executor orchestrator.RequestExecutor
	clock    clock.Clock
	logger   *zap.Logger
	opts     Options
}

// NewPatternRunner creates a pattern runner. A nil clock uses the wall clock
// and a nil logger discards output.
func NewPatternRunner(executor orchestrator.RequestExecutor, c clock.Clock, logger *zap.Logger, opts Options) *PatternRunner {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternRunner{
		executor: executor,
		clock:    c,
		logger:   logger,
		opts:     opts.withDefaults(),
	}
}

// Run executes s. Workflow specs are delegated to a WorkflowRunner sharing
// this runner's executor, clock and options.
//
// The returned Result is non-nil whenever err is not a setup error, so
// partial samples survive cancellation, ceilings and execution failures.
func (p *PatternRunner) Run(ctx context.Context, s *spec.LoadTestSpec) (*Result, error) {
	if len(s.Workflow) > 0 {
		return NewWorkflowRunner(p.executor, p.clock, p.logger, p.opts).Run(ctx, s)
	}
	if len(s.Requests) == 0 {
		return nil, fmt.Errorf("test %q has no requests to run", s.ID)
	}

	sched := ScheduleFor(s)

	r := newRun(ctx, s.ID, p.executor, p.clock, p.logger, p.opts, s)
	defer r.cancelExec()

	p.logger.Info("starting pattern run",
		zap.String("test", s.ID),
		zap.String("pattern", string(sched.Pattern)),
		zap.Int("requests", sched.Len()),
		zap.Int("vus", s.LoadPattern.VUs()),
		zap.Duration("span", sched.Span()))

	var bucket *rate.LeakyBucket
	if rps := s.LoadPattern.RequestsPerSecond; rps > 0 && rateCapped(sched.Pattern) {
		bucket = rate.NewLeakyBucket(p.clock, rps)
	}

	stop := make(chan struct{})
	go r.progress(stop)
	defer close(stop)

	slots := make(chan struct{}, s.LoadPattern.VUs())
	ceiling := r.ceilingTimer()

dispatch:
	for i, offset := range sched.Offsets {
		if r.pastCeiling(offset) {
			p.logger.Warn("duration ceiling reached, no more requests will be issued",
				zap.String("test", s.ID),
				zap.Int("remaining", sched.Len()-i))
			break
		}
		if err := r.waitUntil(ctx, offset); err != nil {
			break
		}
		if bucket != nil {
			if err := bucket.Wait(ctx); err != nil {
				break
			}
		}

		select {
		case slots <- struct{}{}:
		case <-ceiling:
			r.markCeiling()
			p.logger.Warn("duration ceiling reached while all virtual users were busy",
				zap.String("test", s.ID),
				zap.Int("remaining", sched.Len()-i))
			break dispatch
		case <-ctx.Done():
			break dispatch
		}
		if r.pastCeiling(0) {
			<-slots
			break
		}

		req := s.Requests[i%len(s.Requests)]
		ts := r.dispatchTime(r.start.Add(offset))

		r.inFlight.Add(1)
		go func() {
			defer r.inFlight.Done()
			defer func() { <-slots }()
			r.execute(req, ts)
		}()
	}

	r.drain(r.ceilingReached())
	return r.finish(ctx, sched.Len())
}

// rateCapped reports whether requestsPerSecond caps dispatch for a pattern.
// Step and random-burst issue their groups back-to-back by definition.
func rateCapped(p spec.PatternType) bool {
	return p != spec.PatternStep && p != spec.PatternRandomBurst
}
