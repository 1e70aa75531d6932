package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/clock"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

// WorkflowRunner runs multi-step user journeys. Every virtual user walks the
// workflow steps in order for each iteration, pausing ThinkTime after a step.
type WorkflowRunner struct {
	executor orchestrator.RequestExecutor
	clock    clock.Clock
	logger   *zap.Logger
	opts     Options
}

// NewWorkflowRunner creates a workflow runner.
func NewWorkflowRunner(executor orchestrator.RequestExecutor, c clock.Clock, logger *zap.Logger, opts Options) *WorkflowRunner {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowRunner{
		executor: executor,
		clock:    c,
		logger:   logger,
		opts:     opts.withDefaults(),
	}
}

// Run executes the workflow of s.
//
// Virtual user start times come from the pattern scheduler: one scheduled
// slot per VU, spread over the ramp-up time, or the whole test duration when
// no ramp-up is declared.
func (w *WorkflowRunner) Run(ctx context.Context, s *spec.LoadTestSpec) (*Result, error) {
	if len(s.Workflow) == 0 {
		return nil, fmt.Errorf("test %q has no workflow steps", s.ID)
	}

	vus := s.LoadPattern.VUs()
	starts := ScheduleFor(s)

	r := newRun(ctx, s.ID, w.executor, w.clock, w.logger, w.opts, s)
	defer r.cancelExec()

	w.logger.Info("starting workflow run",
		zap.String("test", s.ID),
		zap.Int("steps", len(s.Workflow)),
		zap.Int("vus", vus),
		zap.Int("iterations", s.LoadPattern.IterationCount()))

	stop := make(chan struct{})
	go r.progress(stop)
	defer close(stop)

	ceiling := r.ceilingTimer()

	var g errgroup.Group
	for vu, offset := range starts.Offsets {
		r.inFlight.Add(1)
		g.Go(func() error {
			defer r.inFlight.Done()
			w.runVU(ctx, r, s, vu, offset)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	// VUs stop issuing once they observe the ceiling; drain bounds the
	// request each one may still have in flight.
	select {
	case <-done:
	case <-ceiling:
		r.markCeiling()
		w.logger.Warn("duration ceiling reached, stopping virtual users",
			zap.String("test", s.ID))
	case <-ctx.Done():
	}
	r.drain(r.ceilingReached())
	<-done

	return r.finish(ctx, s.TotalRequests())
}

func (w *WorkflowRunner) runVU(ctx context.Context, r *run, s *spec.LoadTestSpec, vu int, offset time.Duration) {
	if r.pastCeiling(offset) {
		return
	}
	if err := r.waitUntil(ctx, offset); err != nil {
		return
	}

	iterations := s.LoadPattern.IterationCount()
	for it := 0; it < iterations; it++ {
		for _, step := range s.Workflow {
			for _, req := range step.Requests {
				if ctx.Err() != nil || r.pastCeiling(0) {
					return
				}
				r.execute(req, r.clock.Now())
			}

			think := step.ThinkTime.Std()
			if think <= 0 {
				continue
			}
			if r.ceiling > 0 {
				elapsed := r.clock.Now().Sub(r.start)
				if elapsed+think >= r.ceiling {
					r.markCeiling()
					return
				}
			}
			if err := r.clock.Sleep(ctx, think); err != nil {
				return
			}
		}
	}

	w.logger.Debug("virtual user finished",
		zap.String("test", s.ID),
		zap.Int("vu", vu),
		zap.Int("iterations", iterations))
}
