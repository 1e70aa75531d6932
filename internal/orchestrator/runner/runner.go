// Package runner executes a single load test in-process.
//
// PatternRunner walks a schedule built by the schedule package and issues
// plain requests round-robin under a virtual-user concurrency bound.
// WorkflowRunner starts one goroutine per virtual user, staggered by the same
// schedule, each walking the workflow steps in order.
//
// Both honour the test duration as a ceiling: once it is reached no new
// requests are issued and in-flight requests are given Options.DrainTimeout
// to finish. With Options.HardTimeout they are cancelled instead and the run
// returns an *errs.TimeoutError. Cancelling the caller's context stops
// issuing but lets in-flight requests complete; partial samples are always
// returned.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/clock"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/errs"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/metrics"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/schedule"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

// Options configures the in-process runners.
type Options struct {
	// DrainTimeout bounds how long in-flight requests may run after the
	// duration ceiling (default: 5s)
	DrainTimeout time.Duration `yaml:"drainTimeout" json:"drainTimeout"`

	// HardTimeout cancels in-flight requests at the ceiling and fails the test
	HardTimeout bool `yaml:"hardTimeout" json:"hardTimeout"`

	// ProgressInterval is how often OnProgress is called (default: 1s)
	ProgressInterval time.Duration `yaml:"progressInterval" json:"progressInterval"`

	// OnProgress receives live snapshots while a test runs (optional)
	OnProgress func(testID string, snap metrics.Snapshot) `yaml:"-" json:"-"`

	// OnSample is called for every recorded sample (optional)
	OnSample func(testID string, s orchestrator.RequestSample) `yaml:"-" json:"-"`
}

// DefaultOptions returns the default runner options.
func DefaultOptions() Options {
	return Options{
		DrainTimeout:     5 * time.Second,
		ProgressInterval: time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = d.DrainTimeout
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = d.ProgressInterval
	}
	return o
}

// Result is the outcome of one test run.
type Result struct {
	TestID    string                       `json:"testId"`
	Scheduled int                          `json:"scheduled"`
	Issued    int                          `json:"issued"`
	Samples   []orchestrator.RequestSample `json:"-"`
	Metrics   metrics.AggregatedMetrics    `json:"metrics"`

	// Requests breaks latency down per request template name
	Requests map[string]metrics.LatencyStats `json:"requests,omitempty"`

	// CeilingReached is set when the duration ceiling stopped the run
	CeilingReached bool `json:"ceilingReached,omitempty"`

	// Cancelled is set when the caller's context stopped the run
	Cancelled bool `json:"cancelled,omitempty"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
}

// TestRunner runs one load test spec.
type TestRunner interface {
	Run(ctx context.Context, s *spec.LoadTestSpec) (*Result, error)
}

// ScheduleFor returns the schedule a runner follows for s: one slot per
// request for plain specs, one start slot per virtual user for workflows.
// Workflow VUs spread over the ramp-up time, or the whole duration when no
// ramp-up is declared.
func ScheduleFor(s *spec.LoadTestSpec) schedule.Schedule {
	if len(s.Workflow) > 0 {
		window := s.LoadPattern.RampUpTime.Std()
		if window == 0 {
			window = s.ScheduleDuration()
		}
		return schedule.Build(s.LoadPattern, s.LoadPattern.VUs(), window)
	}
	return schedule.Build(s.LoadPattern, s.TotalRequests(), s.ScheduleDuration())
}

// run holds the state shared by one execution of either runner.
type run struct {
	testID   string
	executor orchestrator.RequestExecutor
	clock    clock.Clock
	logger   *zap.Logger
	opts     Options
	recorder *metrics.Recorder

	start   time.Time
	ceiling time.Duration

	// execCtx is detached from the caller so cancellation lets in-flight
	// requests finish; cancelExec aborts them on a hard timeout or drain expiry.
	execCtx    context.Context
	cancelExec context.CancelFunc

	inFlight sync.WaitGroup

	mu         sync.Mutex
	issued     int
	lastErr    error
	ceilingHit bool
}

func newRun(ctx context.Context, testID string, executor orchestrator.RequestExecutor, c clock.Clock, logger *zap.Logger, opts Options, s *spec.LoadTestSpec) *run {
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var ceiling time.Duration
	if s.Duration != nil && *s.Duration > 0 {
		ceiling = s.Duration.Std()
	}

	return &run{
		testID:     testID,
		executor:   executor,
		clock:      c,
		logger:     logger,
		opts:       opts,
		recorder:   metrics.NewRecorder(c),
		start:      c.Now(),
		ceiling:    ceiling,
		execCtx:    execCtx,
		cancelExec: cancel,
	}
}

// pastCeiling reports whether offset lies beyond the duration ceiling.
func (r *run) pastCeiling(offset time.Duration) bool {
	if r.ceiling <= 0 {
		return false
	}
	if offset > r.ceiling || r.clock.Now().Sub(r.start) >= r.ceiling {
		r.markCeiling()
		return true
	}
	return false
}

// ceilingTimer fires when the duration ceiling is reached. Without a
// ceiling it returns nil, which never fires in a select.
func (r *run) ceilingTimer() <-chan time.Time {
	if r.ceiling <= 0 {
		return nil
	}
	return r.clock.After(r.start.Add(r.ceiling).Sub(r.clock.Now()))
}

func (r *run) markCeiling() {
	r.mu.Lock()
	r.ceilingHit = true
	r.mu.Unlock()
}

func (r *run) ceilingReached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ceilingHit
}

// waitUntil sleeps until start+offset.
func (r *run) waitUntil(ctx context.Context, offset time.Duration) error {
	return r.clock.Sleep(ctx, r.start.Add(offset).Sub(r.clock.Now()))
}

// dispatchTime is the later of the scheduled dispatch time and the clock.
func (r *run) dispatchTime(scheduled time.Time) time.Time {
	now := r.clock.Now()
	if scheduled.After(now) {
		return scheduled
	}
	return now
}

// execute issues req synchronously and records the sample stamped ts.
func (r *run) execute(req spec.Request, ts time.Time) orchestrator.RequestSample {
	r.mu.Lock()
	r.issued++
	r.mu.Unlock()

	r.recorder.Begin()
	out := r.executor.Execute(r.execCtx, req)
	r.recorder.End()

	sample := orchestrator.RequestSample{
		Timestamp:         ts,
		LatencyMs:         out.LatencyMs,
		Success:           out.Success && out.Err == nil,
		ResponseBytes:     out.ResponseBytes,
		TimeToFirstByteMs: out.TimeToFirstByteMs,
		Request:           req.Name,
	}
	r.recorder.Record(sample)

	if !sample.Success {
		r.mu.Lock()
		if out.Err != nil {
			r.lastErr = out.Err
		} else {
			r.lastErr = errors.New("request reported failure")
		}
		r.mu.Unlock()
	}

	if r.opts.OnSample != nil {
		r.opts.OnSample(r.testID, sample)
	}
	return sample
}

// progress calls OnProgress periodically until stop is closed.
func (r *run) progress(stop <-chan struct{}) {
	if r.opts.OnProgress == nil {
		return
	}
	ticker := time.NewTicker(r.opts.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.opts.OnProgress(r.testID, r.recorder.Snapshot())
		}
	}
}

// drain waits for in-flight requests. After a ceiling they get DrainTimeout
// before being cancelled; a hard timeout cancels them immediately.
func (r *run) drain(ceilingReached bool) {
	done := make(chan struct{})
	go func() {
		r.inFlight.Wait()
		close(done)
	}()

	if ceilingReached {
		if r.opts.HardTimeout {
			r.cancelExec()
		} else {
			timer := time.NewTimer(r.opts.DrainTimeout)
			defer timer.Stop()
			select {
			case <-done:
			case <-timer.C:
				r.logger.Warn("drain timeout expired, cancelling in-flight requests",
					zap.String("test", r.testID),
					zap.Duration("drainTimeout", r.opts.DrainTimeout))
				r.cancelExec()
			}
		}
	}
	<-done
	r.cancelExec()
}

// finish builds the result and the run's error.
func (r *run) finish(ctx context.Context, scheduled int) (*Result, error) {
	end := r.clock.Now()
	samples := r.recorder.Samples()

	r.mu.Lock()
	issued := r.issued
	lastErr := r.lastErr
	ceilingReached := r.ceilingHit
	r.mu.Unlock()

	result := &Result{
		TestID:         r.testID,
		Scheduled:      scheduled,
		Issued:         issued,
		Samples:        samples,
		Metrics:        metrics.Aggregate(samples),
		Requests:       r.recorder.RequestStats(),
		CeilingReached: ceilingReached,
		Cancelled:      ctx.Err() != nil,
		StartTime:      r.start,
		EndTime:        end,
		Duration:       end.Sub(r.start),
	}

	if r.opts.OnProgress != nil {
		r.opts.OnProgress(r.testID, r.recorder.Snapshot())
	}

	r.logger.Info("test finished",
		zap.String("test", r.testID),
		zap.Int("scheduled", scheduled),
		zap.Int("issued", issued),
		zap.Int64("failed", result.Metrics.FailedRequests),
		zap.Bool("ceilingReached", ceilingReached),
		zap.Bool("cancelled", result.Cancelled))

	switch {
	case result.Cancelled:
		return result, ctx.Err()
	case ceilingReached && r.opts.HardTimeout:
		return result, &errs.TimeoutError{Test: r.testID, Ceiling: r.ceiling}
	case issued > 0 && result.Metrics.FailedRequests == int64(issued):
		return result, &errs.ExecutionError{
			Test:    r.testID,
			Failed:  result.Metrics.FailedRequests,
			Total:   int64(issued),
			LastErr: lastErr,
		}
	}
	return result, nil
}
