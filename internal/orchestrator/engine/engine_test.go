package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/loadctl/internal/config"
	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/batch"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/clock"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/errs"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/metrics"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/runner"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/selector"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeExecutor succeeds with a fixed latency except for URLs containing "bad".
func fakeExecutor(latency float64) orchestrator.ExecutorFunc {
	return func(ctx context.Context, req spec.Request) orchestrator.Outcome {
		if strings.Contains(req.URL, "bad") {
			return orchestrator.Outcome{LatencyMs: latency, Err: errors.New("connection refused")}
		}
		return orchestrator.Outcome{Success: true, LatencyMs: latency, ResponseBytes: 200}
	}
}

func plainSpec() *spec.LoadTestSpec {
	return &spec.LoadTestSpec{
		ID: "api",
		Requests: []spec.Request{
			{Name: "list", URL: "http://svc/items"},
			{Name: "get", URL: "http://svc/items/1"},
		},
		LoadPattern: spec.LoadPattern{Type: spec.PatternConstant, VirtualUsers: 2, Iterations: 3},
		Duration:    spec.DurationPtr(6 * time.Second),
		Assertions: []spec.Assertion{
			{Name: "fast", Type: spec.AssertResponseTime, Condition: spec.LessThan, Expected: 50},
			{Name: "healthy", Type: spec.AssertCustom, Expression: "{{errorRate}} == 0 && {{successRate}} > 0.99"},
		},
	}
}

func batchSpec() *spec.LoadTestSpec {
	return &spec.LoadTestSpec{
		ID: "nightly",
		Batch: &spec.BatchTestSpec{
			Name:          "nightly",
			ExecutionMode: spec.ModeParallel,
			LoadPattern:   &spec.LoadPattern{Type: spec.PatternConstant, VirtualUsers: 1, Iterations: 2},
			Tests: []spec.BatchTestItem{
				{
					ID:       "good",
					Requests: []spec.Request{{Name: "ok", URL: "http://svc/ok"}},
					Assertions: []spec.Assertion{
						{Name: "good is fast", Type: spec.AssertResponseTime, Condition: spec.LessThan, Expected: 100},
					},
				},
				{ID: "bad", Requests: []spec.Request{{Name: "broken", URL: "http://svc/bad"}}},
			},
		},
	}
}

func newEngine(opts ...Option) *Engine {
	base := []Option{
		WithClock(clock.NewFake(epoch)),
		WithRunID(func() string { return "run-1" }),
	}
	return New(fakeExecutor(10), append(base, opts...)...)
}

func TestRun_PatternRunner(t *testing.T) {
	var observed atomic.Int64
	e := newEngine(WithSampleObserver(func(string, orchestrator.RequestSample) { observed.Add(1) }))

	rep, err := e.Run(context.Background(), plainSpec())
	require.NoError(t, err)

	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, "api", rep.TestID)
	assert.Equal(t, spec.TestTypeLoad, rep.TestType)
	assert.Equal(t, selector.StrategyPatternRunner, rep.Selection.Strategy)
	assert.Equal(t, selector.StrategyPatternRunner, rep.ExecutedBy)

	require.NotNil(t, rep.Run)
	assert.Nil(t, rep.Batch)
	assert.Equal(t, 12, rep.Run.Scheduled)
	assert.Equal(t, int64(12), rep.Metrics.TotalRequests)
	assert.Equal(t, int64(12), observed.Load())

	require.Len(t, rep.Assertions, 2)
	assert.True(t, rep.Assertions[0].Passed)
	assert.True(t, rep.Assertions[1].Passed, rep.Assertions[1].Message)
	assert.Equal(t, "stable", rep.Analysis.LatencyTrend.Direction)

	assert.True(t, rep.Passed())
	assert.Equal(t, ExitPassed, rep.ExitCode())
	assert.Empty(t, rep.Warnings)
}

func TestRun_DoesNotMutateInput(t *testing.T) {
	s := plainSpec()
	_, err := newEngine().Run(context.Background(), s)
	require.NoError(t, err)

	assert.Empty(t, string(s.TestType), "defaults are applied to a copy")
	assert.Empty(t, s.Requests[0].Method)
}

func TestRun_AssertionFailure(t *testing.T) {
	s := plainSpec()
	s.Assertions = append(s.Assertions, spec.Assertion{
		Name: "too strict", Type: spec.AssertResponseTime, Condition: spec.LessThan, Expected: 5,
	})

	rep, err := newEngine().Run(context.Background(), s)
	require.NoError(t, err, "assertion failures are reported, not returned")

	failed := rep.FailedAssertions()
	require.Len(t, failed, 1)
	assert.Equal(t, "too strict", failed[0].Name)
	assert.False(t, rep.Passed())
	assert.Equal(t, ExitAssertionsFailed, rep.ExitCode())
}

func TestRun_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*spec.LoadTestSpec)
		wantField string
	}{
		{"missing id", func(s *spec.LoadTestSpec) { s.ID = "" }, "id"},
		{"unsafe custom expression", func(s *spec.LoadTestSpec) {
			s.Assertions = []spec.Assertion{{Name: "x", Type: spec.AssertCustom, Expression: "os.Exit(1)"}}
		}, "assertions[0].expression"},
		{"no shape", func(s *spec.LoadTestSpec) { s.Requests = nil }, "one of requests, workflow or batch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := plainSpec()
			tt.modify(s)

			rep, err := newEngine().Run(context.Background(), s)
			assert.Nil(t, rep)
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err), "error should be a validation error: %v", err)
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}

func TestValidate_BatchAssertionExpressions(t *testing.T) {
	s := batchSpec()
	s.Batch.Tests[1].Assertions = []spec.Assertion{{Name: "bad expr", Type: spec.AssertCustom, Expression: "{{latency}} < 5"}}

	err := newEngine().Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.tests[1].assertions[0].expression")
}

type heavyRunner struct {
	calls atomic.Int32
}

func (h *heavyRunner) Run(ctx context.Context, s *spec.LoadTestSpec) (*runner.Result, error) {
	h.calls.Add(1)
	return &runner.Result{
		TestID:  s.ID,
		Metrics: metrics.AggregatedMetrics{TotalRequests: 1_000_000, SuccessfulRequests: 1_000_000},
	}, nil
}

func enduranceSpec() *spec.LoadTestSpec {
	s := plainSpec()
	s.TestType = spec.TestTypeEndurance
	s.Assertions = nil
	return s
}

func TestRun_HeavyLoad(t *testing.T) {
	t.Run("external runner", func(t *testing.T) {
		heavy := &heavyRunner{}
		rep, err := newEngine(WithHeavyLoadRunner(heavy)).Run(context.Background(), enduranceSpec())
		require.NoError(t, err)

		assert.Equal(t, int32(1), heavy.calls.Load())
		assert.Equal(t, selector.StrategyHeavyLoad, rep.ExecutedBy)
		assert.Equal(t, int64(1_000_000), rep.Metrics.TotalRequests)
		assert.Empty(t, rep.Warnings)
	})

	t.Run("fallback to pattern runner", func(t *testing.T) {
		rep, err := newEngine().Run(context.Background(), enduranceSpec())
		require.NoError(t, err)

		assert.Equal(t, selector.StrategyHeavyLoad, rep.Selection.Strategy)
		assert.Equal(t, selector.StrategyPatternRunner, rep.ExecutedBy)
		require.Len(t, rep.Warnings, 1)
		assert.Contains(t, rep.Warnings[0], "no heavy-load runner is configured")
		assert.Equal(t, int64(12), rep.Metrics.TotalRequests)
	})

	t.Run("fallback disabled", func(t *testing.T) {
		cfg := config.Default()
		cfg.Engine.FallbackToPatternRunner = false

		rep, err := newEngine(WithConfig(cfg)).Run(context.Background(), enduranceSpec())
		assert.Nil(t, rep)
		assert.ErrorIs(t, err, ErrNoHeavyLoadRunner)
	})
}

func TestRun_Workflow(t *testing.T) {
	s := &spec.LoadTestSpec{
		ID: "journey",
		Workflow: []spec.WorkflowStep{
			{Name: "browse", Requests: []spec.Request{{URL: "http://svc/"}}},
			{Name: "buy", Requests: []spec.Request{{URL: "http://svc/cart"}, {URL: "http://svc/pay"}}},
		},
		LoadPattern: spec.LoadPattern{VirtualUsers: 2},
	}

	rep, err := newEngine().Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, selector.StrategyWorkflow, rep.ExecutedBy)
	assert.Equal(t, int64(6), rep.Metrics.TotalRequests)
}

func TestRun_BatchPartial(t *testing.T) {
	rep, err := newEngine().Run(context.Background(), batchSpec())
	require.NoError(t, err, "partial batches are not errors")

	assert.Equal(t, selector.StrategyBatch, rep.ExecutedBy)
	require.NotNil(t, rep.Batch)
	assert.Equal(t, batch.StatusPartial, rep.Batch.Status)
	assert.Equal(t, 1, rep.Batch.Completed)
	assert.Equal(t, 1, rep.Batch.Failed)

	require.NotEmpty(t, rep.Warnings)
	assert.Contains(t, rep.Warnings[0], "test bad failed")

	assert.Equal(t, int64(2), rep.Metrics.TotalRequests, "only completed tests are aggregated")
	assert.Empty(t, rep.FailedAssertions())
	assert.Equal(t, ExitPassed, rep.ExitCode())
}

func TestRun_BatchAllFailed(t *testing.T) {
	s := batchSpec()
	s.Batch.Tests = s.Batch.Tests[1:]

	rep, err := newEngine().Run(context.Background(), s)
	require.Error(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, batch.StatusFailed, rep.Batch.Status)
	assert.Contains(t, rep.Error, "none of its 1 tests completed")
	assert.Equal(t, ExitError, rep.ExitCode())
}

func TestRun_BatchSubTestAssertionsCount(t *testing.T) {
	s := batchSpec()
	s.Batch.Tests[0].Assertions[0].Expected = 1

	rep, err := newEngine().Run(context.Background(), s)
	require.NoError(t, err)

	failed := rep.FailedAssertions()
	require.Len(t, failed, 1)
	assert.Equal(t, "good is fast", failed[0].Name)
	assert.Equal(t, ExitAssertionsFailed, rep.ExitCode())
}

type memArchive struct {
	mu     sync.Mutex
	writes map[string]int
	fail   bool
}

func (m *memArchive) Write(ctx context.Context, runID, testID string, samples []orchestrator.RequestSample) error {
	if m.fail {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writes == nil {
		m.writes = map[string]int{}
	}
	m.writes[runID+"/"+testID] += len(samples)
	return nil
}

func (m *memArchive) Close() error { return nil }

func TestRun_Archive(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		a := &memArchive{}
		rep, err := newEngine(WithArchive(a)).Run(context.Background(), plainSpec())
		require.NoError(t, err)

		assert.Equal(t, map[string]int{"run-1/api": 12}, a.writes)
		assert.Equal(t, 12, rep.ArchivedSamples)
	})

	t.Run("batch writes one entry per test with samples", func(t *testing.T) {
		a := &memArchive{}
		rep, err := newEngine(WithArchive(a)).Run(context.Background(), batchSpec())
		require.NoError(t, err)

		assert.Equal(t, map[string]int{"run-1/good": 2}, a.writes)
		assert.Equal(t, 2, rep.ArchivedSamples)
	})

	t.Run("failure is a warning", func(t *testing.T) {
		rep, err := newEngine(WithArchive(&memArchive{fail: true})).Run(context.Background(), plainSpec())
		require.NoError(t, err)

		assert.Zero(t, rep.ArchivedSamples)
		require.Len(t, rep.Warnings, 1)
		assert.Equal(t, "archive: disk full", rep.Warnings[0])
		assert.Equal(t, ExitPassed, rep.ExitCode())
	})
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := newEngine().Run(ctx, plainSpec())
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep, "cancelled runs still report")
	assert.True(t, rep.Cancelled)
	assert.Equal(t, ExitError, rep.ExitCode())
}

type recordingReporter struct {
	batch.NoopReporter
	mu       sync.Mutex
	finished []string
}

func (r *recordingReporter) TestFinished(_ string, res batch.TestResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, res.TestID+":"+string(res.Status))
}

func TestRun_Reporter(t *testing.T) {
	rec := &recordingReporter{}
	_, err := newEngine(WithReporter(rec)).Run(context.Background(), batchSpec())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"good:completed", "bad:failed"}, rec.finished)
}

func TestRun_Deterministic(t *testing.T) {
	run := func() *Report {
		rep, err := newEngine().Run(context.Background(), batchSpec())
		require.NoError(t, err)
		return rep
	}

	first, second := run(), run()
	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, first.Batch.Tests[0].Assertions, second.Batch.Tests[0].Assertions)
}

func TestPlan(t *testing.T) {
	e := newEngine()

	p, err := e.Plan(plainSpec())
	require.NoError(t, err)
	assert.Equal(t, selector.StrategyPatternRunner, p.Selection.Strategy)
	assert.Equal(t, 12, p.Schedule.Len())
	assert.Equal(t, 5500*time.Millisecond, p.Schedule.Span())
	assert.Empty(t, p.Tests)

	s := batchSpec()
	s.Batch.Tests[1].Dependencies = []string{"good"}
	p, err = e.Plan(s)
	require.NoError(t, err)
	assert.Equal(t, selector.StrategyBatch, p.Selection.Strategy)
	require.Len(t, p.Tests, 2)
	assert.Equal(t, "good", p.Tests[0].TestID)
	assert.Equal(t, 2, p.Tests[0].Schedule.Len())
	assert.Equal(t, []string{"good"}, p.Tests[1].Dependencies)

	s.ID = ""
	_, err = e.Plan(s)
	assert.True(t, errs.IsValidation(err))
}
