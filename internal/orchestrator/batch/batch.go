// Package batch runs the sub-tests of a BatchTestSpec under a parallel or
// sequential policy.
//
// Parallel batches launch tests in chunks of Concurrency and wait for every
// test of a chunk to settle before the next chunk starts. Sequential batches
// run one test at a time ordered by executionOrder. Failed tests are retried
// with a linearly increasing delay; a test that still fails is recorded as
// failed and never aborts its siblings. Tests whose dependencies did not
// complete are skipped.
package batch

import (
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/assertion"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/metrics"
)

// Status of a batch or of one of its tests.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPartial   Status = "partial"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// PercentileSource selects how batch-level latency percentiles are computed.
type PercentileSource string

const (
	// PercentilesPerTestAverage computes percentiles over the distribution of
	// per-test average latencies. Tail latency of individual requests is not
	// visible at this level.
	PercentilesPerTestAverage PercentileSource = "per-test-average"

	// PercentilesRawSamples computes percentiles over every raw sample of
	// every completed test.
	PercentilesRawSamples PercentileSource = "raw-samples"
)

// Options configures the scheduler.
type Options struct {
	// Concurrency is the chunk size used when the batch does not set one;
	// 0 runs every test in a single chunk
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// RetryBaseDelay is the delay before retry k is k×RetryBaseDelay (default: 1s)
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay" json:"retryBaseDelay"`

	// DelayBetweenTests is the sequential delay used when the batch does not
	// set one (default: 1s)
	DelayBetweenTests time.Duration `yaml:"delayBetweenTests" json:"delayBetweenTests"`

	PercentileSource PercentileSource `yaml:"percentileSource" json:"percentileSource"`
}

// DefaultOptions returns the default scheduler options.
func DefaultOptions() Options {
	return Options{
		RetryBaseDelay:    time.Second,
		DelayBetweenTests: time.Second,
		PercentileSource:  PercentilesPerTestAverage,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = d.RetryBaseDelay
	}
	if o.DelayBetweenTests < 0 {
		o.DelayBetweenTests = 0
	}
	if o.PercentileSource == "" {
		o.PercentileSource = d.PercentileSource
	}
	if o.Concurrency < 0 {
		o.Concurrency = 0
	}
	return o
}

// TestResult is the outcome of one sub-test.
type TestResult struct {
	TestID string `json:"testId"`
	Name   string `json:"name,omitempty"`
	Status Status `json:"status"`

	// Attempts is the number of times the test was launched
	Attempts int `json:"attempts"`

	// Chunk is the zero-based launch group (sequential: the position)
	Chunk int `json:"chunk"`

	Metrics    metrics.AggregatedMetrics `json:"metrics"`
	Assertions []assertion.Result        `json:"assertions,omitempty"`

	Error string `json:"error,omitempty"`

	Samples []orchestrator.RequestSample `json:"-"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
}

// Failed reports whether the test counts as a failure for batch status.
func (r TestResult) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusSkipped
}

// Result is the outcome of a whole batch.
type Result struct {
	Name   string       `json:"name,omitempty"`
	Status Status       `json:"status"`
	Tests  []TestResult `json:"tests"`

	Metrics          metrics.AggregatedMetrics `json:"metrics"`
	PercentileSource PercentileSource          `json:"percentileSource"`

	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`

	// Warnings describe partial failures; they are not process failures
	Warnings []string `json:"warnings,omitempty"`

	// Error is set when the scheduler itself faulted
	Error string `json:"error,omitempty"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
}

// Samples returns the raw samples of every test, in test order.
func (r *Result) Samples() []orchestrator.RequestSample {
	var out []orchestrator.RequestSample
	for _, t := range r.Tests {
		out = append(out, t.Samples...)
	}
	return out
}

// Reporter observes batch progress. Implementations must be safe for
// concurrent use.
type Reporter interface {
	TestStarted(batch, test string)
	TestFinished(batch string, r TestResult)
	RetryScheduled(batch, test string, attempt int, delay time.Duration)
}

// NoopReporter discards every event.
type NoopReporter struct{}

func (NoopReporter) TestStarted(string, string)                        {}
func (NoopReporter) TestFinished(string, TestResult)                   {}
func (NoopReporter) RetryScheduled(string, string, int, time.Duration) {}
