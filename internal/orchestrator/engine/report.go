package engine

import (
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/assertion"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/batch"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/metrics"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/runner"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/selector"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/stats"
)

// Process exit codes for a finished run.
const (
	ExitPassed           = 0
	ExitError            = 1
	ExitAssertionsFailed = 2
)

// Report is the result of one engine run, handed to output and archives.
type Report struct {
	RunID    string        `json:"runId"`
	TestID   string        `json:"testId"`
	Name     string        `json:"name"`
	TestType spec.TestType `json:"testType"`

	Selection selector.Result `json:"selection"`

	// ExecutedBy differs from Selection.Strategy after a fallback
	ExecutedBy selector.Strategy `json:"executedBy"`

	Run   *runner.Result `json:"run,omitempty"`
	Batch *batch.Result  `json:"batch,omitempty"`

	Metrics    metrics.AggregatedMetrics `json:"metrics"`
	Assertions []assertion.Result        `json:"assertions,omitempty"`
	Analysis   stats.Analysis            `json:"analysis"`

	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`

	Cancelled       bool `json:"cancelled,omitempty"`
	ArchivedSamples int  `json:"archivedSamples,omitempty"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
}

// FailedAssertions returns the failed top-level assertions followed by the
// failed assertions of batch sub-tests, in test order.
func (r *Report) FailedAssertions() []assertion.Result {
	failed := assertion.Failed(r.Assertions)
	if r.Batch != nil {
		for _, t := range r.Batch.Tests {
			failed = append(failed, assertion.Failed(t.Assertions)...)
		}
	}
	return failed
}

// Passed reports whether the run finished without error and every
// assertion passed.
func (r *Report) Passed() bool {
	return r.Error == "" && len(r.FailedAssertions()) == 0
}

// ExitCode maps the report to the process exit code.
func (r *Report) ExitCode() int {
	switch {
	case r.Error != "":
		return ExitError
	case len(r.FailedAssertions()) > 0:
		return ExitAssertionsFailed
	default:
		return ExitPassed
	}
}
