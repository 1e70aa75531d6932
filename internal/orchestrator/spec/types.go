// Package spec provides the declarative load test model consumed by the
// orchestration engine.
//
// Example YAML:
//
//	id: checkout
//	testType: load
//	loadPattern:
//	  type: spike
//	  virtualUsers: 20
//	  requestsPerSecond: 50
//	duration: 2m
//	requests:
//	  - name: "List carts"
//	    method: GET
//	    url: "{{baseUrl}}/api/carts"
//	assertions:
//	  - name: "fast enough"
//	    type: response_time
//	    condition: less_than
//	    expected: 250
package spec

import (
	"time"
)

// TestType classifies the intent of a test.
type TestType string

const (
	TestTypeLoad      TestType = "load"
	TestTypeStress    TestType = "stress"
	TestTypeSpike     TestType = "spike"
	TestTypeEndurance TestType = "endurance"
	TestTypeVolume    TestType = "volume"
	TestTypeSmoke     TestType = "smoke"
)

// PatternType identifies the temporal shape of traffic.
type PatternType string

const (
	PatternConstant    PatternType = "constant"
	PatternRampUp      PatternType = "ramp-up"
	PatternSpike       PatternType = "spike"
	PatternStep        PatternType = "step"
	PatternRandomBurst PatternType = "random-burst"
)

// ExecutionMode controls how batch sub-tests are dispatched.
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
)

// LoadTestSpec is the root specification of a single run.
//
// Exactly one of Requests, Workflow or Batch is the primary execution shape.
type LoadTestSpec struct {
	// ID identifies the test in results and archives
	ID string `json:"id" yaml:"id"`

	// Name is a human readable label (optional)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	TestType TestType `json:"testType,omitempty" yaml:"testType,omitempty"`

	// Requests are issued round-robin by the pattern runner
	Requests []Request `json:"requests,omitempty" yaml:"requests,omitempty"`

	// Workflow steps are walked in order by every virtual user
	Workflow []WorkflowStep `json:"workflow,omitempty" yaml:"workflow,omitempty"`

	// Batch groups independent sub-tests
	Batch *BatchTestSpec `json:"batch,omitempty" yaml:"batch,omitempty"`

	LoadPattern LoadPattern `json:"loadPattern,omitempty" yaml:"loadPattern,omitempty"`

	// Duration is the optional test duration; it also acts as the per-test ceiling
	Duration *Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	Assertions []Assertion `json:"assertions,omitempty" yaml:"assertions,omitempty"`

	// Variables are substituted into {{name}} placeholders by the HTTP executor
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Request is a single request template handed to the RequestExecutor.
type Request struct {
	Name    string            `json:"name,omitempty" yaml:"name,omitempty"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`

	// MediaType marks requests carrying media uploads (image, audio, ...)
	MediaType string `json:"mediaType,omitempty" yaml:"mediaType,omitempty"`

	// Validate marks requests whose responses are validated by the executor
	Validate bool `json:"validate,omitempty" yaml:"validate,omitempty"`

	// Timeout is the per-request timeout enforced by the executor
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// WorkflowStep is one step of a multi-request user journey.
type WorkflowStep struct {
	Name      string    `json:"name" yaml:"name"`
	Requests  []Request `json:"requests" yaml:"requests"`
	ThinkTime Duration  `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
}

// LoadPattern describes the traffic shape.
type LoadPattern struct {
	Type PatternType `json:"type,omitempty" yaml:"type,omitempty"`

	// VirtualUsers bounds concurrency; 0 means "not set" (defaults to 1)
	VirtualUsers int `json:"virtualUsers,omitempty" yaml:"virtualUsers,omitempty"`

	// Iterations per virtual user (defaults to 1)
	Iterations int `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// RequestsPerSecond is the target (ramp end / peak) rate and dispatch cap
	RequestsPerSecond float64 `json:"requestsPerSecond,omitempty" yaml:"requestsPerSecond,omitempty"`

	// StartRate is the ramp-up starting rate (defaults to 1 rps)
	StartRate float64 `json:"startRate,omitempty" yaml:"startRate,omitempty"`

	RampUpTime   Duration `json:"rampUpTime,omitempty" yaml:"rampUpTime,omitempty"`
	PlateauTime  Duration `json:"plateauTime,omitempty" yaml:"plateauTime,omitempty"`
	RampDownTime Duration `json:"rampDownTime,omitempty" yaml:"rampDownTime,omitempty"`

	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Steps are the request counts of the step pattern
	Steps     []int    `json:"steps,omitempty" yaml:"steps,omitempty"`
	StepDwell Duration `json:"stepDwell,omitempty" yaml:"stepDwell,omitempty"`

	// BurstProportions split requests across bursts (default 0.3, 0.5, 0.2)
	BurstProportions []float64 `json:"burstProportions,omitempty" yaml:"burstProportions,omitempty"`
	BurstDelayMin    Duration  `json:"burstDelayMin,omitempty" yaml:"burstDelayMin,omitempty"`
	BurstDelayMax    Duration  `json:"burstDelayMax,omitempty" yaml:"burstDelayMax,omitempty"`

	// Seed makes random-burst delays reproducible
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Stage defines a stage of a staged pattern.
type Stage struct {
	Duration Duration `json:"duration" yaml:"duration"`
	Target   int      `json:"target" yaml:"target"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
}

// BatchTestSpec groups independent sub-tests under one concurrency policy.
type BatchTestSpec struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	ExecutionMode ExecutionMode `json:"executionMode,omitempty" yaml:"executionMode,omitempty"`

	// Concurrency is the parallel chunk size; 0 means all tests in one chunk
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// DelayBetweenTests applies in sequential mode
	DelayBetweenTests *Duration `json:"delayBetweenTests,omitempty" yaml:"delayBetweenTests,omitempty"`

	// LoadPattern and Duration are baseline defaults copied into every sub-test
	LoadPattern *LoadPattern `json:"loadPattern,omitempty" yaml:"loadPattern,omitempty"`
	Duration    *Duration    `json:"duration,omitempty" yaml:"duration,omitempty"`

	Tests []BatchTestItem `json:"tests" yaml:"tests"`
}

// BatchTestItem is a single sub-test of a batch.
type BatchTestItem struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	TestType TestType `json:"testType,omitempty" yaml:"testType,omitempty"`

	ExecutionOrder int `json:"executionOrder,omitempty" yaml:"executionOrder,omitempty"`

	// Retries is the maximum number of retries after the first attempt
	Retries int `json:"retries,omitempty" yaml:"retries,omitempty"`

	// Dependencies are IDs of tests that must complete before this one starts
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	Assertions []Assertion `json:"assertions,omitempty" yaml:"assertions,omitempty"`

	Requests []Request      `json:"requests,omitempty" yaml:"requests,omitempty"`
	Workflow []WorkflowStep `json:"workflow,omitempty" yaml:"workflow,omitempty"`

	// Overrides of the batch baseline
	LoadPattern *LoadPattern `json:"loadPattern,omitempty" yaml:"loadPattern,omitempty"`
	Duration    *Duration    `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// AssertionType selects which aggregated metric an assertion checks.
type AssertionType string

const (
	AssertResponseTime AssertionType = "response_time"
	AssertSuccessRate  AssertionType = "success_rate"
	AssertThroughput   AssertionType = "throughput"
	AssertErrorRate    AssertionType = "error_rate"
	AssertCustom       AssertionType = "custom"
	AssertMetric       AssertionType = "metric"
)

// Condition is the comparison applied by an assertion.
type Condition string

const (
	LessThan           Condition = "less_than"
	LessThanOrEqual    Condition = "less_than_or_equal"
	GreaterThan        Condition = "greater_than"
	GreaterThanOrEqual Condition = "greater_than_or_equal"
	Equals             Condition = "equals"
	NotEquals          Condition = "not_equals"
	Contains           Condition = "contains"
)

// Assertion is a declared pass/fail condition over aggregated metrics.
type Assertion struct {
	Name      string        `json:"name" yaml:"name"`
	Type      AssertionType `json:"type" yaml:"type"`
	Condition Condition     `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Expected is a number for numeric conditions or any value for contains
	Expected any `json:"expected,omitempty" yaml:"expected,omitempty"`

	Tolerance float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`

	// Expression is the placeholder expression of a custom assertion
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// Path addresses a field of the aggregated metrics for metric assertions
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DurationPtr returns a pointer to a Duration, for building specs in code.
func DurationPtr(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}
