package assertion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/errs"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/metrics"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/stats"
)

func sampleMetrics(avg float64) metrics.AggregatedMetrics {
	return metrics.AggregatedMetrics{
		TotalRequests:      200,
		SuccessfulRequests: 190,
		FailedRequests:     10,
		Latency:            stats.PercentileSet{Min: 5, Max: 900, Avg: avg, P50: 80, P90: 200, P95: 350, P99: 800},
		Throughput:         stats.ThroughputMetrics{RequestsPerSecond: 40, BytesPerSecond: 4000},
		ErrorRate:          0.05,
	}
}

func TestEvaluate_Conditions(t *testing.T) {
	tests := []struct {
		name      string
		assertion spec.Assertion
		avg       float64
		want      bool
	}{
		{"less_than passes", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.LessThan, Expected: 150}, 100, true},
		{"less_than fails", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.LessThan, Expected: 50}, 100, false},
		{"less_than equal value fails", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.LessThan, Expected: 100}, 100, false},
		{"less_than_or_equal", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.LessThanOrEqual, Expected: 100}, 100, true},
		{"greater_than", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.GreaterThan, Expected: 99.5}, 100, true},
		{"greater_than_or_equal", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.GreaterThanOrEqual, Expected: 101}, 100, false},
		{"equals within tolerance", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.Equals, Expected: 103, Tolerance: 5}, 100, true},
		{"equals outside tolerance", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.Equals, Expected: 103, Tolerance: 5}, 110, false},
		{"equals exact", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.Equals, Expected: 100.0}, 100, true},
		{"not_equals within tolerance", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.NotEquals, Expected: 103, Tolerance: 5}, 100, false},
		{"not_equals outside tolerance", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.NotEquals, Expected: 103, Tolerance: 5}, 110, true},
		{"expected as string", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.LessThan, Expected: "150"}, 100, true},
		{"expected not numeric", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.LessThan, Expected: "fast"}, 100, false},
		{"contains stringified", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.Contains, Expected: "12"}, 123.5, true},
		{"contains missing", spec.Assertion{Type: spec.AssertResponseTime, Condition: spec.Contains, Expected: "9"}, 123.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Evaluate([]spec.Assertion{tt.assertion}, sampleMetrics(tt.avg))
			require.Len(t, results, 1)
			assert.Equal(t, tt.want, results[0].Passed, results[0].Message)
			if !tt.want {
				assert.NotEmpty(t, results[0].Message)
			}
		})
	}
}

func TestEvaluate_MetricMapping(t *testing.T) {
	m := sampleMetrics(120)
	results := Evaluate([]spec.Assertion{
		{Name: "rt", Type: spec.AssertResponseTime, Condition: spec.Equals, Expected: 120},
		{Name: "success", Type: spec.AssertSuccessRate, Condition: spec.Equals, Expected: 0.95, Tolerance: 1e-9},
		{Name: "tput", Type: spec.AssertThroughput, Condition: spec.GreaterThanOrEqual, Expected: 40},
		{Name: "errors", Type: spec.AssertErrorRate, Condition: spec.LessThan, Expected: 0.1},
	}, m)

	require.Len(t, results, 4)
	assert.Equal(t, 120.0, results[0].Actual)
	assert.Equal(t, 0.95, results[1].Actual)
	assert.Equal(t, 40.0, results[2].Actual)
	assert.Equal(t, 0.05, results[3].Actual)
	assert.True(t, AllPassed(results))
}

func TestEvaluate_IndependentResults(t *testing.T) {
	results := Evaluate([]spec.Assertion{
		{Name: "bad expr", Type: spec.AssertCustom, Expression: "{{nope}} > 1"},
		{Name: "fails", Type: spec.AssertErrorRate, Condition: spec.LessThan, Expected: 0.01},
		{Name: "passes", Type: spec.AssertThroughput, Condition: spec.GreaterThan, Expected: 1},
	}, sampleMetrics(100))

	require.Len(t, results, 3)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "unknown placeholder")
	assert.False(t, results[1].Passed)
	assert.True(t, results[2].Passed)

	failed := Failed(results)
	require.Len(t, failed, 2)
	assert.Equal(t, "bad expr", failed[0].Name)
	assert.False(t, AllPassed(results))
}

func TestEvaluate_Custom(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		condition  spec.Condition
		expected   any
		want       bool
		wantActual any
	}{
		{"boolean expression", "{{responseTime}} < 200 && {{errorRate}} < 0.1", "", nil, true, true},
		{"false boolean", "{{successRate}} > 0.99", "", nil, false, false},
		{"arithmetic with condition", "{{throughput}} * 2", spec.GreaterThan, 70, true, 80.0},
		{"arithmetic truthiness", "{{errorRate}} - 0.05", "", nil, false, 0.0},
		{"boolean with equals", "{{throughput}} >= 40", spec.Equals, "true", true, true},
		{"division by zero", "{{responseTime}} / 0", spec.LessThan, 1, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Evaluate([]spec.Assertion{{
				Name:       tt.name,
				Type:       spec.AssertCustom,
				Expression: tt.expression,
				Condition:  tt.condition,
				Expected:   tt.expected,
			}}, sampleMetrics(100))

			require.Len(t, results, 1)
			assert.Equal(t, tt.want, results[0].Passed, results[0].Message)
			if tt.wantActual != nil {
				assert.InDelta(t, toAny(tt.wantActual), toAny(results[0].Actual), 1e-9)
			}
		})
	}
}

func toAny(v any) float64 {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return x
	}
	return -1
}

func TestEvaluate_MetricPath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		condition spec.Condition
		expected  any
		want      bool
	}{
		{"p95 below budget", "latency.p95", spec.LessThan, 400, true},
		{"p99 over budget", "latency.p99", spec.LessThan, 500, false},
		{"bytes per second", "throughput.bytesPerSecond", spec.Equals, 4000, true},
		{"failed count", "failedRequests", spec.LessThanOrEqual, 10, true},
		{"missing path", "latency.p999", spec.LessThan, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Evaluate([]spec.Assertion{{
				Type: spec.AssertMetric, Path: tt.path, Condition: tt.condition, Expected: tt.expected,
			}}, sampleMetrics(100))
			require.Len(t, results, 1)
			assert.Equal(t, tt.want, results[0].Passed, results[0].Message)
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	assertions := []spec.Assertion{
		{Type: spec.AssertResponseTime, Condition: spec.LessThan, Expected: 150},
		{Type: spec.AssertCustom, Expression: "{{successRate}} >= 0.9"},
		{Type: spec.AssertMetric, Path: "latency.p50", Condition: spec.Equals, Expected: 80},
	}
	m := sampleMetrics(100)
	first := Evaluate(assertions, m)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Evaluate(assertions, m))
	}
}

func TestValidate(t *testing.T) {
	err := Validate("assertions", []spec.Assertion{
		{Type: spec.AssertCustom, Expression: "{{responseTime}} < 100"},
		{Type: spec.AssertCustom, Expression: "os.Exit(1)"},
		{Type: spec.AssertResponseTime, Condition: spec.LessThan, Expected: 1},
	})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "assertions[1].expression")

	assert.NoError(t, Validate("assertions", nil))
}
