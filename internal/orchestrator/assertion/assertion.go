// Package assertion evaluates declared pass/fail conditions against
// aggregated run metrics.
//
// Every assertion is evaluated independently; a failing or malformed
// assertion never prevents the others from being reported. Assertion
// failures are results, not errors.
package assertion

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/errs"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/metrics"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

// Result is the outcome of one assertion.
type Result struct {
	Name      string             `json:"name"`
	Type      spec.AssertionType `json:"type"`
	Condition spec.Condition     `json:"condition,omitempty"`
	Expected  any                `json:"expected,omitempty"`
	Actual    any                `json:"actual"`
	Passed    bool               `json:"passed"`
	Message   string             `json:"message,omitempty"`
}

// Evaluate runs every assertion against m, in declaration order.
func Evaluate(assertions []spec.Assertion, m metrics.AggregatedMetrics) []Result {
	if len(assertions) == 0 {
		return nil
	}

	vars := Variables(m)
	var doc []byte

	results := make([]Result, 0, len(assertions))
	for _, a := range assertions {
		r := Result{
			Name:      a.Name,
			Type:      a.Type,
			Condition: a.Condition,
			Expected:  a.Expected,
		}

		switch a.Type {
		case spec.AssertResponseTime:
			r.Actual = m.Latency.Avg
			r.Passed, r.Message = check(a, m.Latency.Avg)
		case spec.AssertSuccessRate:
			r.Actual = m.SuccessRate()
			r.Passed, r.Message = check(a, m.SuccessRate())
		case spec.AssertThroughput:
			r.Actual = m.Throughput.RequestsPerSecond
			r.Passed, r.Message = check(a, m.Throughput.RequestsPerSecond)
		case spec.AssertErrorRate:
			r.Actual = m.ErrorRate
			r.Passed, r.Message = check(a, m.ErrorRate)
		case spec.AssertCustom:
			evaluateCustom(a, vars, &r)
		case spec.AssertMetric:
			if doc == nil {
				doc, _ = json.Marshal(m)
			}
			evaluateMetric(a, doc, &r)
		default:
			r.Message = fmt.Sprintf("unknown assertion type: %s", a.Type)
		}

		results = append(results, r)
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Failed returns the failing results.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Variables returns the placeholder values derived from m.
func Variables(m metrics.AggregatedMetrics) map[string]float64 {
	return map[string]float64{
		PlaceholderResponseTime: m.Latency.Avg,
		PlaceholderSuccessRate:  m.SuccessRate(),
		PlaceholderThroughput:   m.Throughput.RequestsPerSecond,
		PlaceholderErrorRate:    m.ErrorRate,
	}
}

// Validate checks that every custom expression parses.
func Validate(prefix string, assertions []spec.Assertion) error {
	ve := &errs.ValidationErrors{}
	for i, a := range assertions {
		if a.Type != spec.AssertCustom {
			continue
		}
		if _, err := ParseExpression(a.Expression); err != nil {
			ve.Add(fmt.Sprintf("%s[%d].expression", prefix, i), err.Error())
		}
	}
	return ve.Err()
}

func evaluateCustom(a spec.Assertion, vars map[string]float64, r *Result) {
	expr, err := ParseExpression(a.Expression)
	if err != nil {
		r.Message = fmt.Sprintf("invalid expression: %v", err)
		return
	}
	v, err := expr.Eval(vars)
	if err != nil {
		r.Message = fmt.Sprintf("evaluating %q: %v", a.Expression, err)
		return
	}

	if v.IsBool {
		r.Actual = v.Bool
		if a.Condition == "" {
			r.Passed = v.Bool
			if !r.Passed {
				r.Message = fmt.Sprintf("%s is false", a.Expression)
			}
			return
		}
		r.Passed, r.Message = checkAny(a, v.Bool)
		return
	}

	r.Actual = v.Num
	if a.Condition == "" {
		r.Passed = v.Num != 0
		if !r.Passed {
			r.Message = fmt.Sprintf("%s evaluated to 0", a.Expression)
		}
		return
	}
	r.Passed, r.Message = check(a, v.Num)
}

func evaluateMetric(a spec.Assertion, doc []byte, r *Result) {
	res := gjson.GetBytes(doc, a.Path)
	if !res.Exists() {
		r.Message = fmt.Sprintf("metric path %q not found", a.Path)
		return
	}
	if res.Type == gjson.Number {
		r.Actual = res.Float()
		r.Passed, r.Message = check(a, res.Float())
		return
	}
	r.Actual = res.Value()
	r.Passed, r.Message = checkAny(a, res.Value())
}

// check applies a's condition to a numeric actual value.
func check(a spec.Assertion, actual float64) (bool, string) {
	if a.Condition == spec.Contains {
		return checkContains(a, actual)
	}

	expected, ok := toFloat(a.Expected)
	if !ok {
		if a.Condition == spec.Equals || a.Condition == spec.NotEquals {
			return checkAny(a, actual)
		}
		return false, fmt.Sprintf("expected value %v is not a number", a.Expected)
	}

	var passed bool
	switch a.Condition {
	case spec.LessThan:
		passed = actual < expected
	case spec.LessThanOrEqual:
		passed = actual <= expected
	case spec.GreaterThan:
		passed = actual > expected
	case spec.GreaterThanOrEqual:
		passed = actual >= expected
	case spec.Equals:
		passed = math.Abs(actual-expected) <= a.Tolerance
	case spec.NotEquals:
		passed = math.Abs(actual-expected) > a.Tolerance
	default:
		return false, fmt.Sprintf("unknown condition: %s", a.Condition)
	}

	if passed {
		return true, ""
	}
	if a.Tolerance > 0 && (a.Condition == spec.Equals || a.Condition == spec.NotEquals) {
		return false, fmt.Sprintf("actual %s, expected %s %s (±%s)",
			formatFloat(actual), a.Condition, formatFloat(expected), formatFloat(a.Tolerance))
	}
	return false, fmt.Sprintf("actual %s, expected %s %s", formatFloat(actual), a.Condition, formatFloat(expected))
}

// checkAny applies a's condition to a non-numeric actual value.
func checkAny(a spec.Assertion, actual any) (bool, string) {
	got, want := stringify(actual), stringify(a.Expected)
	switch a.Condition {
	case spec.Contains:
		return checkContains(a, actual)
	case spec.Equals:
		if got == want {
			return true, ""
		}
	case spec.NotEquals:
		if got != want {
			return true, ""
		}
	default:
		return false, fmt.Sprintf("condition %s needs a numeric value, got %q", a.Condition, got)
	}
	return false, fmt.Sprintf("actual %q, expected %s %q", got, a.Condition, want)
}

func checkContains(a spec.Assertion, actual any) (bool, string) {
	got, want := stringify(actual), stringify(a.Expected)
	if strings.Contains(got, want) {
		return true, ""
	}
	return false, fmt.Sprintf("%q does not contain %q", got, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return formatFloat(x)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
