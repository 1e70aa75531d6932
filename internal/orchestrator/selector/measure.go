package selector

import (
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

const minEstimatedDuration = 30 * time.Second

// Every base sits below the default pattern complexity threshold, so only the
// modifiers can push a non-constant pattern to the heavy-load runner.
var patternBase = map[spec.PatternType]int{
	spec.PatternConstant:    10,
	spec.PatternRampUp:      15,
	spec.PatternStep:        20,
	spec.PatternSpike:       20,
	spec.PatternRandomBurst: 25,
}

var testTypeBase = map[spec.TestType]int{
	spec.TestTypeSmoke:     5,
	spec.TestTypeLoad:      10,
	spec.TestTypeEndurance: 20,
	spec.TestTypeSpike:     25,
	spec.TestTypeVolume:    25,
	spec.TestTypeStress:    30,
}

// Measure derives the selection inputs from a spec.
func Measure(ts *spec.LoadTestSpec) Metrics {
	return Metrics{
		RequestCount:          ts.RequestCount(),
		TotalRequests:         ts.TotalRequests(),
		LoadPatternComplexity: PatternComplexity(ts.LoadPattern),
		TestComplexity:        TestComplexity(ts),
		EstimatedDuration:     EstimatedDuration(ts),
	}
}

// PatternComplexity scores a pattern from 0 to 100: a base per pattern type,
// +5 per stage (at most 25), +10 for an RPS cap and +5 for each of the
// ramp-up, plateau and ramp-down times.
func PatternComplexity(p spec.LoadPattern) int {
	score := patternBase[p.PatternType()]

	score += min(5*len(p.Stages), 25)
	if p.RequestsPerSecond > 0 {
		score += 10
	}
	if p.RampUpTime > 0 {
		score += 5
	}
	if p.PlateauTime > 0 {
		score += 5
	}
	if p.RampDownTime > 0 {
		score += 5
	}
	return min(score, 100)
}

// TestComplexity scores a test from 0 to 100: a base per test type, +5 per
// request template (at most 20), +10 when any request carries a body, +15
// for media uploads and +10 for response validation.
func TestComplexity(ts *spec.LoadTestSpec) int {
	score := testTypeBase[ts.TestType]
	if ts.TestType == "" {
		score = testTypeBase[spec.TestTypeLoad]
	}

	requests := append([]spec.Request(nil), ts.Requests...)
	for _, step := range ts.Workflow {
		requests = append(requests, step.Requests...)
	}

	score += min(5*len(requests), 20)

	var payload, media, validation bool
	for _, r := range requests {
		payload = payload || r.Body != ""
		media = media || r.MediaType != ""
		validation = validation || r.Validate
	}
	if payload {
		score += 10
	}
	if media {
		score += 15
	}
	if validation {
		score += 10
	}
	return min(score, 100)
}

// EstimatedDuration is the explicit duration, else VUs×2s plus ramp time with
// a 30s floor.
func EstimatedDuration(ts *spec.LoadTestSpec) time.Duration {
	if ts.Duration != nil && *ts.Duration > 0 {
		return ts.Duration.Std()
	}
	est := time.Duration(ts.RequestCount())*2*time.Second + ts.LoadPattern.RampTime()
	return max(est, minEstimatedDuration)
}
