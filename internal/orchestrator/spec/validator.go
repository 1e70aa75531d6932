package spec

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/errs"
)

// Validate validates the entire spec.
//
// Returns nil if valid, or an *errs.ValidationErrors containing every problem.
func (s *LoadTestSpec) Validate() error {
	ve := &errs.ValidationErrors{}

	if strings.TrimSpace(s.ID) == "" {
		ve.Add("id", "id is required")
	}

	validateTestType("testType", s.TestType, ve)

	shapes := 0
	if len(s.Requests) > 0 {
		shapes++
	}
	if len(s.Workflow) > 0 {
		shapes++
	}
	if s.Batch != nil {
		shapes++
	}
	switch {
	case shapes == 0:
		ve.Add("", "one of requests, workflow or batch is required")
	case shapes > 1:
		ve.Add("", "requests, workflow and batch are mutually exclusive")
	}

	validateRequests("requests", s.Requests, ve)
	validateWorkflow("workflow", s.Workflow, ve)
	validatePattern("loadPattern", s.LoadPattern, ve)
	validateDurationPtr("duration", s.Duration, ve)
	validateAssertions("assertions", s.Assertions, ve)

	if s.Batch != nil {
		validateBatch("batch", s.Batch, ve)
	}

	return ve.Err()
}

func validateTestType(field string, t TestType, ve *errs.ValidationErrors) {
	switch t {
	case "", TestTypeLoad, TestTypeStress, TestTypeSpike, TestTypeEndurance, TestTypeVolume, TestTypeSmoke:
	default:
		ve.Add(field, fmt.Sprintf("unknown test type: %s", t))
	}
}

func validateRequests(prefix string, requests []Request, ve *errs.ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}

	for i, req := range requests {
		field := fmt.Sprintf("%s[%d]", prefix, i)

		method := strings.ToUpper(req.Method)
		if method != "" && !validMethods[method] {
			ve.Add(field+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
		}

		if req.URL == "" {
			ve.Add(field+".url", "url is required")
			continue
		}
		if _, err := url.Parse(replacePlaceholders(req.URL)); err != nil {
			ve.Add(field+".url", fmt.Sprintf("invalid URL: %v", err))
		}
		if req.Timeout < 0 {
			ve.Add(field+".timeout", "cannot be negative")
		}
	}
}

// replacePlaceholders swaps {{var}} placeholders for a literal so the URL can
// be parsed before variables are known.
func replacePlaceholders(raw string) string {
	out := raw
	for strings.Contains(out, "{{") {
		start := strings.Index(out, "{{")
		end := strings.Index(out, "}}")
		if end <= start {
			break
		}
		out = out[:start] + "placeholder" + out[end+2:]
	}
	return out
}

func validateWorkflow(prefix string, steps []WorkflowStep, ve *errs.ValidationErrors) {
	for i, step := range steps {
		field := fmt.Sprintf("%s[%d]", prefix, i)
		if step.Name == "" {
			ve.Add(field+".name", "name is required")
		}
		if len(step.Requests) == 0 {
			ve.Add(field+".requests", "at least one request is required")
		}
		if step.ThinkTime < 0 {
			ve.Add(field+".thinkTime", "cannot be negative")
		}
		validateRequests(field+".requests", step.Requests, ve)
	}
}

func validatePattern(prefix string, p LoadPattern, ve *errs.ValidationErrors) {
	switch p.Type {
	case "", PatternConstant, PatternRampUp, PatternSpike, PatternStep, PatternRandomBurst:
	default:
		ve.Add(prefix+".type", fmt.Sprintf("unknown pattern type: %s", p.Type))
	}

	if p.VirtualUsers < 0 {
		ve.Add(prefix+".virtualUsers", "must be greater than 0")
	}
	if p.Iterations < 0 {
		ve.Add(prefix+".iterations", "cannot be negative")
	}
	if p.RequestsPerSecond < 0 || math.IsNaN(p.RequestsPerSecond) {
		ve.Add(prefix+".requestsPerSecond", "must be a non-negative number")
	}
	if p.StartRate < 0 || math.IsNaN(p.StartRate) {
		ve.Add(prefix+".startRate", "must be a non-negative number")
	}

	for name, d := range map[string]Duration{
		"rampUpTime":    p.RampUpTime,
		"plateauTime":   p.PlateauTime,
		"rampDownTime":  p.RampDownTime,
		"stepDwell":     p.StepDwell,
		"burstDelayMin": p.BurstDelayMin,
		"burstDelayMax": p.BurstDelayMax,
	} {
		if d < 0 {
			ve.Add(prefix+"."+name, "cannot be negative")
		}
	}
	if p.BurstDelayMax != 0 && p.BurstDelayMin > p.BurstDelayMax {
		ve.Add(prefix+".burstDelayMin", "must be less than or equal to burstDelayMax")
	}

	for i, stage := range p.Stages {
		field := fmt.Sprintf("%s.stages[%d]", prefix, i)
		if stage.Duration <= 0 {
			ve.Add(field+".duration", "must be greater than 0")
		}
		if stage.Target < 0 {
			ve.Add(field+".target", "target cannot be negative")
		}
	}
	for i, step := range p.Steps {
		if step <= 0 {
			ve.Add(fmt.Sprintf("%s.steps[%d]", prefix, i), "step size must be greater than 0")
		}
	}
	for i, share := range p.BurstProportions {
		if share <= 0 || math.IsNaN(share) {
			ve.Add(fmt.Sprintf("%s.burstProportions[%d]", prefix, i), "proportion must be greater than 0")
		}
	}
}

func validateDurationPtr(field string, d *Duration, ve *errs.ValidationErrors) {
	if d != nil && *d < 0 {
		ve.Add(field, "cannot be negative")
	}
}

func validateAssertions(prefix string, assertions []Assertion, ve *errs.ValidationErrors) {
	validConditions := map[Condition]bool{
		LessThan: true, LessThanOrEqual: true, GreaterThan: true, GreaterThanOrEqual: true,
		Equals: true, NotEquals: true, Contains: true,
	}

	for i, a := range assertions {
		field := fmt.Sprintf("%s[%d]", prefix, i)

		switch a.Type {
		case AssertResponseTime, AssertSuccessRate, AssertThroughput, AssertErrorRate:
		case AssertCustom:
			if strings.TrimSpace(a.Expression) == "" {
				ve.Add(field+".expression", "expression is required for custom assertions")
			}
		case AssertMetric:
			if a.Path == "" {
				ve.Add(field+".path", "path is required for metric assertions")
			}
		case "":
			ve.Add(field+".type", "type is required")
		default:
			ve.Add(field+".type", fmt.Sprintf("invalid assertion type: %s", a.Type))
		}

		if a.Condition == "" {
			if a.Type != AssertCustom {
				ve.Add(field+".condition", "condition is required")
			}
		} else if !validConditions[a.Condition] {
			ve.Add(field+".condition", fmt.Sprintf("invalid condition: %s", a.Condition))
		}

		if a.Tolerance < 0 {
			ve.Add(field+".tolerance", "cannot be negative")
		}
	}
}

func validateBatch(prefix string, b *BatchTestSpec, ve *errs.ValidationErrors) {
	switch b.ExecutionMode {
	case "", ModeParallel, ModeSequential:
	default:
		ve.Add(prefix+".executionMode", fmt.Sprintf("unknown execution mode: %s", b.ExecutionMode))
	}

	if b.Concurrency < 0 {
		ve.Add(prefix+".concurrency", "cannot be negative")
	}
	validateDurationPtr(prefix+".delayBetweenTests", b.DelayBetweenTests, ve)
	validateDurationPtr(prefix+".duration", b.Duration, ve)
	if b.LoadPattern != nil {
		validatePattern(prefix+".loadPattern", *b.LoadPattern, ve)
	}

	if len(b.Tests) == 0 {
		ve.Add(prefix+".tests", "at least one test is required")
		return
	}

	ids := make(map[string]bool, len(b.Tests))
	for i, item := range b.Tests {
		field := fmt.Sprintf("%s.tests[%d]", prefix, i)

		if item.ID == "" {
			ve.Add(field+".id", "id is required")
		} else if ids[item.ID] {
			ve.Add(field+".id", fmt.Sprintf("duplicate test id: %s", item.ID))
		}
		ids[item.ID] = true

		validateTestType(field+".testType", item.TestType, ve)

		switch {
		case len(item.Requests) == 0 && len(item.Workflow) == 0:
			ve.Add(field, "one of requests or workflow is required")
		case len(item.Requests) > 0 && len(item.Workflow) > 0:
			ve.Add(field, "requests and workflow are mutually exclusive")
		}

		if item.Retries < 0 {
			ve.Add(field+".retries", "cannot be negative")
		}

		validateRequests(field+".requests", item.Requests, ve)
		validateWorkflow(field+".workflow", item.Workflow, ve)
		validateAssertions(field+".assertions", item.Assertions, ve)
		validateDurationPtr(field+".duration", item.Duration, ve)
		if item.LoadPattern != nil {
			validatePattern(field+".loadPattern", *item.LoadPattern, ve)
		}
	}

	for i, item := range b.Tests {
		for _, dep := range item.Dependencies {
			switch {
			case dep == item.ID:
				ve.Add(fmt.Sprintf("%s.tests[%d].dependencies", prefix, i), "a test cannot depend on itself")
			case !ids[dep]:
				ve.Add(fmt.Sprintf("%s.tests[%d].dependencies", prefix, i), fmt.Sprintf("unknown test id: %s", dep))
			}
		}
	}

	if cycle := findCycle(b.Tests); cycle != "" {
		ve.Add(prefix+".tests", fmt.Sprintf("dependency cycle: %s", cycle))
	}
}

// findCycle returns a printable cycle among item dependencies, or "".
func findCycle(items []BatchTestItem) string {
	deps := make(map[string][]string, len(items))
	for _, item := range items {
		deps[item.ID] = item.Dependencies
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(items))
	var path []string

	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			for i, p := range path {
				if p == id {
					return strings.Join(append(append([]string(nil), path[i:]...), id), " -> ")
				}
			}
			return id
		case done:
			return ""
		}

		state[id] = visiting
		path = append(path, id)
		for _, dep := range deps[id] {
			if _, known := deps[dep]; !known || dep == id {
				continue
			}
			if c := visit(dep); c != "" {
				return c
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return ""
	}

	for _, item := range items {
		if c := visit(item.ID); c != "" {
			return c
		}
	}
	return ""
}
