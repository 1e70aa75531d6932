package spec

import (
	"fmt"
	"time"
)

// VUs returns the virtual user count, defaulting to 1.
func (p LoadPattern) VUs() int {
	if p.VirtualUsers <= 0 {
		return 1
	}
	return p.VirtualUsers
}

// IterationCount returns the per-VU iteration count, defaulting to 1.
func (p LoadPattern) IterationCount() int {
	if p.Iterations <= 0 {
		return 1
	}
	return p.Iterations
}

// PatternType returns the pattern type, defaulting to constant.
func (p LoadPattern) PatternType() PatternType {
	if p.Type == "" {
		return PatternConstant
	}
	return p.Type
}

// RampTime returns the time spent ramping up and down.
func (p LoadPattern) RampTime() time.Duration {
	return p.RampUpTime.Std() + p.RampDownTime.Std()
}

// TotalDuration derives a duration from the ramp/plateau fields, falling back
// to the sum of stage durations.
func (p LoadPattern) TotalDuration() time.Duration {
	total := p.RampUpTime.Std() + p.PlateauTime.Std() + p.RampDownTime.Std()
	if total > 0 {
		return total
	}
	for _, stage := range p.Stages {
		total += stage.Duration.Std()
	}
	return total
}

// Clone returns a deep copy of the pattern.
func (p LoadPattern) Clone() LoadPattern {
	out := p
	if p.Stages != nil {
		out.Stages = append([]Stage(nil), p.Stages...)
	}
	if p.Steps != nil {
		out.Steps = append([]int(nil), p.Steps...)
	}
	if p.BurstProportions != nil {
		out.BurstProportions = append([]float64(nil), p.BurstProportions...)
	}
	return out
}

// Merge returns a copy of p with every non-zero field of override applied.
func (p LoadPattern) Merge(override LoadPattern) LoadPattern {
	out := p.Clone()
	o := override.Clone()

	if o.Type != "" {
		out.Type = o.Type
	}
	if o.VirtualUsers != 0 {
		out.VirtualUsers = o.VirtualUsers
	}
	if o.Iterations != 0 {
		out.Iterations = o.Iterations
	}
	if o.RequestsPerSecond != 0 {
		out.RequestsPerSecond = o.RequestsPerSecond
	}
	if o.StartRate != 0 {
		out.StartRate = o.StartRate
	}
	if o.RampUpTime != 0 {
		out.RampUpTime = o.RampUpTime
	}
	if o.PlateauTime != 0 {
		out.PlateauTime = o.PlateauTime
	}
	if o.RampDownTime != 0 {
		out.RampDownTime = o.RampDownTime
	}
	if len(o.Stages) > 0 {
		out.Stages = o.Stages
	}
	if len(o.Steps) > 0 {
		out.Steps = o.Steps
	}
	if o.StepDwell != 0 {
		out.StepDwell = o.StepDwell
	}
	if len(o.BurstProportions) > 0 {
		out.BurstProportions = o.BurstProportions
	}
	if o.BurstDelayMin != 0 {
		out.BurstDelayMin = o.BurstDelayMin
	}
	if o.BurstDelayMax != 0 {
		out.BurstDelayMax = o.BurstDelayMax
	}
	if o.Seed != 0 {
		out.Seed = o.Seed
	}
	return out
}

// RequestCount is the number of concurrent virtual users the spec asks for.
func (s *LoadTestSpec) RequestCount() int {
	return s.LoadPattern.VUs()
}

// TotalRequests is Σ requests×VUs plus Σ workflow-step requests×VUs, times
// the per-VU iteration count.
func (s *LoadTestSpec) TotalRequests() int {
	perVU := len(s.Requests)
	for _, step := range s.Workflow {
		perVU += len(step.Requests)
	}
	return perVU * s.LoadPattern.VUs() * s.LoadPattern.IterationCount()
}

// ScheduleDuration is the span over which requests are spread: the explicit
// duration, else the pattern's own duration, else zero (fire immediately).
func (s *LoadTestSpec) ScheduleDuration() time.Duration {
	if s.Duration != nil && *s.Duration > 0 {
		return s.Duration.Std()
	}
	return s.LoadPattern.TotalDuration()
}

// Label returns the display name of the spec.
func (s *LoadTestSpec) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// HasBatch reports whether the spec declares a non-empty batch.
func (s *LoadTestSpec) HasBatch() bool {
	return s.Batch != nil && len(s.Batch.Tests) > 0
}

// Clone returns a deep copy of the spec.
func (s *LoadTestSpec) Clone() *LoadTestSpec {
	out := *s
	out.Requests = cloneRequests(s.Requests)
	out.Workflow = cloneWorkflow(s.Workflow)
	out.LoadPattern = s.LoadPattern.Clone()
	if s.Duration != nil {
		d := *s.Duration
		out.Duration = &d
	}
	if s.Assertions != nil {
		out.Assertions = append([]Assertion(nil), s.Assertions...)
	}
	if s.Variables != nil {
		out.Variables = make(map[string]string, len(s.Variables))
		for k, v := range s.Variables {
			out.Variables[k] = v
		}
	}
	if s.Batch != nil {
		b := *s.Batch
		b.Tests = append([]BatchTestItem(nil), s.Batch.Tests...)
		out.Batch = &b
	}
	return &out
}

// SubSpec builds the independent spec executed for one batch item.
//
// The batch baseline pattern and duration are deep-copied, then the item's
// overrides are applied. Nothing in the returned spec aliases the batch or
// any other item, so concurrently running sub-tests share no mutable state.
func (b *BatchTestSpec) SubSpec(item BatchTestItem, variables map[string]string) *LoadTestSpec {
	sub := &LoadTestSpec{
		ID:       item.ID,
		Name:     item.Name,
		TestType: item.TestType,
		Requests: cloneRequests(item.Requests),
		Workflow: cloneWorkflow(item.Workflow),
	}

	var pattern LoadPattern
	if b.LoadPattern != nil {
		pattern = b.LoadPattern.Clone()
	}
	if item.LoadPattern != nil {
		pattern = pattern.Merge(*item.LoadPattern)
	}
	sub.LoadPattern = pattern

	switch {
	case item.Duration != nil:
		d := *item.Duration
		sub.Duration = &d
	case b.Duration != nil:
		d := *b.Duration
		sub.Duration = &d
	}

	if item.Assertions != nil {
		sub.Assertions = append([]Assertion(nil), item.Assertions...)
	}
	if len(variables) > 0 {
		sub.Variables = make(map[string]string, len(variables))
		for k, v := range variables {
			sub.Variables[k] = v
		}
	}
	if sub.Name == "" {
		sub.Name = item.ID
	}
	return sub
}

// Mode returns the execution mode, defaulting to parallel.
func (b *BatchTestSpec) Mode() ExecutionMode {
	if b.ExecutionMode == "" {
		return ModeParallel
	}
	return b.ExecutionMode
}

func cloneRequests(in []Request) []Request {
	if in == nil {
		return nil
	}
	out := make([]Request, len(in))
	for i, r := range in {
		out[i] = r
		if r.Headers != nil {
			out[i].Headers = make(map[string]string, len(r.Headers))
			for k, v := range r.Headers {
				out[i].Headers[k] = v
			}
		}
	}
	return out
}

func cloneWorkflow(in []WorkflowStep) []WorkflowStep {
	if in == nil {
		return nil
	}
	out := make([]WorkflowStep, len(in))
	for i, step := range in {
		out[i] = step
		out[i].Requests = cloneRequests(step.Requests)
	}
	return out
}

// ApplyDefaults fills defaults the way the loader expects specs to look.
func ApplyDefaults(s *LoadTestSpec) {
	if s.LoadPattern.Type == "" {
		s.LoadPattern.Type = PatternConstant
	}
	if s.TestType == "" {
		s.TestType = TestTypeLoad
	}
	applyRequestDefaults(s.ID, s.Requests)
	for i := range s.Workflow {
		applyRequestDefaults(fmt.Sprintf("%s_%s", s.ID, s.Workflow[i].Name), s.Workflow[i].Requests)
	}
	if s.Batch != nil {
		if s.Batch.ExecutionMode == "" {
			s.Batch.ExecutionMode = ModeParallel
		}
		for i := range s.Batch.Tests {
			item := &s.Batch.Tests[i]
			applyRequestDefaults(item.ID, item.Requests)
			for j := range item.Workflow {
				applyRequestDefaults(fmt.Sprintf("%s_%s", item.ID, item.Workflow[j].Name), item.Workflow[j].Requests)
			}
		}
	}
}

func applyRequestDefaults(prefix string, requests []Request) {
	for i := range requests {
		if requests[i].Name == "" {
			requests[i].Name = fmt.Sprintf("%s_request_%d", prefix, i+1)
		}
		if requests[i].Method == "" {
			requests[i].Method = "GET"
		}
	}
}
