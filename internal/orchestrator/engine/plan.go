package engine

import (
	"github.com/wesleyorama2/loadctl/internal/orchestrator/runner"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/schedule"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/selector"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

// Plan is what a run would do, computed without issuing requests.
type Plan struct {
	TestID    string            `json:"testId"`
	Selection selector.Result   `json:"selection"`
	Schedule  schedule.Schedule `json:"schedule"`

	// Tests are the planned batch sub-tests, in declaration order
	Tests []TestPlan `json:"tests,omitempty"`
}

// TestPlan is the plan of one batch sub-test.
type TestPlan struct {
	TestID         string            `json:"testId"`
	ExecutionOrder int               `json:"executionOrder,omitempty"`
	Dependencies   []string          `json:"dependencies,omitempty"`
	Selection      selector.Result   `json:"selection"`
	Schedule       schedule.Schedule `json:"schedule"`
}

// Plan validates ts, selects its strategy and builds the schedules its
// runners would follow.
func (e *Engine) Plan(ts *spec.LoadTestSpec) (*Plan, error) {
	s := ts.Clone()
	spec.ApplyDefaults(s)
	if err := e.Validate(s); err != nil {
		return nil, err
	}

	p := &Plan{TestID: s.ID, Selection: e.selector.Select(s)}
	if s.Batch == nil {
		p.Schedule = runner.ScheduleFor(s)
		return p, nil
	}

	for _, item := range s.Batch.Tests {
		sub := s.Batch.SubSpec(item, s.Variables)
		p.Tests = append(p.Tests, TestPlan{
			TestID:         item.ID,
			ExecutionOrder: item.ExecutionOrder,
			Dependencies:   item.Dependencies,
			Selection:      e.selector.Select(sub),
			Schedule:       runner.ScheduleFor(sub),
		})
	}
	return p, nil
}
