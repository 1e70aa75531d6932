// Package selector classifies a load test spec into an execution strategy.
//
// Select is pure and deterministic: the same spec and thresholds always give
// the same strategy, reason and confidence. The reason names the metrics that
// triggered the decision so results can be explained and asserted on.
package selector

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

// Strategy is the subsystem that executes a run.
type Strategy string

const (
	StrategyBatch         Strategy = "batch"
	StrategyWorkflow      Strategy = "workflow"
	StrategyHeavyLoad     Strategy = "external-heavy-load-runner"
	StrategyPatternRunner Strategy = "pattern-runner"
)

// Thresholds above which a run goes to the heavy-load runner.
type Thresholds struct {
	VirtualUsers      int           `yaml:"virtualUsers" json:"virtualUsers"`
	TotalRequests     int           `yaml:"totalRequests" json:"totalRequests"`
	Duration          time.Duration `yaml:"duration" json:"duration"`
	PatternComplexity int           `yaml:"patternComplexity" json:"patternComplexity"`

	// SpikeVirtualUsers routes spike tests above this VU count
	SpikeVirtualUsers int `yaml:"spikeVirtualUsers" json:"spikeVirtualUsers"`
}

// DefaultThresholds returns the default heavy-load thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VirtualUsers:      5000,
		TotalRequests:     10000,
		Duration:          30 * time.Minute,
		PatternComplexity: 30,
		SpikeVirtualUsers: 500,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.VirtualUsers <= 0 {
		t.VirtualUsers = d.VirtualUsers
	}
	if t.TotalRequests <= 0 {
		t.TotalRequests = d.TotalRequests
	}
	if t.Duration <= 0 {
		t.Duration = d.Duration
	}
	if t.PatternComplexity <= 0 {
		t.PatternComplexity = d.PatternComplexity
	}
	if t.SpikeVirtualUsers <= 0 {
		t.SpikeVirtualUsers = d.SpikeVirtualUsers
	}
	return t
}

// Metrics are the spec-derived inputs of a decision.
type Metrics struct {
	RequestCount          int           `json:"requestCount"`
	TotalRequests         int           `json:"totalRequests"`
	LoadPatternComplexity int           `json:"loadPatternComplexity"`
	TestComplexity        int           `json:"testComplexity"`
	EstimatedDuration     time.Duration `json:"estimatedDuration"`
}

// Result is an executor selection.
type Result struct {
	Strategy   Strategy `json:"strategy"`
	Metrics    Metrics  `json:"metrics"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence"`
}

// Selector chooses an execution strategy for a spec.
type Selector struct {
	thresholds Thresholds
}

// New creates a selector. Zero threshold fields take their defaults.
func New(t Thresholds) *Selector {
	return &Selector{thresholds: t.withDefaults()}
}

// Thresholds returns the thresholds in effect.
func (s *Selector) Thresholds() Thresholds {
	return s.thresholds
}

// Select classifies ts. The first matching rule wins:
//
//  1. a non-empty batch selects batch
//  2. workflow steps select workflow unless heavy-load thresholds are met
//  3. any heavy-load threshold selects the external heavy-load runner
//  4. everything else runs on the in-process pattern runner
func (s *Selector) Select(ts *spec.LoadTestSpec) Result {
	m := Measure(ts)

	if ts.HasBatch() {
		return Result{
			Strategy:   StrategyBatch,
			Metrics:    m,
			Reason:     fmt.Sprintf("spec declares a batch of %d tests", len(ts.Batch.Tests)),
			Confidence: 1.0,
		}
	}

	triggers := s.heavyLoadTriggers(ts, m)

	if len(ts.Workflow) > 0 {
		if len(triggers) == 0 {
			return Result{
				Strategy:   StrategyWorkflow,
				Metrics:    m,
				Reason:     fmt.Sprintf("spec declares %d workflow steps", len(ts.Workflow)),
				Confidence: 0.9,
			}
		}
		return Result{
			Strategy:   StrategyHeavyLoad,
			Metrics:    m,
			Reason:     "workflow exceeds heavy-load thresholds: " + describe(triggers),
			Confidence: s.heavyLoadConfidence(m, triggers),
		}
	}

	if len(triggers) > 0 {
		return Result{
			Strategy:   StrategyHeavyLoad,
			Metrics:    m,
			Reason:     "heavy-load thresholds met: " + describe(triggers),
			Confidence: s.heavyLoadConfidence(m, triggers),
		}
	}

	confidence := 0.5
	t := s.thresholds
	if 2*m.RequestCount < t.VirtualUsers &&
		2*m.TotalRequests < t.TotalRequests &&
		2*m.EstimatedDuration < t.Duration &&
		2*m.LoadPatternComplexity < t.PatternComplexity {
		confidence += 0.2
	}
	return Result{
		Strategy: StrategyPatternRunner,
		Metrics:  m,
		Reason: fmt.Sprintf("below heavy-load thresholds (requestCount=%d, totalRequests=%d, estimatedDuration=%s, loadPatternComplexity=%d)",
			m.RequestCount, m.TotalRequests, m.EstimatedDuration, m.LoadPatternComplexity),
		Confidence: confidence,
	}
}

// trigger is one heavy-load rule that matched. ratio is value/threshold for
// volume rules and zero for rules without a numeric threshold.
type trigger struct {
	metric string
	detail string
	ratio  float64
}

func describe(triggers []trigger) string {
	parts := make([]string, len(triggers))
	for i, t := range triggers {
		parts[i] = t.detail
	}
	return strings.Join(parts, "; ")
}

func (s *Selector) heavyLoadTriggers(ts *spec.LoadTestSpec, m Metrics) []trigger {
	t := s.thresholds
	var out []trigger

	if m.RequestCount >= t.VirtualUsers {
		out = append(out, trigger{
			metric: "requestCount",
			detail: fmt.Sprintf("requestCount %d >= %d", m.RequestCount, t.VirtualUsers),
			ratio:  float64(m.RequestCount) / float64(t.VirtualUsers),
		})
	}
	if m.TotalRequests >= t.TotalRequests {
		out = append(out, trigger{
			metric: "totalRequests",
			detail: fmt.Sprintf("totalRequests %d >= %d", m.TotalRequests, t.TotalRequests),
			ratio:  float64(m.TotalRequests) / float64(t.TotalRequests),
		})
	}
	if m.EstimatedDuration >= t.Duration {
		out = append(out, trigger{
			metric: "estimatedDuration",
			detail: fmt.Sprintf("estimatedDuration %s >= %s", m.EstimatedDuration, t.Duration),
			ratio:  float64(m.EstimatedDuration) / float64(t.Duration),
		})
	}

	switch ts.TestType {
	case spec.TestTypeStress, spec.TestTypeEndurance:
		out = append(out, trigger{metric: "testType", detail: fmt.Sprintf("testType %s", ts.TestType)})
	case spec.TestTypeSpike:
		if m.RequestCount > t.SpikeVirtualUsers {
			out = append(out, trigger{
				metric: "testType",
				detail: fmt.Sprintf("testType spike with requestCount %d > %d", m.RequestCount, t.SpikeVirtualUsers),
			})
		}
	case spec.TestTypeVolume:
		if m.LoadPatternComplexity >= t.PatternComplexity || m.RequestCount >= t.VirtualUsers || m.TotalRequests >= t.TotalRequests {
			out = append(out, trigger{
				metric: "testType",
				detail: fmt.Sprintf("testType volume with loadPatternComplexity %d", m.LoadPatternComplexity),
			})
		}
	}

	if m.LoadPatternComplexity >= t.PatternComplexity && ts.LoadPattern.PatternType() != spec.PatternConstant {
		out = append(out, trigger{
			metric: "loadPatternComplexity",
			detail: fmt.Sprintf("loadPatternComplexity %d >= %d for %s pattern", m.LoadPatternComplexity, t.PatternComplexity, ts.LoadPattern.PatternType()),
			ratio:  float64(m.LoadPatternComplexity) / float64(t.PatternComplexity),
		})
	}
	return out
}

func (s *Selector) heavyLoadConfidence(m Metrics, triggers []trigger) float64 {
	t := s.thresholds
	confidence := 0.5

	var dominant float64
	for _, tr := range triggers {
		dominant = math.Max(dominant, tr.ratio)
	}
	if dominant >= 2 {
		confidence += 0.2
	}
	if m.LoadPatternComplexity >= 2*t.PatternComplexity {
		confidence += 0.2
	}
	if m.EstimatedDuration >= 2*t.Duration {
		confidence += 0.1
	}
	return math.Min(confidence, 1.0)
}
