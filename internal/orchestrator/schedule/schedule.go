// Package schedule turns a load pattern into a concrete dispatch schedule.
//
// Build is the single implementation of every traffic shape. The pattern
// runner, the workflow runner and the CLI's schedule preview all go through
// it, so a pattern behaves the same whichever strategy executes it.
//
// Every schedule holds exactly the requested number of offsets. Proportional
// splits assign their remainder to a fixed phase, so the per-phase counts
// always sum to the total.
package schedule

import (
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

const (
	// DefaultStepDwell is the pause between two steps of the step pattern.
	DefaultStepDwell = 2 * time.Second

	// DefaultBurstDelayMin and DefaultBurstDelayMax bound the random delay
	// between bursts.
	DefaultBurstDelayMin = 1 * time.Second
	DefaultBurstDelayMax = 3 * time.Second

	// DefaultStepCount is used when a step pattern declares no steps.
	DefaultStepCount = 5

	defaultStartRate = 1.0
)

// DefaultBurstProportions split requests across three bursts.
var DefaultBurstProportions = []float64{0.3, 0.5, 0.2}

// Phase is a contiguous slice of the schedule.
type Phase struct {
	Name  string        `json:"name"`
	Start time.Duration `json:"start"`
	Count int           `json:"count"`
}

// Schedule is an ordered list of dispatch offsets relative to test start.
type Schedule struct {
	Pattern spec.PatternType `json:"pattern"`
	Offsets []time.Duration  `json:"offsets"`
	Phases  []Phase          `json:"phases"`
}

// Len returns the number of scheduled requests.
func (s Schedule) Len() int {
	return len(s.Offsets)
}

// Span returns the offset of the last scheduled request.
func (s Schedule) Span() time.Duration {
	if len(s.Offsets) == 0 {
		return 0
	}
	return s.Offsets[len(s.Offsets)-1]
}

// Build maps a pattern, a total request count and a duration to a schedule.
//
// A zero count yields an empty schedule. A zero duration fires the
// duration-driven patterns (constant, ramp-up, spike) immediately; step and
// random-burst keep their configured dwell and burst delays. Negative or NaN
// inputs are treated as zero. Build is deterministic: random-burst draws its
// delays from a generator seeded with pattern.Seed.
func Build(pattern spec.LoadPattern, total int, duration time.Duration) Schedule {
	if total < 0 {
		total = 0
	}
	if duration < 0 {
		duration = 0
	}

	s := Schedule{Pattern: pattern.PatternType()}
	if total == 0 {
		s.Offsets = []time.Duration{}
		return s
	}

	b := &builder{offsets: make([]time.Duration, 0, total)}

	switch s.Pattern {
	case spec.PatternSpike:
		buildSpike(b, pattern, total, duration)
	case spec.PatternRampUp:
		buildRampUp(b, pattern, total, duration)
	case spec.PatternStep:
		buildStep(b, pattern, total)
	case spec.PatternRandomBurst:
		buildRandomBurst(b, pattern, total)
	default:
		buildConstant(b, total, duration)
	}

	s.Offsets = b.offsets
	s.Phases = b.phases
	return s
}

type builder struct {
	offsets []time.Duration
	phases  []Phase
}

// phase appends count offsets starting at start, spaced by spacing.
func (b *builder) phase(name string, start time.Duration, count int, spacing time.Duration) {
	b.phases = append(b.phases, Phase{Name: name, Start: start, Count: count})
	for i := 0; i < count; i++ {
		b.offsets = append(b.offsets, start+time.Duration(i)*spacing)
	}
}

func buildConstant(b *builder, total int, duration time.Duration) {
	b.phase("constant", 0, total, duration/time.Duration(total))
}

func buildSpike(b *builder, p spec.LoadPattern, total int, duration time.Duration) {
	up := int(math.Floor(float64(total) * 0.2))
	peak := int(math.Floor(float64(total) * 0.6))
	down := total - up - peak

	upWindow := scale(duration, 0.2)
	peakWindow := scale(duration, 0.6)
	downWindow := duration - upWindow - peakWindow

	rps := sanitize(p.RequestsPerSecond)

	b.phase("ramp-up", 0, up, spacing(upWindow, up, rps/2))
	b.phase("peak", upWindow, peak, spacing(peakWindow, peak, rps))
	b.phase("ramp-down", upWindow+peakWindow, down, spacing(downWindow, down, rps/2))
}

// spacing returns window/count, or the spacing of rate when a rate is set
// and it fits inside the window.
func spacing(window time.Duration, count int, rate float64) time.Duration {
	if count <= 0 || window <= 0 {
		return 0
	}
	even := window / time.Duration(count)
	if rate <= 0 {
		return even
	}
	paced := seconds(1 / rate)
	if paced > even {
		return even
	}
	return paced
}

func buildRampUp(b *builder, p spec.LoadPattern, total int, duration time.Duration) {
	b.phases = append(b.phases, Phase{Name: "ramp-up", Start: 0, Count: total})

	if duration == 0 {
		for i := 0; i < total; i++ {
			b.offsets = append(b.offsets, 0)
		}
		return
	}

	startRate := sanitize(p.StartRate)
	if startRate == 0 {
		startRate = defaultStartRate
	}
	endRate := sanitize(p.RequestsPerSecond)
	if endRate == 0 {
		endRate = math.Max(startRate, 2*float64(total)/duration.Seconds())
	}

	var offset time.Duration
	for i := 0; i < total; i++ {
		b.offsets = append(b.offsets, offset)
		progress := float64(i) / float64(total)
		rate := startRate + (endRate-startRate)*progress
		offset += seconds(1 / rate)
	}
}

func buildStep(b *builder, p spec.LoadPattern, total int) {
	dwell := p.StepDwell.Or(DefaultStepDwell)

	var sizes []int
	if len(p.Steps) > 0 {
		weights := make([]float64, len(p.Steps))
		for i, step := range p.Steps {
			weights[i] = math.Max(float64(step), 0)
		}
		sizes = allocate(total, weights, len(weights)-1)
	} else {
		weights := make([]float64, DefaultStepCount)
		for i := range weights {
			weights[i] = 1
		}
		sizes = allocate(total, weights, len(weights)-1)
	}

	var at time.Duration
	for i, size := range sizes {
		if size == 0 {
			continue
		}
		b.phase(stepName(i), at, size, 0)
		at += dwell
	}
}

func stepName(i int) string {
	return "step-" + strconv.Itoa(i+1)
}

func buildRandomBurst(b *builder, p spec.LoadPattern, total int) {
	weights := DefaultBurstProportions
	if len(p.BurstProportions) > 0 {
		weights = make([]float64, len(p.BurstProportions))
		for i, w := range p.BurstProportions {
			weights[i] = sanitize(w)
		}
	}

	largest := 0
	for i, w := range weights {
		if w > weights[largest] {
			largest = i
		}
	}
	sizes := allocate(total, weights, largest)

	lo := p.BurstDelayMin.Or(DefaultBurstDelayMin)
	hi := p.BurstDelayMax.Or(DefaultBurstDelayMax)
	if hi < lo {
		hi = lo
	}

	seed := uint64(p.Seed)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	var at time.Duration
	for i, size := range sizes {
		if i > 0 {
			at += lo + time.Duration(rng.Int64N(int64(hi-lo)+1))
		}
		b.phase("burst-"+strconv.Itoa(i+1), at, size, 0)
	}
}

// allocate splits total across weights, flooring each share and adding the
// remainder to the share at index rest. Non-positive total weight falls back
// to equal shares.
func allocate(total int, weights []float64, rest int) []int {
	sizes := make([]int, len(weights))
	if len(weights) == 0 {
		return sizes
	}

	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		weights = make([]float64, len(weights))
		for i := range weights {
			weights[i] = 1
		}
		sum = float64(len(weights))
	}

	assigned := 0
	for i, w := range weights {
		sizes[i] = int(math.Floor(float64(total) * w / sum))
		assigned += sizes[i]
	}
	sizes[rest] += total - assigned
	return sizes
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
