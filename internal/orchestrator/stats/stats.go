// Package stats reduces raw samples to the statistics used for reporting
// and assertions.
//
// Every function is pure and total: empty input yields zero values, and NaN
// or infinite values are dropped before any computation.
package stats

import (
	"math"
	"sort"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
)

// DefaultAnomalyThreshold is the z-score above which a point is anomalous.
const DefaultAnomalyThreshold = 2.5

// PercentileSet is the latency distribution summary in milliseconds.
type PercentileSet struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// ThroughputMetrics summarises request and byte rates.
type ThroughputMetrics struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	BytesPerSecond    float64 `json:"bytesPerSecond"`
}

// Percentiles computes the distribution summary of values.
func Percentiles(values []float64) PercentileSet {
	sorted := finite(values)
	if len(sorted) == 0 {
		return PercentileSet{}
	}
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return PercentileSet{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: Percentile(sorted, 50),
		P90: Percentile(sorted, 90),
		P95: Percentile(sorted, 95),
		P99: Percentile(sorted, 99),
	}
}

// Percentile returns the p-th percentile of an ascending slice, linearly
// interpolating between the two nearest ranks.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 || math.IsNaN(p) {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	idx := p / 100 * float64(n-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Throughput computes request and byte rates over the timestamp span of
// samples. A zero span reports the sample count as the request rate.
func Throughput(samples []orchestrator.RequestSample) ThroughputMetrics {
	if len(samples) == 0 {
		return ThroughputMetrics{}
	}

	first, last := samples[0].Timestamp, samples[0].Timestamp
	var bytes int64
	for _, s := range samples {
		if s.Timestamp.Before(first) {
			first = s.Timestamp
		}
		if s.Timestamp.After(last) {
			last = s.Timestamp
		}
		bytes += s.ResponseBytes
	}

	span := last.Sub(first).Seconds()
	if span <= 0 {
		return ThroughputMetrics{RequestsPerSecond: float64(len(samples))}
	}
	return ThroughputMetrics{
		RequestsPerSecond: float64(len(samples)) / span,
		BytesPerSecond:    float64(bytes) / span,
	}
}

// Direction of a trend.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// TrendAnalysis is an ordinary least-squares fit over an index-ordered series.
type TrendAnalysis struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	RSquared  float64 `json:"rSquared"`
	Direction string  `json:"direction"`
}

// Trend fits y = slope*i + intercept. A direction is reported only when
// R² >= 0.3 and |slope| >= 0.01.
func Trend(series []float64) TrendAnalysis {
	ys := finite(series)
	n := len(ys)
	if n == 0 {
		return TrendAnalysis{Direction: TrendStable}
	}
	if n == 1 {
		return TrendAnalysis{Intercept: ys[0], Direction: TrendStable}
	}

	meanX := float64(n-1) / 2
	meanY := mean(ys)

	var sxx, sxy, syy float64
	for i, y := range ys {
		dx := float64(i) - meanX
		dy := y - meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}

	slope := sxy / sxx
	var r2 float64
	if syy > 0 {
		r2 = (sxy * sxy) / (sxx * syy)
	}

	t := TrendAnalysis{
		Slope:     slope,
		Intercept: meanY - slope*meanX,
		RSquared:  r2,
		Direction: TrendStable,
	}
	if r2 >= 0.3 && math.Abs(slope) >= 0.01 {
		if slope > 0 {
			t.Direction = TrendIncreasing
		} else {
			t.Direction = TrendDecreasing
		}
	}
	return t
}

// SeasonalityResult reports the strongest repeating period of a series.
type SeasonalityResult struct {
	Detected    bool    `json:"detected"`
	Period      int     `json:"period,omitempty"`
	Correlation float64 `json:"correlation,omitempty"`
}

// Seasonality looks for a period p in [2, n/3] whose windows correlate with
// the first window. The best period is reported only if its mean absolute
// correlation exceeds 0.5. The search is O(n²); Analyze bounds n.
func Seasonality(series []float64) SeasonalityResult {
	ys := finite(series)
	n := len(ys)

	bestPeriod, best := 0, 0.0
	for p := 2; p <= n/3; p++ {
		first := ys[:p]

		var sum float64
		windows := 0
		for start := p; start+p <= n; start += p {
			sum += math.Abs(Correlate(first, ys[start:start+p]))
			windows++
		}
		if windows == 0 {
			continue
		}
		if c := sum / float64(windows); c > best {
			bestPeriod, best = p, c
		}
	}

	if best > 0.5 {
		return SeasonalityResult{Detected: true, Period: bestPeriod, Correlation: best}
	}
	return SeasonalityResult{}
}

// Severity of an anomaly.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Anomaly is a point whose z-score exceeds the threshold.
type Anomaly struct {
	Index    int     `json:"index"`
	Value    float64 `json:"value"`
	ZScore   float64 `json:"zScore"`
	Severity string  `json:"severity"`
}

// Anomalies flags points with |x-mean|/stddev above threshold. A
// non-positive threshold uses DefaultAnomalyThreshold. Indexes refer to the
// series after non-finite values are dropped.
func Anomalies(series []float64, threshold float64) []Anomaly {
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		threshold = DefaultAnomalyThreshold
	}

	ys := finite(series)
	if len(ys) == 0 {
		return nil
	}

	m := mean(ys)
	var variance float64
	for _, y := range ys {
		variance += (y - m) * (y - m)
	}
	stddev := math.Sqrt(variance / float64(len(ys)))
	if stddev == 0 {
		return nil
	}

	var out []Anomaly
	for i, y := range ys {
		z := math.Abs(y-m) / stddev
		if z <= threshold {
			continue
		}

		severity := SeverityLow
		switch {
		case z >= threshold*1.1:
			severity = SeverityHigh
		case z >= threshold*1.05:
			severity = SeverityMedium
		}
		out = append(out, Anomaly{Index: i, Value: y, ZScore: z, Severity: severity})
	}
	return out
}

// Correlate returns the Pearson correlation coefficient of a and b, or 0 when
// the lengths differ, are zero, or either series is constant.
func Correlate(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}

	ma, mb := mean(a), mean(b)
	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da := a[i] - ma
		db := b[i] - mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	r := cov / math.Sqrt(va*vb)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// finite returns a copy of values without NaN or infinite entries.
func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}
