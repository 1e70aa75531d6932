package stats

import (
	"math"
	"testing"
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
)

func near(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestPercentiles(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[100-1-i] = float64(i + 1)
	}

	p := Percentiles(values)
	if !near(p.P50, 50.5, 1e-9) {
		t.Errorf("P50 = %v, want 50.5", p.P50)
	}
	if p.Min != 1 || p.Max != 100 {
		t.Errorf("Min/Max = %v/%v", p.Min, p.Max)
	}
	if !near(p.Avg, 50.5, 1e-9) {
		t.Errorf("Avg = %v, want 50.5", p.Avg)
	}
	if !near(p.P90, 90.1, 1e-9) {
		t.Errorf("P90 = %v, want 90.1", p.P90)
	}
	if !near(p.P99, 99.01, 1e-9) {
		t.Errorf("P99 = %v, want 99.01", p.P99)
	}
}

func TestPercentiles_Empty(t *testing.T) {
	if got := Percentiles(nil); got != (PercentileSet{}) {
		t.Errorf("Percentiles(nil) = %+v, want zero", got)
	}
	if got := Percentiles([]float64{math.NaN()}); got != (PercentileSet{}) {
		t.Errorf("Percentiles(NaN) = %+v, want zero", got)
	}
}

func TestPercentiles_DoesNotMutateInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Percentiles(values)
	if values[0] != 3 || values[1] != 1 || values[2] != 2 {
		t.Errorf("input was reordered: %v", values)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{100, 40},
		{50, 25},
		{-5, 10},
		{150, 40},
	}
	for _, tt := range tests {
		if got := Percentile(sorted, tt.p); !near(got, tt.want, 1e-9) {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestThroughput(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	samples := make([]orchestrator.RequestSample, 100)
	for i := range samples {
		samples[i] = orchestrator.RequestSample{
			Timestamp:     start.Add(time.Duration(i) * 10 * time.Second / 99),
			ResponseBytes: 50,
		}
	}
	samples[len(samples)-1].Timestamp = start.Add(10 * time.Second)

	tp := Throughput(samples)
	if !near(tp.RequestsPerSecond, 10.0, 1e-6) {
		t.Errorf("RequestsPerSecond = %v, want 10", tp.RequestsPerSecond)
	}
	if !near(tp.BytesPerSecond, 500.0, 1e-6) {
		t.Errorf("BytesPerSecond = %v, want 500", tp.BytesPerSecond)
	}
}

func TestThroughput_ZeroSpan(t *testing.T) {
	now := time.Now()
	samples := []orchestrator.RequestSample{{Timestamp: now}, {Timestamp: now}, {Timestamp: now}}

	tp := Throughput(samples)
	if tp.RequestsPerSecond != 3 || tp.BytesPerSecond != 0 {
		t.Errorf("Throughput() = %+v, want 3 rps and 0 bps", tp)
	}
	if got := Throughput(nil); got != (ThroughputMetrics{}) {
		t.Errorf("Throughput(nil) = %+v", got)
	}
}

func TestTrend(t *testing.T) {
	rising := make([]float64, 21)
	for i := range rising {
		rising[i] = float64(i)
	}
	tr := Trend(rising)
	if tr.Slope <= 0 || !near(tr.RSquared, 1, 1e-9) || tr.Direction != TrendIncreasing {
		t.Errorf("Trend(rising) = %+v", tr)
	}

	falling := []float64{10, 8, 6, 4, 2}
	if got := Trend(falling).Direction; got != TrendDecreasing {
		t.Errorf("Trend(falling).Direction = %s", got)
	}

	flat := []float64{5, 5, 5, 5, 5}
	tr = Trend(flat)
	if !near(tr.Slope, 0, 1e-12) || tr.Direction != TrendStable {
		t.Errorf("Trend(flat) = %+v", tr)
	}

	if got := Trend(nil); got.Direction != TrendStable {
		t.Errorf("Trend(nil) = %+v", got)
	}

	// tiny slope stays stable even with a perfect fit
	tiny := []float64{1, 1.001, 1.002, 1.003}
	if got := Trend(tiny).Direction; got != TrendStable {
		t.Errorf("Trend(tiny).Direction = %s, want stable", got)
	}
}

func TestSeasonality(t *testing.T) {
	series := make([]float64, 24)
	pattern := []float64{1, 5, 9, 5}
	for i := range series {
		series[i] = pattern[i%4]
	}

	s := Seasonality(series)
	if !s.Detected {
		t.Fatalf("Seasonality() = %+v, want detected", s)
	}
	if s.Period%4 != 0 && s.Period != 2 {
		t.Errorf("Period = %d", s.Period)
	}

	if got := Seasonality([]float64{1, 2, 3}); got.Detected {
		t.Errorf("short series should not be seasonal: %+v", got)
	}
}

func TestAnomalies(t *testing.T) {
	series := make([]float64, 20)
	for i := range series {
		series[i] = 10
	}
	series[7] = 100

	got := Anomalies(series, 0)
	if len(got) != 1 {
		t.Fatalf("Anomalies() = %+v, want 1", got)
	}
	if got[0].Index != 7 || got[0].Value != 100 {
		t.Errorf("anomaly = %+v", got[0])
	}
	if got[0].Severity != SeverityHigh {
		t.Errorf("severity = %s, want high", got[0].Severity)
	}

	if got := Anomalies([]float64{1, 1, 1}, 2.5); got != nil {
		t.Errorf("constant series should have no anomalies: %+v", got)
	}
}

func TestAnomalies_Severity(t *testing.T) {
	// two-point series: both points have z = 1
	series := []float64{0, 2}
	tests := []struct {
		threshold float64
		want      string
	}{
		{0.99, SeverityLow},
		{1 / 1.06, SeverityMedium},
		{1 / 1.2, SeverityHigh},
	}
	for _, tt := range tests {
		got := Anomalies(series, tt.threshold)
		if len(got) != 2 || got[0].Severity != tt.want {
			t.Errorf("threshold %v: %+v, want severity %s", tt.threshold, got, tt.want)
		}
	}
}

func TestCorrelate(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 4, 6, 8, 10}
	c := []float64{5, 4, 3, 2, 1}

	if got := Correlate(a, b); !near(got, 1, 1e-9) {
		t.Errorf("Correlate(a, b) = %v, want 1", got)
	}
	if got := Correlate(a, c); !near(got, -1, 1e-9) {
		t.Errorf("Correlate(a, c) = %v, want -1", got)
	}
	if got := Correlate(a, b[:3]); got != 0 {
		t.Errorf("mismatched lengths = %v, want 0", got)
	}
	if got := Correlate(nil, nil); got != 0 {
		t.Errorf("empty = %v, want 0", got)
	}
	if got := Correlate(a, []float64{1, 1, 1, 1, 1}); got != 0 {
		t.Errorf("constant series = %v, want 0", got)
	}
}

func TestAnalyze(t *testing.T) {
	start := time.Unix(0, 0)
	samples := make([]orchestrator.RequestSample, 10)
	for i := range samples {
		// stored out of order
		j := len(samples) - 1 - i
		samples[i] = orchestrator.RequestSample{
			Timestamp:     start.Add(time.Duration(j) * time.Second),
			LatencyMs:     float64(10 + j*5),
			ResponseBytes: int64(100 * (j + 1)),
		}
	}

	a := Analyze(samples, 0)
	if a.LatencyTrend.Direction != TrendIncreasing {
		t.Errorf("trend = %+v, want increasing", a.LatencyTrend)
	}
	if !near(a.LatencySizeCorrelation, 1, 1e-9) {
		t.Errorf("correlation = %v, want 1", a.LatencySizeCorrelation)
	}
}

func TestAnalyze_LargeSeriesIsBounded(t *testing.T) {
	// 200k samples whose latency repeats every 4000 samples
	start := time.Unix(0, 0)
	levels := []float64{10, 50, 90, 50}
	samples := make([]orchestrator.RequestSample, 200000)
	for i := range samples {
		samples[i] = orchestrator.RequestSample{
			Timestamp:     start.Add(time.Duration(i) * time.Millisecond),
			LatencyMs:     levels[(i/1000)%len(levels)],
			ResponseBytes: 100,
		}
	}

	began := time.Now()
	a := Analyze(samples, 0)
	if elapsed := time.Since(began); elapsed > 2*time.Second {
		t.Errorf("Analyze(200k samples) took %v", elapsed)
	}

	s := a.LatencyTrend.Seasonality
	if !s.Detected {
		t.Fatalf("Seasonality = %+v, want detected", s)
	}
	// 200k samples fall into 1000 buckets of 200
	if s.Period < 400 || s.Period%200 != 0 {
		t.Errorf("Period = %d, want a whole number of 200-sample buckets", s.Period)
	}
}

func TestBucketMeans(t *testing.T) {
	short := []float64{1, 2, 3}
	if got, width := bucketMeans(short, 10); width != 1 || len(got) != 3 {
		t.Errorf("bucketMeans(short) = %v, %d", got, width)
	}

	got, width := bucketMeans([]float64{1, 3, 5, 7, 9}, 2)
	if width != 3 {
		t.Fatalf("width = %d, want 3", width)
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 8 {
		t.Errorf("bucketMeans() = %v, want [3 8]", got)
	}
}
