package batch

import (
	"testing"
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/metrics"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/stats"
)

func completed(id string, total, failed int64, avg, rps float64, samples []orchestrator.RequestSample) TestResult {
	return TestResult{
		TestID: id,
		Status: StatusCompleted,
		Metrics: metrics.AggregatedMetrics{
			TotalRequests:      total,
			SuccessfulRequests: total - failed,
			FailedRequests:     failed,
			Latency:            stats.PercentileSet{Avg: avg, Min: avg / 2, Max: avg * 4, P99: avg * 3},
			Throughput:         stats.ThroughputMetrics{RequestsPerSecond: rps, BytesPerSecond: rps * 100},
			ErrorRate:          float64(failed) / float64(total),
		},
		Samples: samples,
	}
}

func TestAggregate_PerTestAverage(t *testing.T) {
	tests := []TestResult{
		completed("a", 10, 1, 100, 5, nil),
		completed("b", 30, 3, 200, 15, nil),
		{TestID: "c", Status: StatusFailed, Metrics: metrics.AggregatedMetrics{TotalRequests: 7, FailedRequests: 7}},
		{TestID: "d", Status: StatusSkipped},
		{TestID: "e", Status: StatusCancelled},
	}

	got := Aggregate(tests, PercentilesPerTestAverage)

	if got.TotalRequests != 40 || got.SuccessfulRequests != 36 || got.FailedRequests != 4 {
		t.Fatalf("counts = %d/%d/%d, want 40/36/4", got.TotalRequests, got.SuccessfulRequests, got.FailedRequests)
	}
	if got.ErrorRate != 0.1 {
		t.Errorf("ErrorRate = %v, want 0.1", got.ErrorRate)
	}
	// weighted: (100×10 + 200×30) / 40
	if got.Latency.Avg != 175 {
		t.Errorf("Latency.Avg = %v, want 175", got.Latency.Avg)
	}
	// distribution of per-test averages [100, 200]
	if got.Latency.P50 != 150 || got.Latency.Min != 100 || got.Latency.Max != 200 {
		t.Errorf("Latency = %+v, want p50 150 min 100 max 200", got.Latency)
	}
	// weighted: (5×10 + 15×30) / 40
	if got.Throughput.RequestsPerSecond != 12.5 {
		t.Errorf("RequestsPerSecond = %v, want 12.5", got.Throughput.RequestsPerSecond)
	}
}

func TestAggregate_RawSamples(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(offset int, latency float64) orchestrator.RequestSample {
		return orchestrator.RequestSample{Timestamp: base.Add(time.Duration(offset) * time.Second), LatencyMs: latency, Success: true}
	}

	tests := []TestResult{
		completed("a", 2, 0, 0, 0, []orchestrator.RequestSample{mk(0, 10), mk(1, 20)}),
		completed("b", 2, 0, 0, 0, []orchestrator.RequestSample{mk(2, 30), mk(4, 1000)}),
		{TestID: "c", Status: StatusCancelled, Samples: []orchestrator.RequestSample{mk(3, 5000)}},
	}

	got := Aggregate(tests, PercentilesRawSamples)
	if got.TotalRequests != 5 {
		t.Fatalf("TotalRequests = %d, want 5 including the cancelled test's sample", got.TotalRequests)
	}
	if got.Latency.Max != 5000 {
		t.Errorf("Latency.Max = %v, want 5000 (raw tail visible)", got.Latency.Max)
	}
	if got.Throughput.RequestsPerSecond != 1.25 {
		t.Errorf("RequestsPerSecond = %v, want 1.25", got.Throughput.RequestsPerSecond)
	}

	avg := Aggregate(tests, PercentilesPerTestAverage)
	if avg.Latency.Max == got.Latency.Max {
		t.Errorf("per-test-average and raw-samples should differ for a skewed tail")
	}
}

func TestAggregate_CancelledKeepsPartialMetrics(t *testing.T) {
	partial := completed("c", 10, 0, 300, 20, nil)
	partial.Status = StatusCancelled

	tests := []TestResult{completed("a", 30, 3, 100, 10, nil), partial}

	got := Aggregate(tests, PercentilesPerTestAverage)
	if got.TotalRequests != 40 || got.FailedRequests != 3 {
		t.Fatalf("counts = %d total / %d failed, want 40/3", got.TotalRequests, got.FailedRequests)
	}
	// weighted: (100×30 + 300×10) / 40
	if got.Latency.Avg != 150 {
		t.Errorf("Latency.Avg = %v, want 150", got.Latency.Avg)
	}
	if got.Latency.Max != 300 {
		t.Errorf("Latency.Max = %v, want 300", got.Latency.Max)
	}
}

func TestAggregate_Empty(t *testing.T) {
	got := Aggregate(nil, PercentilesPerTestAverage)
	if got != (metrics.AggregatedMetrics{}) {
		t.Errorf("Aggregate(nil) = %+v, want zero", got)
	}
}
