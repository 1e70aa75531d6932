package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/assertion"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/metrics"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/stats"
)

func (s *Scheduler) finish(ctx context.Context, exec *execution, start time.Time) *Result {
	res := &Result{
		Name:             exec.batch.Name,
		PercentileSource: s.opts.PercentileSource,
		StartTime:        start,
	}

	for _, idx := range exec.order {
		t := *exec.results[idx]
		res.Tests = append(res.Tests, t)

		switch t.Status {
		case StatusCompleted:
			res.Completed++
			for _, a := range assertion.Failed(t.Assertions) {
				res.Warnings = append(res.Warnings, fmt.Sprintf("test %s: assertion %q failed: %s", t.TestID, a.Name, a.Message))
			}
		case StatusFailed:
			res.Failed++
			res.Warnings = append(res.Warnings, fmt.Sprintf("test %s failed: %s", t.TestID, t.Error))
		case StatusSkipped:
			res.Skipped++
			res.Warnings = append(res.Warnings, fmt.Sprintf("test %s skipped: %s", t.TestID, t.Error))
		case StatusCancelled:
			res.Cancelled++
		}
	}

	res.Metrics = Aggregate(res.Tests, s.opts.PercentileSource)

	failures := res.Failed + res.Skipped
	switch {
	case ctx.Err() != nil || res.Cancelled > 0:
		res.Status = StatusCancelled
	case failures == 0:
		res.Status = StatusCompleted
	case failures == len(res.Tests):
		res.Status = StatusFailed
	default:
		res.Status = StatusPartial
	}

	res.EndTime = s.clock.Now()
	res.Duration = res.EndTime.Sub(start)

	s.logger.Info("batch finished",
		zap.String("batch", res.Name),
		zap.String("status", string(res.Status)),
		zap.Int("completed", res.Completed),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("cancelled", res.Cancelled),
		zap.Int64("requests", res.Metrics.TotalRequests))

	return res
}

// Aggregate combines the metrics of completed tests and the partial metrics
// of cancelled ones. Failed and skipped tests are left out.
//
// Counts are summed. Average latency and throughput are means weighted by
// each test's request count. With PercentilesPerTestAverage the latency
// distribution fields (min, max, p50..p99) are computed over the per-test
// average latencies; with PercentilesRawSamples everything is recomputed
// from the retained raw samples.
func Aggregate(tests []TestResult, source PercentileSource) metrics.AggregatedMetrics {
	if source == PercentilesRawSamples {
		var samples []orchestrator.RequestSample
		for _, t := range tests {
			if aggregated(t.Status) {
				samples = append(samples, t.Samples...)
			}
		}
		metrics.SortSamples(samples)
		return metrics.Aggregate(samples)
	}

	var out metrics.AggregatedMetrics
	var avgs []float64
	var latencySum, rps, bps float64
	for _, t := range tests {
		if !aggregated(t.Status) || t.Metrics.TotalRequests == 0 {
			continue
		}
		m := t.Metrics
		weight := float64(m.TotalRequests)

		out.TotalRequests += m.TotalRequests
		out.SuccessfulRequests += m.SuccessfulRequests
		out.FailedRequests += m.FailedRequests

		avgs = append(avgs, m.Latency.Avg)
		latencySum += m.Latency.Avg * weight
		rps += m.Throughput.RequestsPerSecond * weight
		bps += m.Throughput.BytesPerSecond * weight
	}
	if out.TotalRequests == 0 {
		return out
	}

	total := float64(out.TotalRequests)
	out.Latency = stats.Percentiles(avgs)
	out.Latency.Avg = latencySum / total
	out.Throughput = stats.ThroughputMetrics{
		RequestsPerSecond: rps / total,
		BytesPerSecond:    bps / total,
	}
	out.ErrorRate = float64(out.FailedRequests) / total
	return out
}

func aggregated(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}
