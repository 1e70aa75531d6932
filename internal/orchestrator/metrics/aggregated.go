// Package metrics collects request samples during a run and reduces them to
// AggregatedMetrics.
package metrics

import (
	"sort"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/stats"
)

// AggregatedMetrics is the reduced view of a run used by assertions and
// reports. Latencies are in milliseconds; ErrorRate is a fraction in [0, 1].
type AggregatedMetrics struct {
	TotalRequests      int64                   `json:"totalRequests"`
	SuccessfulRequests int64                   `json:"successfulRequests"`
	FailedRequests     int64                   `json:"failedRequests"`
	Latency            stats.PercentileSet     `json:"latency"`

	// TimeToFirstByte covers the samples that measured it
	TimeToFirstByte *stats.PercentileSet `json:"timeToFirstByte,omitempty"`

	Throughput         stats.ThroughputMetrics `json:"throughput"`
	ErrorRate          float64                 `json:"errorRate"`
}

// SuccessRate returns successful/total, or 0 when nothing ran.
func (m AggregatedMetrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}

// Aggregate reduces raw samples.
func Aggregate(samples []orchestrator.RequestSample) AggregatedMetrics {
	m := AggregatedMetrics{TotalRequests: int64(len(samples))}
	if len(samples) == 0 {
		return m
	}

	latencies := make([]float64, len(samples))
	var ttfb []float64
	for i, s := range samples {
		latencies[i] = s.LatencyMs
		if s.TimeToFirstByteMs > 0 {
			ttfb = append(ttfb, s.TimeToFirstByteMs)
		}
		if s.Success {
			m.SuccessfulRequests++
		} else {
			m.FailedRequests++
		}
	}

	m.Latency = stats.Percentiles(latencies)
	if len(ttfb) > 0 {
		p := stats.Percentiles(ttfb)
		m.TimeToFirstByte = &p
	}
	m.Throughput = stats.Throughput(samples)
	m.ErrorRate = float64(m.FailedRequests) / float64(m.TotalRequests)
	return m
}

// SortSamples orders samples by timestamp, then latency, then request name,
// so reductions over concurrently collected samples are reproducible.
func SortSamples(samples []orchestrator.RequestSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.LatencyMs != b.LatencyMs {
			return a.LatencyMs < b.LatencyMs
		}
		return a.Request < b.Request
	})
}
