package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/clock"
)

func TestAggregate(t *testing.T) {
	start := time.Unix(0, 0)
	samples := []orchestrator.RequestSample{
		{Timestamp: start, LatencyMs: 10, Success: true, ResponseBytes: 100},
		{Timestamp: start.Add(time.Second), LatencyMs: 20, Success: true, ResponseBytes: 100},
		{Timestamp: start.Add(2 * time.Second), LatencyMs: 30, Success: false},
		{Timestamp: start.Add(4 * time.Second), LatencyMs: 40, Success: true, ResponseBytes: 200},
	}

	m := Aggregate(samples)

	if m.TotalRequests != 4 || m.SuccessfulRequests != 3 || m.FailedRequests != 1 {
		t.Errorf("counts = %d/%d/%d", m.TotalRequests, m.SuccessfulRequests, m.FailedRequests)
	}
	if m.ErrorRate != 0.25 {
		t.Errorf("ErrorRate = %v, want 0.25", m.ErrorRate)
	}
	if m.SuccessRate() != 0.75 {
		t.Errorf("SuccessRate() = %v, want 0.75", m.SuccessRate())
	}
	if m.Latency.Avg != 25 || m.Latency.Min != 10 || m.Latency.Max != 40 {
		t.Errorf("Latency = %+v", m.Latency)
	}
	if m.Throughput.RequestsPerSecond != 1 {
		t.Errorf("RequestsPerSecond = %v, want 1", m.Throughput.RequestsPerSecond)
	}
	if m.Throughput.BytesPerSecond != 100 {
		t.Errorf("BytesPerSecond = %v, want 100", m.Throughput.BytesPerSecond)
	}
}

func TestAggregate_Empty(t *testing.T) {
	m := Aggregate(nil)
	if m != (AggregatedMetrics{}) {
		t.Errorf("Aggregate(nil) = %+v, want zero", m)
	}
	if m.SuccessRate() != 0 {
		t.Errorf("SuccessRate() = %v", m.SuccessRate())
	}
}

func TestAggregate_TimeToFirstByte(t *testing.T) {
	samples := []orchestrator.RequestSample{
		{LatencyMs: 10, Success: true, TimeToFirstByteMs: 4},
		{LatencyMs: 20, Success: true, TimeToFirstByteMs: 8},
		{LatencyMs: 30, Success: false},
	}

	m := Aggregate(samples)
	if m.TimeToFirstByte == nil {
		t.Fatal("TimeToFirstByte = nil, want figures from the two measured samples")
	}
	if m.TimeToFirstByte.Min != 4 || m.TimeToFirstByte.Max != 8 || m.TimeToFirstByte.Avg != 6 {
		t.Errorf("TimeToFirstByte = %+v", *m.TimeToFirstByte)
	}

	if got := Aggregate(samples[2:]).TimeToFirstByte; got != nil {
		t.Errorf("TimeToFirstByte = %+v, want nil when nothing measured it", *got)
	}
}

func TestAggregatedMetrics_JSONShape(t *testing.T) {
	data, err := json.Marshal(AggregatedMetrics{})
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"totalRequests", "successfulRequests", "failedRequests", "latency", "throughput", "errorRate"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing JSON key %q", key)
		}
	}
	latency := decoded["latency"].(map[string]interface{})
	if _, ok := latency["p95"]; !ok {
		t.Error("latency should expose p95")
	}
}

func TestRecorder_ConcurrentRecord(t *testing.T) {
	r := NewRecorder(clock.NewFake(time.Unix(0, 0)))

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Record(orchestrator.RequestSample{
					Timestamp:     time.Unix(int64(i), 0),
					LatencyMs:     float64(g + 1),
					Success:       i%10 != 0,
					ResponseBytes: 10,
					Request:       "home",
				})
			}
		}(g)
	}
	wg.Wait()

	snap := r.Snapshot()
	if snap.TotalRequests != 1000 {
		t.Errorf("TotalRequests = %d, want 1000", snap.TotalRequests)
	}
	if snap.FailedRequests != 100 {
		t.Errorf("FailedRequests = %d, want 100", snap.FailedRequests)
	}
	if snap.TotalBytes != 10000 {
		t.Errorf("TotalBytes = %d, want 10000", snap.TotalBytes)
	}
	if snap.Latency.Count != 1000 {
		t.Errorf("histogram count = %d, want 1000", snap.Latency.Count)
	}

	stats := r.RequestStats()
	if stats["home"].Count != 1000 {
		t.Errorf("per-request count = %d, want 1000", stats["home"].Count)
	}
}

func TestRecorder_RequestStats(t *testing.T) {
	r := NewRecorder(nil)
	if got := r.RequestStats(); got != nil {
		t.Errorf("RequestStats() = %v, want nil before any named sample", got)
	}

	// below 2048µs the histogram is exact
	r.Record(orchestrator.RequestSample{LatencyMs: 1, Request: "login"})
	r.Record(orchestrator.RequestSample{LatencyMs: 2, Request: "login"})
	r.Record(orchestrator.RequestSample{LatencyMs: 1.5, Request: "search"})
	r.Record(orchestrator.RequestSample{LatencyMs: 7})

	stats := r.RequestStats()
	if len(stats) != 2 {
		t.Fatalf("RequestStats() = %v, want login and search", stats)
	}
	if stats["login"].Count != 2 || stats["login"].Max != 2*time.Millisecond {
		t.Errorf("login = %+v", stats["login"])
	}
	if stats["search"].Count != 1 || stats["search"].P50 != 1500*time.Microsecond {
		t.Errorf("search = %+v", stats["search"])
	}
}

func TestRecorder_SamplesAreOrdered(t *testing.T) {
	r := NewRecorder(nil)
	base := time.Unix(100, 0)
	r.Record(orchestrator.RequestSample{Timestamp: base.Add(2 * time.Second), LatencyMs: 1})
	r.Record(orchestrator.RequestSample{Timestamp: base, LatencyMs: 5})
	r.Record(orchestrator.RequestSample{Timestamp: base, LatencyMs: 3})

	samples := r.Samples()
	if samples[0].LatencyMs != 3 || samples[1].LatencyMs != 5 || samples[2].LatencyMs != 1 {
		t.Errorf("Samples() order = %+v", samples)
	}

	samples[0].LatencyMs = 999
	if r.Samples()[0].LatencyMs == 999 {
		t.Error("Samples() should return a copy")
	}
}

func TestRecorder_SnapshotRate(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	r := NewRecorder(fake)

	for i := 0; i < 20; i++ {
		r.Record(orchestrator.RequestSample{LatencyMs: 12, Success: true})
	}
	r.Begin()
	fake.Advance(2 * time.Second)

	snap := r.Snapshot()
	if snap.RPS != 10 {
		t.Errorf("RPS = %v, want 10", snap.RPS)
	}
	if snap.InFlight != 1 {
		t.Errorf("InFlight = %d, want 1", snap.InFlight)
	}
	if snap.Elapsed != 2*time.Second {
		t.Errorf("Elapsed = %v, want 2s", snap.Elapsed)
	}
	r.End()
	if r.Snapshot().InFlight != 0 {
		t.Error("InFlight should drop after End")
	}
}
