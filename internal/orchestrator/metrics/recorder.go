package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/clock"
)

const (
	// histogram range: 1 microsecond to 1 hour, 3 significant figures
	histogramMin     = 1
	histogramMax     = 3600000000
	histogramSigFigs = 3
)

// Recorder collects the samples of one test run.
//
// Counters are atomic and the HDR histogram gives O(1) percentiles for the
// live Snapshot and the per-request breakdown. The raw samples are retained
// for the exact reduction done by Aggregate and for archive export.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	clock clock.Clock
	start time.Time

	hist   *hdrhistogram.Histogram
	histMu sync.Mutex

	requestHists   map[string]*hdrhistogram.Histogram
	requestHistsMu sync.Mutex

	samples   []orchestrator.RequestSample
	samplesMu sync.Mutex

	total    atomic.Int64
	success  atomic.Int64
	failed   atomic.Int64
	bytes    atomic.Int64
	inFlight atomic.Int64
}

// NewRecorder creates a recorder whose elapsed time is measured on c.
func NewRecorder(c clock.Clock) *Recorder {
	if c == nil {
		c = clock.Real()
	}
	return &Recorder{
		clock:        c,
		start:        c.Now(),
		hist:         hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs),
		requestHists: make(map[string]*hdrhistogram.Histogram),
	}
}

// Record adds one sample.
func (r *Recorder) Record(s orchestrator.RequestSample) {
	micros := int64(s.LatencyMs * 1000)
	if micros < histogramMin {
		micros = histogramMin
	}
	if micros > histogramMax {
		micros = histogramMax
	}

	r.histMu.Lock()
	_ = r.hist.RecordValue(micros)
	r.histMu.Unlock()

	if s.Request != "" {
		r.requestHistsMu.Lock()
		h, ok := r.requestHists[s.Request]
		if !ok {
			h = hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)
			r.requestHists[s.Request] = h
		}
		_ = h.RecordValue(micros)
		r.requestHistsMu.Unlock()
	}

	r.samplesMu.Lock()
	r.samples = append(r.samples, s)
	r.samplesMu.Unlock()

	r.total.Add(1)
	r.bytes.Add(s.ResponseBytes)
	if s.Success {
		r.success.Add(1)
	} else {
		r.failed.Add(1)
	}
}

// Begin and End track requests currently being executed.
func (r *Recorder) Begin() { r.inFlight.Add(1) }

func (r *Recorder) End() { r.inFlight.Add(-1) }

// Samples returns a copy of the recorded samples in timestamp order.
func (r *Recorder) Samples() []orchestrator.RequestSample {
	r.samplesMu.Lock()
	out := make([]orchestrator.RequestSample, len(r.samples))
	copy(out, r.samples)
	r.samplesMu.Unlock()

	SortSamples(out)
	return out
}

// Snapshot is a live, approximate view of a running test.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	InFlight        int64         `json:"inFlight"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	ErrorRate       float64       `json:"errorRate"`
	Elapsed         time.Duration `json:"elapsed"`
}

// LatencyStats are histogram-derived latency figures.
type LatencyStats struct {
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Count int64         `json:"count"`
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:   time.Duration(h.Min()) * time.Microsecond,
		Max:   time.Duration(h.Max()) * time.Microsecond,
		Mean:  time.Duration(h.Mean()) * time.Microsecond,
		P50:   time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:   time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:   time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:   time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count: h.TotalCount(),
	}
}

// Snapshot returns the current live view.
func (r *Recorder) Snapshot() Snapshot {
	r.histMu.Lock()
	latency := latencyStats(r.hist)
	r.histMu.Unlock()

	elapsed := r.clock.Now().Sub(r.start)
	total := r.total.Load()
	failed := r.failed.Load()

	var rps, errorRate float64
	if elapsed > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return Snapshot{
		TotalRequests:   total,
		SuccessRequests: r.success.Load(),
		FailedRequests:  failed,
		TotalBytes:      r.bytes.Load(),
		InFlight:        r.inFlight.Load(),
		Latency:         latency,
		RPS:             rps,
		ErrorRate:       errorRate,
		Elapsed:         elapsed,
	}
}

// RequestStats returns per-request-name latency figures for samples that
// carry a request name. It is nil when none do.
func (r *Recorder) RequestStats() map[string]LatencyStats {
	r.requestHistsMu.Lock()
	defer r.requestHistsMu.Unlock()

	if len(r.requestHists) == 0 {
		return nil
	}
	out := make(map[string]LatencyStats, len(r.requestHists))
	for name, h := range r.requestHists {
		out[name] = latencyStats(h)
	}
	return out
}
