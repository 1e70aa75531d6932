package stats

import (
	"sort"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
)

// Analysis is the post-run reduction of a latency series.
type Analysis struct {
	LatencyTrend SeasonalityAwareTrend `json:"latencyTrend"`
	Anomalies    []Anomaly             `json:"anomalies,omitempty"`

	// LatencySizeCorrelation relates latency to response size
	LatencySizeCorrelation float64 `json:"latencySizeCorrelation"`
}

// SeasonalityAwareTrend pairs the linear trend with detected seasonality.
type SeasonalityAwareTrend struct {
	TrendAnalysis
	Seasonality SeasonalityResult `json:"seasonality"`
}

// MaxSeasonalityPoints bounds the series Analyze hands to Seasonality, whose
// period search is quadratic in its input.
const MaxSeasonalityPoints = 1000

// Analyze orders samples by timestamp and reduces their latencies with
// Trend, Seasonality, Anomalies and Correlate.
//
// Seasonality runs over per-bucket mean latencies when the run has more than
// MaxSeasonalityPoints samples; the reported period is scaled back to
// samples.
func Analyze(samples []orchestrator.RequestSample, anomalyThreshold float64) Analysis {
	ordered := make([]orchestrator.RequestSample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	latencies := make([]float64, len(ordered))
	sizes := make([]float64, len(ordered))
	for i, s := range ordered {
		latencies[i] = s.LatencyMs
		sizes[i] = float64(s.ResponseBytes)
	}

	buckets, width := bucketMeans(latencies, MaxSeasonalityPoints)
	seasonality := Seasonality(buckets)
	seasonality.Period *= width

	return Analysis{
		LatencyTrend: SeasonalityAwareTrend{
			TrendAnalysis: Trend(latencies),
			Seasonality:   seasonality,
		},
		Anomalies:              Anomalies(latencies, anomalyThreshold),
		LatencySizeCorrelation: Correlate(latencies, sizes),
	}
}

// bucketMeans averages consecutive runs of width values so that at most
// limit points remain. The last bucket may be shorter.
func bucketMeans(series []float64, limit int) ([]float64, int) {
	if len(series) <= limit {
		return series, 1
	}
	width := (len(series) + limit - 1) / limit

	out := make([]float64, 0, limit)
	for start := 0; start < len(series); start += width {
		end := min(start+width, len(series))
		out = append(out, mean(series[start:end]))
	}
	return out, width
}
