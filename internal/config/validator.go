package config

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/batch"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/errs"
)

// Validate reports every invalid field. Zero values are allowed wherever the
// consuming component substitutes a default.
func (c *Config) Validate() error {
	ve := &errs.ValidationErrors{}

	t := c.Selector
	if t.VirtualUsers < 0 {
		ve.Add("selector.virtualUsers", "cannot be negative")
	}
	if t.TotalRequests < 0 {
		ve.Add("selector.totalRequests", "cannot be negative")
	}
	if t.Duration < 0 {
		ve.Add("selector.duration", "cannot be negative")
	}
	if t.PatternComplexity < 0 || t.PatternComplexity > 100 {
		ve.Add("selector.patternComplexity", "must be between 0 and 100")
	}
	if t.SpikeVirtualUsers < 0 {
		ve.Add("selector.spikeVirtualUsers", "cannot be negative")
	}

	if c.Batch.Concurrency < 0 {
		ve.Add("batch.concurrency", "cannot be negative")
	}
	if c.Batch.RetryBaseDelay < 0 {
		ve.Add("batch.retryBaseDelay", "cannot be negative")
	}
	if c.Batch.DelayBetweenTests < 0 {
		ve.Add("batch.delayBetweenTests", "cannot be negative")
	}
	switch c.Batch.PercentileSource {
	case "", batch.PercentilesPerTestAverage, batch.PercentilesRawSamples:
	default:
		ve.Add("batch.percentileSource", fmt.Sprintf("unknown percentile source: %s (must be %s or %s)",
			c.Batch.PercentileSource, batch.PercentilesPerTestAverage, batch.PercentilesRawSamples))
	}

	if c.Runner.DrainTimeout < 0 {
		ve.Add("runner.drainTimeout", "cannot be negative")
	}
	if c.Runner.ProgressInterval < 0 {
		ve.Add("runner.progressInterval", "cannot be negative")
	}

	if c.Engine.AnomalyThreshold < 0 {
		ve.Add("engine.anomalyThreshold", "cannot be negative")
	}
	if c.Engine.ArchiveURL != "" {
		u, err := url.Parse(c.Engine.ArchiveURL)
		switch {
		case err != nil:
			ve.Add("engine.archiveUrl", fmt.Sprintf("invalid URL: %v", err))
		case u.Scheme != "sqlite" && u.Scheme != "redis":
			ve.Add("engine.archiveUrl", fmt.Sprintf("unsupported scheme %q (must be sqlite or redis)", u.Scheme))
		}
	}

	if c.HTTP.Timeout < 0 {
		ve.Add("http.timeout", "cannot be negative")
	}

	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			ve.Add("logging.level", fmt.Sprintf("invalid level: %s", c.Logging.Level))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		ve.Add("logging.format", fmt.Sprintf("invalid format: %s (must be console or json)", c.Logging.Format))
	}

	return ve.Err()
}
