// Package config holds the engine configuration: executor selection
// thresholds, batch and runner defaults, logging and optional integrations.
//
// A Config is a plain value. It is built once (Default or Load) and passed to
// the components that need it; nothing reads configuration from globals.
//
// Example YAML:
//
//	selector:
//	  virtualUsers: 5000
//	  duration: 30m
//	batch:
//	  retryBaseDelay: 2s
//	  percentileSource: raw-samples
//	runner:
//	  drainTimeout: 10s
//	logging:
//	  level: debug
//	  format: json
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/batch"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/runner"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/selector"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/stats"
)

// Config is the top-level engine configuration.
type Config struct {
	Selector selector.Thresholds `yaml:"selector" json:"selector"`
	Batch    batch.Options       `yaml:"batch" json:"batch"`
	Runner   runner.Options      `yaml:"runner" json:"runner"`
	Engine   Engine              `yaml:"engine" json:"engine"`
	HTTP     HTTP                `yaml:"http" json:"http"`
	Logging  Logging             `yaml:"logging" json:"logging"`
}

// Engine configures the orchestration pipeline.
type Engine struct {
	// FallbackToPatternRunner runs heavy-load selections in-process when no
	// external heavy-load runner is available
	FallbackToPatternRunner bool `yaml:"fallbackToPatternRunner" json:"fallbackToPatternRunner"`

	// AnomalyThreshold is the z-score used by run analysis
	AnomalyThreshold float64 `yaml:"anomalyThreshold" json:"anomalyThreshold"`

	// ArchiveURL receives raw samples after each run (sqlite://path or
	// redis://host:port/db); empty disables archiving
	ArchiveURL string `yaml:"archiveUrl" json:"archiveUrl"`

	// MetricsAddr serves Prometheus metrics while a run is active
	MetricsAddr string `yaml:"metricsAddr" json:"metricsAddr"`
}

// HTTP configures the HTTP request executor.
type HTTP struct {
	Timeout  time.Duration     `yaml:"timeout" json:"timeout"`
	Headers  map[string]string `yaml:"headers" json:"headers"`
	Insecure bool              `yaml:"insecure" json:"insecure"`
}

// Logging configures the zap logger.
type Logging struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Selector: selector.DefaultThresholds(),
		Batch:    batch.DefaultOptions(),
		Runner:   runner.DefaultOptions(),
		Engine: Engine{
			FallbackToPatternRunner: true,
			AnomalyThreshold:        stats.DefaultAnomalyThreshold,
		},
		HTTP: HTTP{
			Timeout: 30 * time.Second,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML configuration file over the defaults and validates it.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
