package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/batch"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/errs"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Selector.VirtualUsers != 5000 {
		t.Errorf("Selector.VirtualUsers = %d, want 5000", cfg.Selector.VirtualUsers)
	}
	if cfg.Selector.Duration != 30*time.Minute {
		t.Errorf("Selector.Duration = %v, want 30m", cfg.Selector.Duration)
	}
	if cfg.Batch.PercentileSource != batch.PercentilesPerTestAverage {
		t.Errorf("Batch.PercentileSource = %s, want %s", cfg.Batch.PercentileSource, batch.PercentilesPerTestAverage)
	}
	if cfg.Runner.DrainTimeout != 5*time.Second {
		t.Errorf("Runner.DrainTimeout = %v, want 5s", cfg.Runner.DrainTimeout)
	}
	if !cfg.Engine.FallbackToPatternRunner {
		t.Error("Engine.FallbackToPatternRunner should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loadctl.yaml")

	content := `
selector:
  virtualUsers: 100
  duration: 5m
batch:
  concurrency: 4
  retryBaseDelay: 250ms
  percentileSource: raw-samples
runner:
  drainTimeout: 2s
  hardTimeout: true
engine:
  fallbackToPatternRunner: false
  archiveUrl: sqlite:///tmp/samples.db
http:
  timeout: 3s
  headers:
    Authorization: Bearer token
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Selector.VirtualUsers != 100 {
		t.Errorf("Selector.VirtualUsers = %d, want 100", cfg.Selector.VirtualUsers)
	}
	if cfg.Selector.Duration != 5*time.Minute {
		t.Errorf("Selector.Duration = %v, want 5m", cfg.Selector.Duration)
	}
	if cfg.Selector.TotalRequests != 10000 {
		t.Errorf("Selector.TotalRequests = %d, want default 10000", cfg.Selector.TotalRequests)
	}
	if cfg.Batch.Concurrency != 4 || cfg.Batch.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if cfg.Batch.PercentileSource != batch.PercentilesRawSamples {
		t.Errorf("Batch.PercentileSource = %s", cfg.Batch.PercentileSource)
	}
	if cfg.Runner.DrainTimeout != 2*time.Second || !cfg.Runner.HardTimeout {
		t.Errorf("Runner = %+v", cfg.Runner)
	}
	if cfg.Runner.ProgressInterval != time.Second {
		t.Errorf("Runner.ProgressInterval = %v, want default 1s", cfg.Runner.ProgressInterval)
	}
	if cfg.Engine.FallbackToPatternRunner {
		t.Error("Engine.FallbackToPatternRunner should be false")
	}
	if cfg.HTTP.Timeout != 3*time.Second || cfg.HTTP.Headers["Authorization"] != "Bearer token" {
		t.Errorf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"malformed yaml", "selector: [", "error parsing config file"},
		{"bad duration", "runner:\n  drainTimeout: soon\n", "error parsing config file"},
		{"invalid value", "batch:\n  percentileSource: median\n", "batch.percentileSource"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Load(missing) error = %v, want not found", err)
	}
}

func TestParse_ValidationIsTyped(t *testing.T) {
	_, err := Parse([]byte("logging:\n  level: loud\n"))
	if !errs.IsValidation(err) {
		t.Errorf("Parse() error = %v, want a validation error", err)
	}
}
