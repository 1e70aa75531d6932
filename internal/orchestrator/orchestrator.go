// Package orchestrator holds the collaborator contracts shared by the
// load test orchestration packages.
//
// The engine never performs I/O itself. Every request is handed to a
// RequestExecutor and comes back as an Outcome, which the runners turn
// into RequestSamples for aggregation.
package orchestrator

import (
	"context"
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

// Outcome is what a RequestExecutor reports for one request.
type Outcome struct {
	Success       bool
	LatencyMs     float64
	ResponseBytes int64

	// TimeToFirstByteMs is the server wait time, zero when not measured
	TimeToFirstByteMs float64

	// Err carries the executor failure, if any
	Err error
}

// RequestExecutor issues a single request.
//
// Implementations must be safe for concurrent use and should honour ctx
// cancellation. Per-request timeouts are the executor's concern.
type RequestExecutor interface {
	Execute(ctx context.Context, req spec.Request) Outcome
}

// ExecutorFunc adapts a function to the RequestExecutor interface.
type ExecutorFunc func(ctx context.Context, req spec.Request) Outcome

// Execute calls f(ctx, req).
func (f ExecutorFunc) Execute(ctx context.Context, req spec.Request) Outcome {
	return f(ctx, req)
}

// RequestSample is one executed request as seen by the aggregator.
type RequestSample struct {
	Timestamp     time.Time `json:"timestamp"`
	LatencyMs     float64   `json:"latencyMs"`
	Success       bool      `json:"success"`
	ResponseBytes int64     `json:"responseBytes"`

	// TimeToFirstByteMs is zero when the executor does not measure it
	TimeToFirstByteMs float64 `json:"ttfbMs,omitempty"`

	// Request is the name of the request template (optional)
	Request string `json:"request,omitempty"`
}
