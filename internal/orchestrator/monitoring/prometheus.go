// Package monitoring exposes batch and runner activity as Prometheus metrics.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/batch"
)

const namespace = "loadctl"

// PrometheusReporter collects test and request metrics on a private registry.
// It implements batch.Reporter and its ObserveSample method fits
// runner.Options.OnSample.
type PrometheusReporter struct {
	testsTotal   *prometheus.CounterVec
	testDuration *prometheus.HistogramVec
	testsRunning *prometheus.GaugeVec
	retriesTotal *prometheus.CounterVec

	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	responseBytes  *prometheus.CounterVec

	registry *prometheus.Registry
	logger   *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

var _ batch.Reporter = (*PrometheusReporter)(nil)

// NewPrometheusReporter creates a reporter with all collectors registered.
func NewPrometheusReporter(logger *zap.Logger) *PrometheusReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()

	pr := &PrometheusReporter{
		testsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_tests_total",
				Help:      "Batch sub-tests settled, by final status",
			},
			[]string{"batch", "status"},
		),

		testDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_test_duration_seconds",
				Help:      "Wall-clock duration of batch sub-tests including retries",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27m
			},
			[]string{"batch", "status"},
		),

		testsRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batch_tests_running",
				Help:      "Batch sub-tests currently executing",
			},
			[]string{"batch"},
		),

		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_retries_total",
				Help:      "Retry attempts scheduled for batch sub-tests",
			},
			[]string{"batch"},
		),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests executed, by outcome",
			},
			[]string{"test", "outcome"},
		),

		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request latency as reported by the executor",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
			},
			[]string{"test"},
		),

		responseBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "response_bytes_total",
				Help:      "Response bytes received",
			},
			[]string{"test"},
		),

		registry: registry,
		logger:   logger,
	}

	registry.MustRegister(
		pr.testsTotal,
		pr.testDuration,
		pr.testsRunning,
		pr.retriesTotal,
		pr.requestsTotal,
		pr.requestLatency,
		pr.responseBytes,
	)

	return pr
}

// TestStarted implements batch.Reporter.
func (pr *PrometheusReporter) TestStarted(batchName, _ string) {
	pr.testsRunning.WithLabelValues(batchName).Inc()
}

// TestFinished implements batch.Reporter. Skipped and cancelled tests never
// started, so they leave the running gauge alone.
func (pr *PrometheusReporter) TestFinished(batchName string, res batch.TestResult) {
	status := string(res.Status)
	if res.Attempts > 0 {
		pr.testsRunning.WithLabelValues(batchName).Dec()
		pr.testDuration.WithLabelValues(batchName, status).Observe(res.Duration.Seconds())
	}
	pr.testsTotal.WithLabelValues(batchName, status).Inc()
}

// RetryScheduled implements batch.Reporter.
func (pr *PrometheusReporter) RetryScheduled(batchName, _ string, _ int, _ time.Duration) {
	pr.retriesTotal.WithLabelValues(batchName).Inc()
}

// ObserveSample records one executed request.
func (pr *PrometheusReporter) ObserveSample(testID string, s orchestrator.RequestSample) {
	outcome := "success"
	if !s.Success {
		outcome = "failure"
	}
	pr.requestsTotal.WithLabelValues(testID, outcome).Inc()
	pr.requestLatency.WithLabelValues(testID).Observe(s.LatencyMs / 1000)
	if s.ResponseBytes > 0 {
		pr.responseBytes.WithLabelValues(testID).Add(float64(s.ResponseBytes))
	}
}

// Registry returns the reporter's private registry.
func (pr *PrometheusReporter) Registry() *prometheus.Registry {
	return pr.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pr *PrometheusReporter) Handler() http.Handler {
	return promhttp.HandlerFor(pr.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics and /health on addr until Shutdown.
func (pr *PrometheusReporter) StartServer(addr string) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.server != nil {
		return fmt.Errorf("metrics server already running")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", pr.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	pr.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	pr.listener = ln

	srv := pr.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pr.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	pr.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the address the metrics server listens on, or "" when it is
// not running.
func (pr *PrometheusReporter) Addr() string {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.listener == nil {
		return ""
	}
	return pr.listener.Addr().String()
}

// Shutdown stops the metrics server if it is running.
func (pr *PrometheusReporter) Shutdown(ctx context.Context) error {
	pr.mu.Lock()
	srv := pr.server
	pr.server = nil
	pr.listener = nil
	pr.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
