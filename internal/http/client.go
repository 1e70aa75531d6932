// Package http implements the RequestExecutor used by loadctl against real
// HTTP targets.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

// DefaultTimeout applies to requests that declare no timeout.
const DefaultTimeout = 30 * time.Second

// Client issues spec requests over HTTP. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	variables  map[string]string
	timeout    time.Duration
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// NewClient creates a new HTTP client with the given options
func NewClient(options ...ClientOption) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 256

	client := &Client{
		httpClient: &http.Client{Transport: transport},
		headers:    make(map[string]string),
		variables:  make(map[string]string),
		timeout:    DefaultTimeout,
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithTimeout sets the default per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithHeader adds a header sent with every request
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithHeaders adds headers sent with every request
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithVariables sets the values substituted into {{name}} placeholders
func WithVariables(vars map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range vars {
			c.variables[k] = v
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification
func WithInsecureSkipVerify() ClientOption {
	return func(c *Client) {
		if t, ok := c.httpClient.Transport.(*http.Transport); ok {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Bind returns a client sharing c's transport with vars layered over its
// variables.
func (c *Client) Bind(vars map[string]string) *Client {
	out := *c
	out.variables = make(map[string]string, len(c.variables)+len(vars))
	for k, v := range c.variables {
		out.variables[k] = v
	}
	for k, v := range vars {
		out.variables[k] = v
	}
	return &out
}

// Execute issues req and reports its outcome. Latency covers the whole
// exchange including reading the body.
func (c *Client) Execute(ctx context.Context, req spec.Request) orchestrator.Outcome {
	timeout := req.Timeout.Or(c.timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := Build(ctx, req, c.variables)
	if err != nil {
		return orchestrator.Outcome{Err: err}
	}
	for key, value := range c.headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, Substitute(value, c.variables))
		}
	}

	timer := &serverTimer{}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(ctx, timer.trace()))
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		latency := time.Since(start)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("request timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		return orchestrator.Outcome{
			LatencyMs:         ms(latency),
			TimeToFirstByteMs: ms(timer.timeToFirstByte()),
			Err:               err,
		}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	latency := time.Since(start)

	out := orchestrator.Outcome{
		LatencyMs:         ms(latency),
		TimeToFirstByteMs: ms(timer.timeToFirstByte()),
		ResponseBytes:     int64(len(body)),
	}
	if readErr != nil {
		out.Err = fmt.Errorf("reading response body: %w", readErr)
		return out
	}

	r := &Response{
		StatusCode:  resp.StatusCode,
		Status:      resp.Status,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}
	out.Err = r.Check(req.Validate)
	out.Success = out.Err == nil
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
