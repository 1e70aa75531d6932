package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// Substitute replaces {{name}} placeholders with values from vars. Unknown
// placeholders are left as written.
func Substitute(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Build constructs an *http.Request from a spec request, substituting
// variables into the URL, headers and body.
func Build(ctx context.Context, req spec.Request, vars map[string]string) (*http.Request, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	rawURL := Substitute(req.URL, vars)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid request URL %q: scheme must be http or https", rawURL)
	}

	var body io.Reader
	payload := Substitute(req.Body, vars)
	if payload != "" {
		body = strings.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, Substitute(value, vars))
	}

	// Set Content-Type to application/json if the body is JSON and none was given
	if payload != "" && httpReq.Header.Get("Content-Type") == "" && gjson.Valid(payload) {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	return httpReq, nil
}
