package http

import (
	"fmt"
	"mime"
	"strings"

	"github.com/tidwall/gjson"
)

// Response is the part of an HTTP response the executor inspects.
type Response struct {
	StatusCode  int
	Status      string
	ContentType string
	Body        []byte
}

// IsSuccess returns true if the response status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsClientError returns true if the response status code is 4xx
func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// IsServerError returns true if the response status code is 5xx
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500
}

// IsJSON reports whether the response declares a JSON media type.
func (r *Response) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Check decides whether the response counts as a success. Any status below
// 400 passes; strict validation additionally requires a 2xx status and a
// well-formed body when the response claims to be JSON.
func (r *Response) Check(strict bool) error {
	if r.IsClientError() || r.IsServerError() {
		return fmt.Errorf("unexpected status: %s", r.statusText())
	}
	if !strict {
		return nil
	}
	if !r.IsSuccess() {
		return fmt.Errorf("validation failed: status %s is not 2xx", r.statusText())
	}
	if r.IsJSON() && !gjson.ValidBytes(r.Body) {
		return fmt.Errorf("validation failed: response body is not valid JSON")
	}
	return nil
}

func (r *Response) statusText() string {
	if r.Status != "" {
		return r.Status
	}
	return fmt.Sprintf("%d", r.StatusCode)
}
