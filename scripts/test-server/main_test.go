package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMux(t *testing.T) {
	mux := newMux(zap.NewNop())

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"status code", http.MethodGet, "/status/418", http.StatusTeapot},
		{"bad status code", http.MethodGet, "/status/abc", http.StatusBadRequest},
		{"slow", http.MethodGet, "/slow?ms=1", http.StatusOK},
		{"never flaky", http.MethodGet, "/flaky?rate=0", http.StatusOK},
		{"always flaky", http.MethodGet, "/flaky?rate=1.1", http.StatusServiceUnavailable},
		{"list items", http.MethodGet, "/api/items", http.StatusOK},
		{"create item", http.MethodPost, "/api/items", http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
