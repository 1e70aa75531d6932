// Command test-server is a local target for trying loadctl specs.
//
//	go run ./scripts/test-server --addr :8080
//	loadctl run --var baseUrl=http://localhost:8080 examples/checkout.yaml
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMux(logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
	})

	// /status/{code} answers with the given status code
	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.URL.Path[len("/status/"):])
		if err != nil || code < 100 || code > 599 {
			http.Error(w, "invalid status code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(code)
		fmt.Fprint(w, http.StatusText(code))
	})

	// /slow?ms=250 delays the response
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		ms, _ := strconv.Atoi(r.URL.Query().Get("ms"))
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, "OK")
	})

	// /flaky?rate=0.1 fails the given fraction of requests
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		rate, _ := strconv.ParseFloat(r.URL.Query().Get("rate"), 64)
		if rand.Float64() < rate {
			http.Error(w, "injected failure", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "OK")
	})

	mux.HandleFunc("/api/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		}
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []string{"alpha", "beta", "gamma"},
			"at":    time.Now().UTC(),
		}); err != nil {
			logger.Warn("writing response failed", zap.Error(err))
		}
	})

	return mux
}

func main() {
	var addr string

	cmd := &cobra.Command{
		Use:   "test-server",
		Short: "Local HTTP target for loadctl specs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			server := &http.Server{
				Addr:              addr,
				Handler:           newMux(logger),
				ReadTimeout:       5 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       120 * time.Second,
				MaxHeaderBytes:    1 << 20,
				ReadHeaderTimeout: 2 * time.Second,
			}

			logger.Info("test server listening",
				zap.String("addr", addr),
				zap.Int("cpus", runtime.NumCPU()))
			return server.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
