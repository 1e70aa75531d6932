package http

import (
	"net/http/httptrace"
	"sync"
	"time"
)

// serverTimer measures time to first byte: from the moment the request is
// fully written to the first response byte, so connection setup and body
// transfer are excluded. httptrace hooks can fire on transport goroutines.
type serverTimer struct {
	mu      sync.Mutex
	written time.Time
	ttfb    time.Duration
}

func (s *serverTimer) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) {
			s.mu.Lock()
			s.written = time.Now()
			s.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if !s.written.IsZero() {
				s.ttfb = time.Since(s.written)
			}
		},
	}
}

// timeToFirstByte is zero when no response byte arrived.
func (s *serverTimer) timeToFirstByte() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttfb
}
