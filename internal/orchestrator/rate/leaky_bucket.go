// Package rate caps request dispatch at a target rate.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/loadctl/internal/orchestrator/clock"
)

// LeakyBucket spaces dispatches so they never exceed a fixed rate.
//
// The bucket keeps a virtual drip time that advances by 1/rate per dispatch.
// Next returns when the next dispatch may start; if the caller is behind,
// the returned time is already due and nothing waits. The first dispatch is
// always immediate.
//
// All timing goes through a clock.Clock, so the bucket can be driven by
// clock.Fake in tests.
//
// LeakyBucket is safe for concurrent use.
type LeakyBucket struct {
	clock       clock.Clock
	rate        float64 // dispatches per second
	lastDrip    time.Time
	accumulated float64
	maxBurst    float64
	mu          sync.Mutex

	totalDispatches atomic.Int64
	totalWaitTime   atomic.Int64
}

// NewLeakyBucket creates a bucket dispatching at rate per second. A
// non-positive rate defaults to 1. A nil clock uses the wall clock.
func NewLeakyBucket(c clock.Clock, rate float64) *LeakyBucket {
	if c == nil {
		c = clock.Real()
	}
	if rate <= 0 {
		rate = 1.0
	}
	return &LeakyBucket{
		clock:       c,
		rate:        rate,
		lastDrip:    c.Now(),
		accumulated: 1.0,
		maxBurst:    1.0,
	}
}

// Next reserves the next dispatch slot and returns its start time.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.clock.Now()
	elapsed := now.Sub(lb.lastDrip).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	lb.accumulated += elapsed * lb.rate
	if lb.accumulated > lb.maxBurst {
		lb.accumulated = lb.maxBurst
	}

	lb.totalDispatches.Add(1)

	if lb.accumulated >= 1.0 {
		lb.accumulated -= 1.0
		if now.After(lb.lastDrip) {
			lb.lastDrip = now
		}
		return now
	}

	deficit := 1.0 - lb.accumulated
	lb.accumulated = 0

	// lastDrip may already be in the future if other callers reserved slots
	from := now
	if lb.lastDrip.After(now) {
		from = lb.lastDrip
	}
	next := from.Add(time.Duration(deficit / lb.rate * float64(time.Second)))
	lb.lastDrip = next

	lb.totalWaitTime.Add(int64(next.Sub(now)))
	return next
}

// Wait blocks until the next dispatch slot, or until ctx is done.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	next := lb.Next()
	return lb.clock.Sleep(ctx, next.Sub(lb.clock.Now()))
}

// Rate returns the dispatch rate per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Stats returns counters describing the bucket's operation.
func (lb *LeakyBucket) Stats() Stats {
	return Stats{
		Rate:            lb.Rate(),
		TotalDispatches: lb.totalDispatches.Load(),
		TotalWaitTime:   time.Duration(lb.totalWaitTime.Load()),
	}
}

// Stats describes a bucket's operation.
type Stats struct {
	Rate            float64       `json:"rate"`
	TotalDispatches int64         `json:"totalDispatches"`
	TotalWaitTime   time.Duration `json:"totalWaitTime"`
}
