// Package clock provides the time source used for all scheduling decisions.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock is a time source plus a cancellable delay primitive.
//
// The pattern runner and the batch scheduler never call time.Sleep or
// time.Now directly, so tests can substitute a Fake.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case. Non-positive durations return immediately.
	Sleep(ctx context.Context, d time.Duration) error

	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real returns the wall clock.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a virtual clock. Sleep advances virtual time instantly instead of
// blocking, which makes schedules and backoff curves observable in tests.
//
// Fake is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	waiters []waiter
}

type waiter struct {
	at time.Time
	c  chan time.Time
}

// NewFake creates a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances virtual time by d and records the request.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	f.mu.Lock()
	f.now = f.now.Add(d)
	f.sleeps = append(f.sleeps, d)
	f.fireLocked()
	f.mu.Unlock()
	return nil
}

// Advance moves virtual time forward without recording a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.fireLocked()
	f.mu.Unlock()
}

// After returns a channel that fires once virtual time reaches now+d,
// through Sleep or Advance. Non-positive durations fire immediately.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)

	f.mu.Lock()
	defer f.mu.Unlock()

	at := f.now.Add(d)
	if !at.After(f.now) {
		c <- f.now
		return c
	}
	f.waiters = append(f.waiters, waiter{at: at, c: c})
	return c
}

func (f *Fake) fireLocked() {
	pending := f.waiters[:0]
	for _, w := range f.waiters {
		if w.at.After(f.now) {
			pending = append(pending, w)
			continue
		}
		w.c <- f.now
	}
	f.waiters = pending
}

// Sleeps returns every positive duration passed to Sleep, in call order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}
