package fetch

import (
	"context"
	"sync"
	"time"
)

// Throttle enforces the global minimum delay between requests to the
// remote host. It is the single shared mutable politeness state: every
// worker reserves its slot through the same instance, and rate-limit
// escalations widen the shared interval, not just the offending task's.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	max      time.Duration
	nextAt   time.Time
	now      func() time.Time
}

// NewThrottle builds a throttle starting at interval, never escalating
// beyond max (0 means uncapped).
func NewThrottle(interval, max time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		max:      max,
		now:      time.Now,
	}
}

// Wait blocks until the caller may issue its next request, reserving the
// slot atomically so concurrent workers space out by the full interval.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	now := t.now()
	start := t.nextAt
	if start.Before(now) {
		start = now
	}
	end := start.Add(t.interval)
	t.nextAt = end
	t.mu.Unlock()

	wait := start.Sub(now)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// Hand the reserved slot back unless another waiter already
		// queued behind it.
		t.mu.Lock()
		if t.nextAt.Equal(end) {
			t.nextAt = start
		}
		t.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Escalate doubles the shared interval in response to a rate-limit signal
// and returns the new value. The read-modify-write happens under the lock,
// so concurrent escalations never lose updates.
func (t *Throttle) Escalate() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.interval * 2
	if next == 0 {
		next = time.Second
	}
	if t.max > 0 && next > t.max {
		next = t.max
	}
	t.interval = next
	return next
}

// Suspend pushes the next request slot at least d into the future, used
// when the source supplies an explicit Retry-After.
func (t *Throttle) Suspend(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	resume := t.now().Add(d)
	if resume.After(t.nextAt) {
		t.nextAt = resume
	}
}

// Interval returns the current shared inter-request interval.
func (t *Throttle) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// SetClock overrides the time source for tests.
func (t *Throttle) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}
