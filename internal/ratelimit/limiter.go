// Package ratelimit provides the process-wide token bucket guarding calls
// to the speech synthesis provider. Construct one Limiter per process and
// pass it to every synthesizer.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	defaultRequestsPerMinute = 60
	windowSeconds            = 60.0
	recheckInterval          = time.Second
)

// Limiter implements a token bucket refilled continuously against a
// per-minute budget. Waits are cooperative sleeps, not spins.
type Limiter struct {
	mu sync.Mutex

	requestsPerMinute int
	tokens            float64
	lastUpdate        time.Time

	totalConsumed int64
	totalWaited   time.Duration
	lastDrain     time.Time

	now func() time.Time
}

// Status reports a snapshot of limiter state for observability.
type Status struct {
	TokensAvailable int
	TokensLimit     int
	TotalConsumed   int64
	TotalWaited     time.Duration
	LastDrain       time.Time
}

// New creates a limiter with the given per-minute request budget.
func New(requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	now := time.Now
	return &Limiter{
		requestsPerMinute: requestsPerMinute,
		tokens:            float64(requestsPerMinute),
		lastUpdate:        now(),
		now:               now,
	}
}

// Acquire blocks until cost tokens are available or the context is
// cancelled. Availability is re-checked about once per second so a drained
// bucket does not strand the caller past a refill. A cost above the bucket's
// capacity is clamped to it, since it could otherwise never be satisfied.
func (l *Limiter) Acquire(ctx context.Context, cost int) error {
	need := l.clampCost(cost)
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= need {
			l.tokens -= need
			l.totalConsumed += int64(need)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(recheckInterval):
			l.mu.Lock()
			l.totalWaited += recheckInterval
			l.mu.Unlock()
		}
	}
}

// TryAcquire consumes cost tokens without blocking. Returns false when the
// bucket cannot cover the cost.
func (l *Limiter) TryAcquire(cost int) bool {
	need := l.clampCost(cost)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens < need {
		return false
	}
	l.tokens -= need
	l.totalConsumed += int64(need)
	return true
}

// clampCost bounds a cost to [1, capacity].
func (l *Limiter) clampCost(cost int) float64 {
	if cost < 1 {
		cost = 1
	}
	if cost > l.requestsPerMinute {
		cost = l.requestsPerMinute
	}
	return float64(cost)
}

// Drain empties the bucket. Called when the provider signals a rate limit
// so subsequent callers back off until the bucket refills.
func (l *Limiter) Drain() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = 0
	l.lastDrain = l.now()
}

// Status returns the current limiter state.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return Status{
		TokensAvailable: int(l.tokens),
		TokensLimit:     l.requestsPerMinute,
		TotalConsumed:   l.totalConsumed,
		TotalWaited:     l.totalWaited,
		LastDrain:       l.lastDrain,
	}
}

// refill adds tokens for elapsed wall time. Caller must hold the lock.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * float64(l.requestsPerMinute) / windowSeconds
	if limit := float64(l.requestsPerMinute); l.tokens > limit {
		l.tokens = limit
	}
}
