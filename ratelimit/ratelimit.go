// Package ratelimit implements the per-tenant token bucket with a bounded
// FIFO wait queue described in spec §4.1. It is grounded in the continuous
// refill-from-monotonic-clock token bucket pattern common across the
// example pack (e.g. toolops' resilience.RateLimiter), generalized here to
// per-tenant buckets plus a bounded waiter queue instead of a single global
// bucket with AllowN/WaitN.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/itsneelabh/agentcore/core"
)

// EstimateTokens implements the coarse n_tokens proxy from §4.1:
// max(1, prompt_chars/4).
func EstimateTokens(promptChars int) int {
	n := promptChars / 4
	if n < 1 {
		return 1
	}
	return n
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	reserved   float64 // tokens virtually promised to waiters ahead in the FIFO queue
	lastRefill time.Time
	queueLen   int
}

// Limiter is a registry of per-tenant token buckets sharing one
// configuration. acquire() suspends the caller on a bounded FIFO queue when
// tokens are insufficient, per §4.1 and §5's suspension-point (a).
type Limiter struct {
	cfg     core.RateLimiterConfig
	clock   core.Clock
	mu      sync.Mutex
	buckets map[core.TenantID]*bucket
}

// New constructs a Limiter using the real clock.
func New(cfg core.RateLimiterConfig) *Limiter {
	return NewWithClock(cfg, core.RealClock{})
}

// NewWithClock is New with an injectable clock for deterministic tests.
func NewWithClock(cfg core.RateLimiterConfig, clock core.Clock) *Limiter {
	return &Limiter{cfg: cfg, clock: clock, buckets: make(map[core.TenantID]*bucket)}
}

func (l *Limiter) bucketFor(tenant core.TenantID) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[tenant]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), lastRefill: l.clock.Now()}
		l.buckets[tenant] = b
	}
	return b
}

// ratePerSecond converts the per-minute config into a continuous refill rate.
func (l *Limiter) ratePerSecond() float64 {
	return float64(l.cfg.RequestsPerMinute) / 60.0
}

func (b *bucket) refillLocked(now time.Time, ratePerSec float64, burst int) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * ratePerSec
	if b.tokens > float64(burst) {
		b.tokens = float64(burst)
	}
	b.lastRefill = now
}

// Acquire attempts to consume nTokens from tenant's bucket. If insufficient
// and queuing is enabled (QueueBound > 0), the caller suspends up to
// QueueWaitDeadline; the wait is abandoned (slot freed immediately) if ctx is
// cancelled. Returns core.ErrRateLimited if the queue is full or the
// deadline elapses.
func (l *Limiter) Acquire(ctx context.Context, tenant core.TenantID, nTokens int) error {
	if !tenant.Valid() {
		return core.NewError(core.KindValidation, "ratelimit", tenant, core.ErrInvalidRequest, false)
	}
	if nTokens < 1 {
		nTokens = 1
	}
	b := l.bucketFor(tenant)
	rate := l.ratePerSecond()

	b.mu.Lock()
	now := l.clock.Now()
	b.refillLocked(now, rate, l.cfg.Burst)
	available := b.tokens - b.reserved
	if available >= float64(nTokens) {
		b.tokens -= float64(nTokens)
		b.mu.Unlock()
		return nil
	}

	if l.cfg.QueueBound <= 0 || b.queueLen >= l.cfg.QueueBound {
		b.mu.Unlock()
		return core.NewError(core.KindResource, "ratelimit", tenant, core.ErrRateLimited, true)
	}
	b.queueLen++
	// Virtual scheduling: this waiter's turn comes once enough tokens have
	// accrued to cover both its own request and every waiter already ahead
	// of it in the FIFO queue (tracked via reserved).
	deficit := float64(nTokens) - available
	b.reserved += float64(nTokens)
	b.mu.Unlock()

	wait := time.Duration(deficit / rate * float64(time.Second))
	deadline := l.cfg.QueueWaitDeadline
	if deadline > 0 && wait > deadline {
		// Cannot possibly arrive within the deadline; fail fast instead of
		// holding a queue slot for a doomed wait.
		l.releaseSlot(b, nTokens)
		return core.NewError(core.KindResource, "ratelimit", tenant, core.ErrRateLimited, true)
	}

	timer := l.clock.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		l.releaseSlot(b, nTokens)
		return ctx.Err()
	case <-timer.C():
		l.settle(b, nTokens)
		return nil
	case <-l.deadlineChan(deadline):
		timer.Stop()
		l.releaseSlot(b, nTokens)
		return core.NewError(core.KindResource, "ratelimit", tenant, core.ErrRateLimited, true)
	}
}

func (l *Limiter) deadlineChan(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	return l.clock.After(d)
}

// releaseSlot is called when a waiter abandons the queue (cancellation or
// deadline) without ever consuming its reserved tokens, freeing both its
// queue slot and its reservation for waiters behind it.
func (l *Limiter) releaseSlot(b *bucket, nTokens int) {
	b.mu.Lock()
	if b.queueLen > 0 {
		b.queueLen--
	}
	b.reserved -= float64(nTokens)
	if b.reserved < 0 {
		b.reserved = 0
	}
	b.mu.Unlock()
}

// settle is called when a waiter's virtual turn arrives: it converts the
// reservation into an actual token debit (tokens may transiently go
// negative; refill pays the debt down over time).
func (l *Limiter) settle(b *bucket, nTokens int) {
	b.mu.Lock()
	b.tokens -= float64(nTokens)
	b.reserved -= float64(nTokens)
	if b.reserved < 0 {
		b.reserved = 0
	}
	b.queueLen--
	b.mu.Unlock()
}

// QueueLen reports the current wait-queue depth for tenant, for tests and
// observability.
func (l *Limiter) QueueLen(tenant core.TenantID) int {
	b := l.bucketFor(tenant)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queueLen
}
