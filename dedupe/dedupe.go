// Package dedupe implements the Gateway's request coalescing described in
// spec §4.3: an in-flight map that coalesces concurrent identical requests
// onto one underlying call, and a recent-result cache that skips the call
// entirely within a TTL window. It is grounded in the framework's
// resilience/orchestration response-cache pattern (map + mutex + expiresAt)
// generalized with reference-counted cancellation from core.RefCountedCancel.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/itsneelabh/agentcore/core"
)

// Result is whatever the underlying call produced; the Deduper is generic
// over it via `any` to stay usable for both generate() and embed().
type Result struct {
	Value any
	Err   error
}

type inflight struct {
	mu       sync.Mutex
	done     chan struct{}
	result   Result
	refcount *core.RefCountedCancel
	ctx      context.Context
}

type cached struct {
	result    Result
	expiresAt time.Time
}

// Deduper coalesces concurrent identical calls by fingerprint and caches
// recent results for cfg.RecentTTL.
type Deduper struct {
	cfg   core.DeduperConfig
	clock core.Clock

	mu       sync.Mutex
	inFlight map[string]*inflight
	recent   map[string]cached
}

// New constructs a Deduper using the real clock.
func New(cfg core.DeduperConfig) *Deduper {
	return NewWithClock(cfg, core.RealClock{})
}

// NewWithClock is New with an injectable clock for deterministic TTL tests.
func NewWithClock(cfg core.DeduperConfig, clock core.Clock) *Deduper {
	return &Deduper{
		cfg:      cfg,
		clock:    clock,
		inFlight: make(map[string]*inflight),
		recent:   make(map[string]cached),
	}
}

// Stats is a snapshot of coalescing activity, for scenario 3's assertions.
type Stats struct {
	RecentHits      int
	InFlightJoins   int
}

// Do executes fn at most once per fingerprint across all concurrent and
// recent callers. The first caller for a fingerprint runs fn; concurrent
// callers subscribe to its result; callers within RecentTTL after
// completion get the cached result without calling fn again.
func (d *Deduper) Do(ctx context.Context, fingerprint string, fn func(context.Context) (any, error)) (Result, *Stats, error) {
	stats := &Stats{}

	d.mu.Lock()
	if c, ok := d.recent[fingerprint]; ok {
		if d.clock.Now().Before(c.expiresAt) {
			d.mu.Unlock()
			stats.RecentHits = 1
			return c.result, stats, nil
		}
		delete(d.recent, fingerprint)
	}

	if f, ok := d.inFlight[fingerprint]; ok {
		f.mu.Lock()
		f.refcount.Add()
		f.mu.Unlock()
		d.mu.Unlock()
		stats.InFlightJoins = 1
		r, _, err := d.subscribe(ctx, f)
		return r, stats, err
	}

	fctx, rc := core.NewRefCountedCancel(context.Background(), 1)
	f := &inflight{done: make(chan struct{}), refcount: rc, ctx: fctx}
	d.inFlight[fingerprint] = f
	d.mu.Unlock()

	go d.run(fingerprint, f, fn)

	return d.subscribe(ctx, f)
}

// run executes fn once on behalf of the first caller and fans the result out
// to every subscriber, then populates the recent cache.
func (d *Deduper) run(fingerprint string, f *inflight, fn func(context.Context) (any, error)) {
	value, err := fn(f.ctx)
	f.mu.Lock()
	f.result = Result{Value: value, Err: err}
	f.refcount.Complete()
	close(f.done)
	f.mu.Unlock()

	d.mu.Lock()
	delete(d.inFlight, fingerprint)
	if d.cfg.RecentTTL > 0 {
		d.recent[fingerprint] = cached{result: f.result, expiresAt: d.clock.Now().Add(d.cfg.RecentTTL)}
	}
	d.mu.Unlock()
}

// subscribe waits for f to complete or ctx to be cancelled. On cancellation
// only this subscriber's slot is released; the shared call keeps running
// until the last subscriber leaves or it finishes on its own.
func (d *Deduper) subscribe(ctx context.Context, f *inflight) (Result, *Stats, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		r := f.result
		f.mu.Unlock()
		return r, &Stats{}, nil
	case <-ctx.Done():
		f.mu.Lock()
		f.refcount.Release()
		f.mu.Unlock()
		return Result{}, &Stats{}, ctx.Err()
	}
}

// CleanupExpired drops recent-cache entries past their TTL; callers may run
// this periodically instead of relying solely on lazy eviction inside Do.
func (d *Deduper) CleanupExpired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	removed := 0
	for k, c := range d.recent {
		if !now.Before(c.expiresAt) {
			delete(d.recent, k)
			removed++
		}
	}
	return removed
}
