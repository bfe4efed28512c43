// Package circuitbreaker implements the per-provider Closed/Open/HalfOpen
// state machine from §4.2. It is grounded in the framework's
// resilience.CircuitBreaker (atomic state, sliding window, half-open token
// tracking) but trimmed to a list of failure timestamps pruned to the
// configured Window (no per-bucket counters) and no manual
// force-open/force-closed knobs.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/itsneelabh/agentcore/core"
)

// State is one of Closed, Open, HalfOpen.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrorClassifier reports whether err should count as a circuit-breaker
// failure. Rate-limit and validation errors must not count (§4.2);
// cancellations count as neither success nor failure.
type ErrorClassifier func(err error) bool

// DefaultClassifier counts every non-nil error as a failure except
// Validation- and Resource-kind *core.Error values and cancellation
// (context.Canceled, context.DeadlineExceeded, core.ErrCancelled); plain
// provider errors count.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	var fe *core.Error
	if as(err, &fe) {
		switch fe.Kind {
		case core.KindValidation, core.KindResource:
			return false
		case core.KindInternal:
			return fe.Err != core.ErrCancelled
		}
	}
	return true
}

// as is a tiny errors.As shim kept local to avoid importing errors twice for
// one call site; behaves identically.
func as(err error, target **core.Error) bool {
	for err != nil {
		if e, ok := err.(*core.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

type failureRecord struct {
	at time.Time
}

// Breaker is one provider's circuit breaker. Closed counts failures in a
// sliding window; Open fails fast; HalfOpen admits exactly one probe at a
// time (§5: "at most one in-flight probe").
type Breaker struct {
	cfg       core.CircuitBreakerConfig
	classify  ErrorClassifier
	clock     core.Clock

	mu             sync.Mutex
	state          State
	failures       []failureRecord
	openedAt       time.Time
	halfOpenInUse  bool
	halfOpenSucc   int
	listeners      []func(from, to State)
}

// New constructs a Breaker using the real clock and DefaultClassifier.
func New(cfg core.CircuitBreakerConfig) *Breaker {
	return NewWithClock(cfg, DefaultClassifier, core.RealClock{})
}

// NewWithClock is New with an injectable clock and classifier, for tests.
func NewWithClock(cfg core.CircuitBreakerConfig, classify ErrorClassifier, clock core.Clock) *Breaker {
	if classify == nil {
		classify = DefaultClassifier
	}
	return &Breaker{cfg: cfg, classify: classify, clock: clock, state: Closed}
}

// OnStateChange registers a listener invoked synchronously on every
// transition; used by the Gateway to log/emit metrics.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == Open {
		b.openedAt = b.clock.Now()
		b.halfOpenInUse = false
		b.halfOpenSucc = 0
	}
	if to == HalfOpen {
		b.halfOpenInUse = false
		b.halfOpenSucc = 0
	}
	if to == Closed {
		b.failures = nil
	}
	for _, l := range b.listeners {
		l(from, to)
	}
}

// admit evaluates whether a new call may proceed, transitioning Open->HalfOpen
// after cooldown. isProbe reports whether this call consumed the sole
// HalfOpen probe slot; the caller passes it on to recordResult, which frees
// the slot.
func (b *Breaker) admit() (allowed bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.pruneLocked(now)

	switch b.state {
	case Closed:
		return true, false
	case Open:
		if now.Sub(b.openedAt) >= b.cfg.Cooldown {
			b.transition(HalfOpen)
			b.halfOpenInUse = true
			return true, true
		}
		return false, false
	case HalfOpen:
		if b.halfOpenInUse {
			return false, false
		}
		b.halfOpenInUse = true
		return true, true
	}
	return false, false
}

func (b *Breaker) pruneLocked(now time.Time) {
	if b.cfg.Window <= 0 {
		return
	}
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for ; i < len(b.failures); i++ {
		if b.failures[i].at.After(cutoff) {
			break
		}
	}
	b.failures = b.failures[i:]
}

// Execute runs fn with circuit breaker protection: if the circuit is open,
// fn is never called and core.ErrCircuitOpen is returned immediately.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	allowed, isProbe := b.admit()
	if !allowed {
		return core.NewError(core.KindAvailability, "circuitbreaker", "", core.ErrCircuitOpen, true)
	}
	err := fn()
	b.recordResult(err, isProbe)
	return err
}

// ExecuteWithTimeout is Execute plus a hard deadline on fn, per §5.
func (b *Breaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	allowed, isProbe := b.admit()
	if !allowed {
		return core.NewError(core.KindAvailability, "circuitbreaker", "", core.ErrCircuitOpen, true)
	}
	cctx, cancel := ctx, func() {}
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()
	err := fn(cctx)
	b.recordResult(err, isProbe)
	return err
}

func (b *Breaker) recordResult(err error, isProbe bool) {
	if !b.classify(err) && err != nil {
		// Not a counted failure (validation/rate-limit/cancellation): release
		// the half-open slot without affecting counts either way.
		b.releaseProbe(isProbe)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if isProbe {
		b.halfOpenInUse = false
	}

	if err == nil {
		switch b.state {
		case HalfOpen:
			b.halfOpenSucc++
			if b.halfOpenSucc >= b.cfg.SuccessThreshold {
				b.transition(Closed)
			}
		case Closed:
			// steady-state success; nothing to do.
		}
		return
	}

	// Failure.
	now := b.clock.Now()
	switch b.state {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		b.failures = append(b.failures, failureRecord{at: now})
		b.pruneLocked(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	}
}

func (b *Breaker) releaseProbe(isProbe bool) {
	if !isProbe {
		return
	}
	b.mu.Lock()
	b.halfOpenInUse = false
	b.mu.Unlock()
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset manually returns the breaker to Closed, clearing counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Closed)
}
