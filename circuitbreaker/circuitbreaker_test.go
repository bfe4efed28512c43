package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/itsneelabh/agentcore/core"
)

var errTransient = errors.New("transient provider error")

// TestCircuitBreakerScenario reproduces spec §8 scenario 5: 5 consecutive
// Transient failures open the breaker; the next call fails fast without
// touching the provider; after cooldown one probe is admitted; two
// successes close it again.
func TestCircuitBreakerScenario(t *testing.T) {
	fc := core.NewFakeClock(time.Unix(0, 0))
	cfg := core.CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 30 * time.Second, Window: 60 * time.Second}
	cb := NewWithClock(cfg, func(error) bool { return true }, fc)

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func() error { return errTransient })
		if err != errTransient {
			t.Fatalf("call %d: expected transient error passthrough, got %v", i, err)
		}
	}
	if cb.GetState() != Open {
		t.Fatalf("expected Open after 5th failure, got %v", cb.GetState())
	}

	providerCalled := false
	err := cb.Execute(context.Background(), func() error { providerCalled = true; return nil })
	if providerCalled {
		t.Fatalf("expected provider never called while Open")
	}
	var fe *core.Error
	if !errors.As(err, &fe) || fe.Err != core.ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	fc.Advance(30 * time.Second)

	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("expected first half-open probe to succeed, got %v", err)
	}
	if cb.GetState() != HalfOpen {
		t.Fatalf("expected still HalfOpen after one success (threshold 2), got %v", cb.GetState())
	}
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("expected second half-open probe to succeed, got %v", err)
	}
	if cb.GetState() != Closed {
		t.Fatalf("expected Closed after success_threshold consecutive successes, got %v", cb.GetState())
	}
}

func TestHalfOpenAdmitsOnlyOneProbe(t *testing.T) {
	fc := core.NewFakeClock(time.Unix(0, 0))
	cfg := core.CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 10 * time.Second, Window: time.Minute}
	cb := NewWithClock(cfg, func(error) bool { return true }, fc)

	_ = cb.Execute(context.Background(), func() error { return errTransient })
	if cb.GetState() != Open {
		t.Fatalf("expected Open")
	}
	fc.Advance(10 * time.Second)

	admitted, blocked := 0, 0
	release := make(chan struct{})
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			err := cb.Execute(context.Background(), func() error {
				admitted++
				<-release
				return nil
			})
			if err != nil {
				blocked++
			}
			done <- struct{}{}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	if admitted != 1 {
		t.Fatalf("expected exactly one in-flight half-open probe, admitted=%d", admitted)
	}
	close(release)
	<-done
	<-done
	if blocked != 1 {
		t.Fatalf("expected exactly one caller rejected while the probe was in flight, blocked=%d", blocked)
	}
}

func TestRateLimitErrorsDoNotCountAsFailures(t *testing.T) {
	cfg := core.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cb := New(cfg)
	rateLimited := core.NewError(core.KindResource, "gateway", "t1", core.ErrRateLimited, true)
	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func() error { return rateLimited })
	}
	if cb.GetState() != Closed {
		t.Fatalf("expected rate-limit errors to never open the breaker, state=%v", cb.GetState())
	}
}
