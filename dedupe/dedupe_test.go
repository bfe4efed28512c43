package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itsneelabh/agentcore/core"
)

// TestConcurrentIdenticalRequestsCoalesce reproduces spec §8 scenario 3:
// 10 concurrent identical requests invoke the provider exactly once; all 10
// callers receive the same response; in-flight coalescing count is 9.
func TestConcurrentIdenticalRequestsCoalesce(t *testing.T) {
	d := New(core.DeduperConfig{RecentTTL: 300 * time.Second})
	var calls int32

	var wg sync.WaitGroup
	results := make([]Result, 10)
	joins := make([]int, 10)
	start := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			r, stats, err := d.Do(context.Background(), "fp1", func(ctx context.Context) (any, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(20 * time.Millisecond)
				return "4", nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = r
			joins[i] = stats.InFlightJoins
		}(i)
	}
	close(start)
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected provider invoked exactly once, got %d", calls)
	}
	joinCount := 0
	for _, r := range results {
		if r.Value != "4" {
			t.Fatalf("expected all callers to see the same result, got %v", r.Value)
		}
	}
	for _, j := range joins {
		joinCount += j
	}
	if joinCount != 9 {
		t.Fatalf("expected 9 in-flight joins, got %d", joinCount)
	}
}

func TestRecentCacheHitSkipsUnderlyingCall(t *testing.T) {
	fc := core.NewFakeClock(time.Unix(0, 0))
	d := NewWithClock(core.DeduperConfig{RecentTTL: 300 * time.Second}, fc)
	var calls int32
	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	}

	if _, _, err := d.Do(context.Background(), "fp1", fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fc.Advance(100 * time.Second)
	r, stats, err := d.Do(context.Background(), "fp1", fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.RecentHits != 1 || r.Value != "ok" {
		t.Fatalf("expected recent-cache hit, got stats=%+v result=%+v", stats, r)
	}
	if calls != 1 {
		t.Fatalf("expected provider invoked only once across both calls, got %d", calls)
	}
}

func TestRecentCacheExpiresAfterTTL(t *testing.T) {
	fc := core.NewFakeClock(time.Unix(0, 0))
	d := NewWithClock(core.DeduperConfig{RecentTTL: 10 * time.Second}, fc)
	var calls int32
	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	}
	_, _, _ = d.Do(context.Background(), "fp1", fn)
	fc.Advance(11 * time.Second)
	_, stats, _ := d.Do(context.Background(), "fp1", fn)
	if stats.RecentHits != 0 {
		t.Fatalf("expected cache expired, got a hit")
	}
	if calls != 2 {
		t.Fatalf("expected provider invoked again after TTL expiry, got %d", calls)
	}
}

func TestSubscriberCancellationDoesNotCancelSharedCall(t *testing.T) {
	d := New(core.DeduperConfig{RecentTTL: time.Minute})
	started := make(chan struct{})
	finishSignal := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		close(started)
		<-finishSignal
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return "done", nil
	}

	// Subscriber A starts the shared call.
	ctx1, cancel1 := context.WithCancel(context.Background())
	doneA := make(chan struct{})
	go func() {
		_, _, _ = d.Do(ctx1, "fp1", fn)
		close(doneA)
	}()
	<-started

	// Subscriber B joins the same in-flight call before A cancels, so the
	// shared call now has two subscribers.
	resB := make(chan Result, 1)
	go func() {
		r, _, _ := d.Do(context.Background(), "fp1", fn)
		resB <- r
	}()
	time.Sleep(10 * time.Millisecond)

	// A cancels; since B is still waiting, the shared call must not be
	// cancelled.
	cancel1()
	<-doneA

	close(finishSignal)
	got := <-resB
	if got.Value != "done" {
		t.Fatalf("expected shared call to complete successfully despite one subscriber cancelling, got %+v", got)
	}
}
