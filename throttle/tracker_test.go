package throttle

import (
	"sync"
	"testing"
	"time"
)

func TestRecordNeverShortensPenalty(t *testing.T) {
	tr := New()
	now := time.Now()

	tr.Record("A", 30*time.Second, now)
	longUntil := tr.State("A").Until

	tr.Record("A", 5*time.Second, now)
	if got := tr.State("A").Until; !got.Equal(longUntil) {
		t.Fatalf("expected penalty to stay at %v, got %v", longUntil, got)
	}
}

func TestIsThrottled(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.Record("A", 10*time.Second, now)

	if !tr.IsThrottled("A", now) {
		t.Fatal("expected A to be throttled immediately after recording")
	}
	if tr.IsThrottled("A", now.Add(11*time.Second)) {
		t.Fatal("expected A to clear after its penalty elapses")
	}
	if tr.IsThrottled("B", now) {
		t.Fatal("B was never throttled")
	}
}

func TestSoonestClear(t *testing.T) {
	tr := New()
	now := time.Now()

	if _, ok := tr.SoonestClear(now); ok {
		t.Fatal("expected no throttled sources yet")
	}

	tr.Record("A", 30*time.Second, now)
	tr.Record("B", 5*time.Second, now)

	wait, ok := tr.SoonestClear(now)
	if !ok {
		t.Fatal("expected a throttled source")
	}
	if wait != 5*time.Second {
		t.Fatalf("expected soonest clear of 5s (source B), got %v", wait)
	}
}

func TestClearExpired(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.Record("A", 1*time.Second, now)

	tr.ClearExpired(now.Add(2 * time.Second))

	if tr.IsThrottled("A", now.Add(2*time.Second)) {
		t.Fatal("A should have cleared")
	}
	if got := tr.State("A").Count; got != 0 {
		t.Fatalf("expected state to be wiped after expiry, got count %d", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := New()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Record("A", time.Duration(i)*time.Millisecond, now)
			tr.IsThrottled("A", now)
			tr.SoonestClear(now)
		}(i)
	}
	wg.Wait()
}
