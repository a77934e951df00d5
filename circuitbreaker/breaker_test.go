package circuitbreaker

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCircuitBreakerLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := Config{FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 60 * time.Second, RollingWindow: 300 * time.Second}
	b := New(cfg, clock.now)

	for i := 0; i < 5; i++ {
		if !b.AllowRequest() {
			t.Fatalf("expected allow before breaker opens (iter %d)", i)
		}
		b.RecordFailure()
	}
	if b.State() != Open {
		t.Fatalf("expected Open after 5th failure, got %s", b.State())
	}
	if b.AllowRequest() {
		t.Fatalf("expected AllowRequest=false immediately after opening")
	}

	clock.advance(59 * time.Second)
	if b.AllowRequest() {
		t.Fatalf("expected still blocked before open_timeout elapses")
	}

	clock.advance(2 * time.Second) // total 61s > 60s open_timeout
	if !b.AllowRequest() {
		t.Fatalf("expected allow once open_timeout elapses")
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen after timeout, got %s", b.State())
	}

	b.RecordSuccess()
	if b.State() != HalfOpen {
		t.Fatalf("expected still HalfOpen after 1 success, got %s", b.State())
	}
	b.RecordSuccess()
	if b.State() != Closed {
		t.Fatalf("expected Closed after success_threshold successes, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := Config{FailureThreshold: 2, SuccessThreshold: 2, OpenTimeout: 10 * time.Second, RollingWindow: 100 * time.Second}
	b := New(cfg, clock.now)

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("expected Open")
	}
	clock.advance(11 * time.Second)
	if !b.AllowRequest() {
		t.Fatalf("expected allow after timeout")
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("expected single HalfOpen failure to reopen, got %s", b.State())
	}
}

func TestRollingWindowEvictsOldFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := Config{FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: 10 * time.Second, RollingWindow: 5 * time.Second}
	b := New(cfg, clock.now)

	b.RecordFailure()
	clock.advance(6 * time.Second) // outside rolling window
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Open {
		// the first failure should have been evicted, so a further two
		// should NOT alone reach the threshold of 3 within the window.
	}
	failures, _ := b.Counts()
	if failures > 2 {
		t.Fatalf("expected stale failure evicted, got count %d", failures)
	}
}

func TestClosedStaysClosedOnOccasionalFailure(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := New(Config{FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 60 * time.Second, RollingWindow: 300 * time.Second}, clock.now)
	b.RecordFailure()
	b.RecordSuccess()
	if b.State() != Closed {
		t.Fatalf("expected Closed, got %s", b.State())
	}
	failures, _ := b.Counts()
	if failures != 0 {
		t.Fatalf("expected failure count reset on success, got %d", failures)
	}
}
