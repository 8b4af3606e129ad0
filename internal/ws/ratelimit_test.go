package ws

import (
	"testing"
	"time"
)

func TestRateLimiterBurstAndRefill(t *testing.T) {
	l := NewRateLimiter(100, 500)
	base := time.Now()

	if !l.allowAt(base, 500) {
		t.Fatal("initial burst of 500 rejected")
	}
	if l.allowAt(base, 1) {
		t.Error("acquire(1) on an empty bucket succeeded")
	}
	if !l.allowAt(base.Add(time.Second), 100) {
		t.Error("acquire(100) after one second of refill rejected")
	}
	if l.allowAt(base.Add(time.Second), 1) {
		t.Error("acquire(1) right after draining the refill succeeded")
	}
}

func TestRateLimiterNeverExceedsBurst(t *testing.T) {
	l := NewRateLimiter(100, 500)
	base := time.Now()

	l.allowAt(base, 500)
	// A long idle period refills to the burst cap, not beyond it.
	if l.allowAt(base.Add(time.Hour), 501) {
		t.Error("acquire(501) succeeded, bucket exceeded burst")
	}
	if !l.allowAt(base.Add(time.Hour), 500) {
		t.Error("acquire(500) after long idle rejected")
	}
}

func TestRateLimiterAcquire(t *testing.T) {
	l := NewRateLimiter(100, 500)
	if !l.Acquire(500) {
		t.Fatal("Acquire(500) on a fresh limiter rejected")
	}
	if l.Acquire(500) {
		t.Error("immediate second Acquire(500) succeeded")
	}
}
