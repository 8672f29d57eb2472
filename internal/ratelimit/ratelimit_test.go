package ratelimit

import (
	"testing"
	"time"
)

func TestWaitEnforcesInterval(t *testing.T) {
	l := New(30 * time.Millisecond)

	start := time.Now()
	l.Wait() // first call goes through immediately
	l.Wait()
	l.Wait()
	elapsed := time.Since(start)

	if elapsed < 60*time.Millisecond {
		t.Fatalf("expected at least 60ms between three calls, got %s", elapsed)
	}
}

func TestWaitNoDelayAfterIdle(t *testing.T) {
	l := New(20 * time.Millisecond)
	l.Wait()
	time.Sleep(25 * time.Millisecond)

	start := time.Now()
	l.Wait()
	if elapsed := time.Since(start); elapsed > 15*time.Millisecond {
		t.Fatalf("expected no delay after idle period, got %s", elapsed)
	}
}
