package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *clock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mutex.Lock()
	c.now = c.now.Add(d)
	c.mutex.Unlock()
}

func TestLimiterFixedWindow(t *testing.T) {
	c := &clock{now: time.Unix(1000, 0)}
	l := NewWithClock(3, time.Second, c.Now)

	for i := 0; i < 3; i++ {
		if !l.TryAcquire() {
			t.Fatalf("call %d rejected inside budget", i+1)
		}
	}
	if l.TryAcquire() {
		t.Fatal("4th call within window should be rejected")
	}
	if l.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", l.Remaining())
	}

	c.Advance(999 * time.Millisecond)
	if l.TryAcquire() {
		t.Fatal("window has not elapsed yet")
	}

	c.Advance(time.Millisecond)
	if !l.TryAcquire() {
		t.Fatal("call rejected after window elapsed")
	}
	if l.Remaining() != 2 {
		t.Errorf("Remaining() = %d, want 2 after reset", l.Remaining())
	}
}

func TestLimiterRejectionDoesNotReset(t *testing.T) {
	c := &clock{now: time.Unix(0, 0)}
	l := NewWithClock(1, time.Minute, c.Now)

	l.TryAcquire()
	start := l.ResetAt()
	for i := 0; i < 5; i++ {
		c.Advance(time.Second)
		l.TryAcquire()
	}
	if !l.ResetAt().Equal(start) {
		t.Errorf("rejections moved the window: %v != %v", l.ResetAt(), start)
	}
}

func TestLimiterDefaults(t *testing.T) {
	l := New(0, 0)
	if l.maxRequests != DefaultMaxRequests || l.window != DefaultWindow {
		t.Errorf("defaults not applied: %d / %v", l.maxRequests, l.window)
	}
}

// Run with -race.
func TestLimiterConcurrentAdmissions(t *testing.T) {
	l := New(25, time.Hour)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 25 {
		t.Errorf("admitted %d calls, want exactly 25", got)
	}
}
