package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mutex.Lock()
	f.now = f.now.Add(d)
	f.mutex.Unlock()
}

func TestTTLGetAfterSet(t *testing.T) {
	clock := newFakeClock()
	c := New[string, string](time.Minute, WithClock(clock.Now))

	c.Set("song", "url")
	got, ok := c.Get("song")
	if !ok || got != "url" {
		t.Fatalf("Get() = (%q, %v), want (url, true)", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get() on absent key reported a hit")
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New[string, int](time.Minute, WithClock(clock.Now))

	c.Set("k", 1)
	clock.Advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired early")
	}

	// exactly maxAge counts as expired
	clock.Advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should have expired at maxAge")
	}
	if c.Len() != 0 {
		t.Errorf("expired hit was not deleted, Len() = %d", c.Len())
	}

	c.Set("k", 2)
	if got, ok := c.Get("k"); !ok || got != 2 {
		t.Errorf("Set after expiry: Get() = (%d, %v), want (2, true)", got, ok)
	}
}

func TestTTLSetOverwritesAndRestamps(t *testing.T) {
	clock := newFakeClock()
	c := New[string, int](time.Minute, WithClock(clock.Now))

	c.Set("k", 1)
	clock.Advance(50 * time.Second)
	c.Set("k", 2)
	clock.Advance(50 * time.Second)

	got, ok := c.Get("k")
	if !ok || got != 2 {
		t.Errorf("Get() = (%d, %v), want (2, true)", got, ok)
	}
}

func TestTTLMaxEntriesEvictsOldestInserted(t *testing.T) {
	c := New[string, int](time.Hour, WithMaxEntries(2))

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // reads do not refresh insertion order
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Error("oldest inserted entry should have been evicted")
	}
	for _, k := range []string{"b", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("entry %q missing", k)
		}
	}

	// overwriting an existing key moves it to the back without evicting
	c.Set("b", 20)
	c.Set("d", 4)
	if _, ok := c.Get("c"); ok {
		t.Error("c should be evicted after b was re-inserted")
	}
	if got, _ := c.Get("b"); got != 20 {
		t.Errorf("b = %d, want 20", got)
	}
}

func TestTTLEvictExpired(t *testing.T) {
	clock := newFakeClock()
	c := New[string, int](time.Minute, WithClock(clock.Now))

	c.Set("old1", 1)
	c.Set("old2", 2)
	clock.Advance(30 * time.Second)
	c.Set("fresh", 3)
	clock.Advance(30 * time.Second)

	if n := c.EvictExpired(); n != 2 {
		t.Errorf("EvictExpired() = %d, want 2", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestTTLRunSweepsUntilCanceled(t *testing.T) {
	c := New[string, int](10 * time.Millisecond)
	c.Set("k", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(time.Second)
	for c.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never removed the expired entry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// TestTTLConcurrentAccess is meant to be run with -race.
func TestTTLConcurrentAccess(t *testing.T) {
	c := New[string, int](time.Minute, WithMaxEntries(16))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%20)
			c.Set(key, i)
			c.Get(key)
			if i%7 == 0 {
				c.EvictExpired()
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 16 {
		t.Errorf("Len() = %d exceeds max entries", c.Len())
	}
}
