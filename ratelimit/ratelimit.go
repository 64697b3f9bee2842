// Package ratelimit gates outbound catalog calls with a fixed-window counter.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultMaxRequests = 60
	DefaultWindow      = time.Minute
)

// Limiter admits at most maxRequests calls per window. The window resets
// wholesale once it has elapsed; it never slides.
type Limiter struct {
	mutex       sync.Mutex
	maxRequests int
	window      time.Duration
	windowStart time.Time
	count       int
	now         func() time.Time
}

func New(maxRequests int, window time.Duration) *Limiter {
	return NewWithClock(maxRequests, window, time.Now)
}

func NewWithClock(maxRequests int, window time.Duration, now func() time.Time) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		windowStart: now(),
		now:         now,
	}
}

func (l *Limiter) roll(now time.Time) {
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
}

// TryAcquire consumes one slot in the current window. It returns false,
// without waiting, when the window is exhausted.
func (l *Limiter) TryAcquire() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.roll(l.now())
	if l.count >= l.maxRequests {
		return false
	}
	l.count++
	return true
}

func (l *Limiter) Remaining() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.roll(l.now())
	return l.maxRequests - l.count
}

// ResetAt is when the current window rolls over.
func (l *Limiter) ResetAt() time.Time {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.windowStart.Add(l.window)
}
