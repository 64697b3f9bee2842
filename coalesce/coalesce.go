// Package coalesce merges identical in-flight requests and bounds how many
// run at once.
package coalesce

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

const DefaultMaxConcurrent = 4

type Task[T any] func(ctx context.Context) (T, error)

type call[T any] struct {
	done   chan struct{}
	value  T
	err    error
	refs   int
	ctx    context.Context
	cancel context.CancelFunc
	start  func()
}

// Coalescer runs at most one task per key at a time and at most
// maxConcurrent tasks overall. Tasks beyond the limit wait in FIFO order.
//
// A caller that gives up (ctx done) detaches silently; the shared task is
// canceled only once every caller waiting on it has detached.
type Coalescer[T any] struct {
	mutex         sync.Mutex
	calls         map[string]*call[T]
	pending       []*call[T]
	running       int
	maxConcurrent int
	logger        *log.Entry
}

func New[T any](maxConcurrent int) *Coalescer[T] {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Coalescer[T]{
		calls:         make(map[string]*call[T]),
		maxConcurrent: maxConcurrent,
		logger: log.WithFields(log.Fields{
			"module": "coalesce",
		}),
	}
}

// Run returns the result of task, or of the identical task already in flight for key.
func (c *Coalescer[T]) Run(ctx context.Context, key string, task Task[T]) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	c.mutex.Lock()
	if existing, ok := c.calls[key]; ok {
		existing.refs++
		c.mutex.Unlock()
		c.logger.Tracef("joined in-flight call %s", key)
		return c.wait(ctx, key, existing)
	}

	// the task outlives any single caller; it is canceled when the last one leaves
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cl := &call[T]{
		done:   make(chan struct{}),
		refs:   1,
		ctx:    taskCtx,
		cancel: cancel,
	}
	cl.start = func() { c.execute(key, cl, task) }
	c.calls[key] = cl

	if c.running < c.maxConcurrent {
		c.running++
		go cl.start()
	} else {
		c.pending = append(c.pending, cl)
		c.logger.Tracef("queued %s behind %d running calls", key, c.running)
	}
	c.mutex.Unlock()

	return c.wait(ctx, key, cl)
}

func (c *Coalescer[T]) wait(ctx context.Context, key string, cl *call[T]) (T, error) {
	select {
	case <-cl.done:
		return cl.value, cl.err
	case <-ctx.Done():
		c.mutex.Lock()
		cl.refs--
		if cl.refs == 0 {
			cl.cancel()
			if c.calls[key] == cl {
				delete(c.calls, key)
			}
		}
		c.mutex.Unlock()
		var zero T
		return zero, ctx.Err()
	}
}

func (c *Coalescer[T]) execute(key string, cl *call[T], task Task[T]) {
	defer cl.cancel()

	if err := cl.ctx.Err(); err != nil {
		cl.err = err
	} else {
		cl.value, cl.err = task(cl.ctx)
	}

	c.mutex.Lock()
	if c.calls[key] == cl {
		delete(c.calls, key)
	}
	c.advance()
	c.mutex.Unlock()

	close(cl.done)
}

// advance hands the freed slot to the oldest queued call that still has
// callers. Must hold c.mutex.
func (c *Coalescer[T]) advance() {
	for len(c.pending) > 0 {
		next := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		if next.ctx.Err() != nil {
			// every caller left while it was queued
			next.err = next.ctx.Err()
			close(next.done)
			continue
		}
		go next.start()
		return
	}
	c.running--
}

// InFlight is the number of distinct keys currently running or queued.
func (c *Coalescer[T]) InFlight() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.calls)
}

func (c *Coalescer[T]) Running() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.running
}

func (c *Coalescer[T]) Pending() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.pending)
}
