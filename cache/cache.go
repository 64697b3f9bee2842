// Package cache holds the TTL caches shared by the HTTP client and the track resolver.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxAge        = time.Hour
	DefaultSweepInterval = 15 * time.Minute
)

// Clock returns the current time. Tests swap it to move time forward.
type Clock func() time.Time

type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
}

// TTL is an in-memory cache whose entries expire maxAge after insertion.
// When maxEntries is positive the least-recently-inserted entry is evicted
// to make room for a new key.
type TTL[K comparable, V any] struct {
	mutex      sync.Mutex
	items      map[K]*list.Element
	order      *list.List
	maxAge     time.Duration
	maxEntries int
	now        Clock
	logger     *log.Entry
}

type Option func(*options)

type options struct {
	maxEntries int
	now        Clock
	name       string
}

func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

func WithClock(now Clock) Option {
	return func(o *options) { o.now = now }
}

// WithName labels the cache in log output.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func New[K comparable, V any](maxAge time.Duration, opts ...Option) *TTL[K, V] {
	o := options{now: time.Now, name: "ttl"}
	for _, opt := range opts {
		opt(&o)
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &TTL[K, V]{
		items:      make(map[K]*list.Element),
		order:      list.New(),
		maxAge:     maxAge,
		maxEntries: o.maxEntries,
		now:        o.now,
		logger: log.WithFields(log.Fields{
			"module": "cache",
			"cache":  o.name,
		}),
	}
}

func (c *TTL[K, V]) expired(e *entry[K, V], now time.Time) bool {
	return now.Sub(e.insertedAt) >= c.maxAge
}

// Get returns the cached value for key. Expired entries are deleted and
// reported as a miss.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.expired(e, c.now()) {
		c.removeElement(el)
		c.logger.Tracef("expired hit for %v", key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry and stamping the current time.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	if c.maxEntries > 0 {
		for c.order.Len() >= c.maxEntries {
			oldest := c.order.Front()
			if oldest == nil {
				break
			}
			c.logger.Tracef("evicting %v, cache full", oldest.Value.(*entry[K, V]).key)
			c.removeElement(oldest)
		}
	}

	el := c.order.PushBack(&entry[K, V]{key: key, value: value, insertedAt: c.now()})
	c.items[key] = el
}

func (c *TTL[K, V]) Delete(key K) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

func (c *TTL[K, V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.order.Len()
}

func (c *TTL[K, V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// EvictExpired removes every expired entry and returns how many were dropped.
func (c *TTL[K, V]) EvictExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*entry[K, V]), now) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (c *TTL[K, V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.EvictExpired(); n > 0 {
				c.logger.Debugf("swept %d expired entries", n)
			}
		}
	}
}

func (c *TTL[K, V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[K, V])
	delete(c.items, e.key)
	c.order.Remove(el)
}
