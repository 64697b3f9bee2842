package cache

import (
	"context"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// Store is the key-value persistence the durable cache writes through.
type Store interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	MultiRemove(keys []string) error
	GetAllKeys() ([]string, error)
}

type durableRecord[V any] struct {
	Value      V     `json:"value"`
	InsertedAt int64 `json:"inserted_at_ms"`
}

// Durable is a TTL cache persisted to a Store. Keys are namespaced so Clear
// and EvictExpired only touch this cache's records. Store failures are logged
// and treated as misses.
type Durable[V any] struct {
	store     Store
	namespace string
	maxAge    time.Duration
	now       Clock
	logger    *log.Entry
}

func NewDurable[V any](store Store, namespace string, maxAge time.Duration, opts ...Option) *Durable[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Durable[V]{
		store:     store,
		namespace: namespace + ":",
		maxAge:    maxAge,
		now:       o.now,
		logger: log.WithFields(log.Fields{
			"module": "cache",
			"cache":  namespace,
		}),
	}
}

func (d *Durable[V]) storeKey(key string) string {
	return d.namespace + key
}

func (d *Durable[V]) Get(key string) (V, bool) {
	var zero V
	raw, ok, err := d.store.GetItem(d.storeKey(key))
	if err != nil {
		d.logger.Warnf("failed to read %s: %v", key, err)
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var record durableRecord[V]
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		d.logger.Warnf("dropping unreadable record %s: %v", key, err)
		d.remove(key)
		return zero, false
	}

	if d.now().Sub(time.UnixMilli(record.InsertedAt)) >= d.maxAge {
		d.remove(key)
		return zero, false
	}
	return record.Value, true
}

func (d *Durable[V]) Set(key string, value V) {
	raw, err := json.Marshal(durableRecord[V]{Value: value, InsertedAt: d.now().UnixMilli()})
	if err != nil {
		d.logger.Warnf("failed to encode %s: %v", key, err)
		return
	}
	if err := d.store.SetItem(d.storeKey(key), string(raw)); err != nil {
		d.logger.Warnf("failed to write %s: %v", key, err)
	}
}

func (d *Durable[V]) Delete(key string) {
	d.remove(key)
}

func (d *Durable[V]) remove(key string) {
	if err := d.store.RemoveItem(d.storeKey(key)); err != nil {
		d.logger.Warnf("failed to remove %s: %v", key, err)
	}
}

// prefixLister is implemented by stores that can filter keys themselves.
type prefixLister interface {
	KeysWithPrefix(prefix string) ([]string, error)
}

func (d *Durable[V]) keys() ([]string, error) {
	if lister, ok := d.store.(prefixLister); ok {
		return lister.KeysWithPrefix(d.namespace)
	}
	all, err := d.store.GetAllKeys()
	if err != nil {
		return nil, err
	}
	owned := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, d.namespace) {
			owned = append(owned, k)
		}
	}
	return owned, nil
}

// Clear removes every record in this cache's namespace.
func (d *Durable[V]) Clear() error {
	keys, err := d.keys()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return d.store.MultiRemove(keys)
}

// EvictExpired removes expired and unreadable records.
func (d *Durable[V]) EvictExpired() (int, error) {
	keys, err := d.keys()
	if err != nil {
		return 0, err
	}

	now := d.now()
	var stale []string
	for _, k := range keys {
		raw, ok, err := d.store.GetItem(k)
		if err != nil || !ok {
			continue
		}
		var record durableRecord[V]
		if err := json.Unmarshal([]byte(raw), &record); err != nil ||
			now.Sub(time.UnixMilli(record.InsertedAt)) >= d.maxAge {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	return len(stale), d.store.MultiRemove(stale)
}

// Run sweeps expired records every interval until ctx is done.
func (d *Durable[V]) Run(ctx context.Context, interval time.Duration) {
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
			n, err := d.EvictExpired()
			if err != nil {
				d.logger.Warnf("sweep failed: %v", err)
				continue
			}
			if n > 0 {
				d.logger.Debugf("swept %d expired records", n)
			}
		}
	}
}
