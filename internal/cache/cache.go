// Package cache is a time-boxed key/value store with request deduplication
// and stale-while-revalidate read-through semantics.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vietddude/resilient/internal/metrics"
)

// FetchFunc loads the value for a key on miss or refresh.
type FetchFunc func(ctx context.Context) (any, error)

// Config bounds cache growth.
type Config struct {
	// MaxEntries is the entry-count budget enforced by the sweep
	// (oldest-written evicted first). 0 means unbounded.
	MaxEntries int `yaml:"max_entries"`
	// MaxAge evicts entries regardless of TTL once they are this old.
	MaxAge time.Duration `yaml:"max_age"`
	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// DefaultTTL applies when GetOrFetch is called with ttl <= 0.
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// RefreshTimeout bounds one background revalidation.
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

type entry struct {
	value     any
	writtenAt time.Time
	ttl       time.Duration
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.writtenAt) < e.ttl
}

// Cache is safe for concurrent use. Concurrent reads of the same missing key
// share one in-flight fetch.
type Cache struct {
	cfg Config
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	// gens invalidates in-flight fetch results: a Set or Invalidate bumps the
	// key generation, and a fetch that started under an older generation must
	// not overwrite the newer value when it lands.
	gens map[string]uint64

	group singleflight.Group

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a cache and starts its background sweep.
func New(cfg Config, log *slog.Logger) *Cache {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Second
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Cache{
		cfg:     cfg,
		log:     log,
		entries: make(map[string]*entry),
		gens:    make(map[string]uint64),
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Get returns the entry for key if present, and whether it is still fresh.
func (c *Cache) Get(key string) (value any, fresh bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, false
	}
	return e.value, e.fresh(time.Now()), true
}

// Set writes through to the cache. It bumps the key generation and drops any
// in-flight fetch, so a read racing the write cannot resurrect the old value.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	c.mu.Lock()
	c.gens[key]++
	c.entries[key] = &entry{value: value, writtenAt: time.Now(), ttl: ttl}
	c.mu.Unlock()
	c.group.Forget(key)
}

// GetOrFetch is the primary read path.
//
// Fresh hit: returned at once, no fetch. Stale hit: the stale value is
// returned at once and one background refresh is triggered. Miss: the fetch
// runs in the caller's goroutine; concurrent callers for the same key share
// the in-flight fetch and receive the same value or the same error.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration) (any, error) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		if e.fresh(time.Now()) {
			metrics.CacheHits.WithLabelValues("fresh").Inc()
			return e.value, nil
		}

		// Serve stale immediately, refresh in the background. The
		// singleflight group collapses concurrent refreshes for the key.
		metrics.CacheHits.WithLabelValues("stale").Inc()
		stale := e.value
		go c.refresh(key, fetch, ttl)
		return stale, nil
	}

	metrics.CacheMisses.Inc()
	v, err, shared := c.group.Do(key, func() (any, error) {
		gen := c.genOf(key)
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.storeIf(key, gen, value, ttl)
		return value, nil
	})
	if shared {
		metrics.CacheCoalesced.Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", key, err)
	}
	return v, nil
}

// Invalidate force-expires one key so the next read refetches.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	c.gens[key]++
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// InvalidatePrefix force-expires every key with the given prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	var dropped []string
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			c.gens[k]++
			delete(c.entries, k)
			dropped = append(dropped, k)
		}
	}
	c.mu.Unlock()

	for _, k := range dropped {
		c.group.Forget(k)
	}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// refresh revalidates one stale key. Deduplicated per key by singleflight.
// A failed refresh leaves the stale entry in place; it was already served.
func (c *Cache) refresh(key string, fetch FetchFunc, ttl time.Duration) {
	_, err, _ := c.group.Do(key, func() (any, error) {
		gen := c.genOf(key)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
		defer cancel()

		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.storeIf(key, gen, value, ttl)
		return value, nil
	})
	if err != nil {
		c.log.Debug("Background revalidation failed", "key", key, "error", err)
	}
}

func (c *Cache) genOf(key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[key]
}

// storeIf writes the fetched value unless the key generation moved while the
// fetch was in flight.
func (c *Cache) storeIf(key string, gen uint64, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return
	}
	c.entries[key] = &entry{value: value, writtenAt: time.Now(), ttl: ttl}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep removes entries older than MaxAge, then evicts oldest-written
// entries beyond the MaxEntries budget.
func (c *Cache) Sweep() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if now.Sub(e.writtenAt) > c.cfg.MaxAge {
			delete(c.entries, k)
			metrics.CacheEvictions.WithLabelValues("age").Inc()
		}
	}

	if c.cfg.MaxEntries <= 0 || len(c.entries) <= c.cfg.MaxEntries {
		return
	}

	type aged struct {
		key       string
		writtenAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, writtenAt: e.writtenAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].writtenAt.Before(all[j].writtenAt)
	})

	excess := len(c.entries) - c.cfg.MaxEntries
	for _, a := range all[:excess] {
		delete(c.entries, a.key)
		metrics.CacheEvictions.WithLabelValues("capacity").Inc()
	}
}
