// Package cache is the client-side query cache: keyed server data with
// staleness, de-duplicated fetches, prefix invalidation with background
// refetch, and a change feed for the UI push hub.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fgcmatch/config"
	"fgcmatch/internal/domain"

	"golang.org/x/sync/singleflight"
)

// Fetcher loads the current server value of one key.
type Fetcher func(ctx context.Context) (interface{}, error)

// Change is published whenever an entry is stored or invalidated.
type Change struct {
	Key         string
	Value       interface{}
	Invalidated bool
}

type entry struct {
	value     interface{}
	fetchedAt time.Time
	stale     bool
}

type Cache struct {
	staleTime  time.Duration
	retries    int
	retryDelay time.Duration
	fetchWait  time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	queries map[string]Fetcher
	// bumped on every write, invalidation and removal of a key; a load only
	// stores its result when the key is unchanged since the load began
	versions map[string]uint64

	group singleflight.Group

	subMu  sync.Mutex
	subs   map[int]chan Change
	nextID int

	mirror Mirror

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.CacheConfig, logger *slog.Logger) *Cache {
	bg, cancel := context.WithCancel(context.Background())
	retries := cfg.ReadRetries
	if retries < 1 {
		retries = 1
	}
	return &Cache{
		staleTime:  cfg.StaleTime,
		retries:    retries,
		retryDelay: cfg.RetryDelay,
		fetchWait:  30 * time.Second,
		logger:     logger.With("component", "cache"),
		now:        time.Now,
		entries:    make(map[string]*entry),
		queries:    make(map[string]Fetcher),
		versions:   make(map[string]uint64),
		subs:       make(map[int]chan Change),
		bg:         bg,
		cancel:     cancel,
	}
}

// SetMirror installs an external snapshot store written on every Set.
func (c *Cache) SetMirror(m Mirror) { c.mirror = m }

// Register makes key an active query: Invalidate and the poller refetch it.
func (c *Cache) Register(key string, fetch Fetcher) {
	c.mu.Lock()
	c.queries[key] = fetch
	c.mu.Unlock()
}

// Unregister stops refetching the exact keys; their entries stay cached.
func (c *Cache) Unregister(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.queries, k)
	}
}

func (c *Cache) fresh(e *entry) bool {
	return e != nil && !e.stale && (c.staleTime <= 0 || c.now().Sub(e.fetchedAt) < c.staleTime)
}

// Fetch returns the cached value of key when it is fresh and otherwise loads it
// with fetch. Concurrent fetches of one key share a single request. fetch is
// registered as the key's active query.
func (c *Cache) Fetch(ctx context.Context, key string, fetch Fetcher) (interface{}, error) {
	c.mu.Lock()
	c.queries[key] = fetch
	e := c.entries[key]
	c.mu.Unlock()
	if c.fresh(e) {
		return e.value, nil
	}
	return c.load(ctx, key, fetch)
}

// Refetch reloads key with its registered query regardless of freshness.
func (c *Cache) Refetch(ctx context.Context, key string) (interface{}, error) {
	c.mu.RLock()
	fetch, ok := c.queries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("refetch %s: no registered query", key)
	}
	return c.load(ctx, key, fetch)
}

func (c *Cache) load(ctx context.Context, key string, fetch Fetcher) (interface{}, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.mu.Lock()
		version := c.versions[key]
		c.versions[key] = version
		c.mu.Unlock()
		// shared by every waiter, so it must outlive any single caller
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchWait)
		defer cancel()
		v, err := c.retry(fctx, key, fetch)
		if err != nil {
			return nil, err
		}
		return c.storeIfUnchanged(key, v, version), nil
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// retry repeats network failures only; a rejected read is final.
func (c *Cache) retry(ctx context.Context, key string, fetch Fetcher) (interface{}, error) {
	var err error
	for attempt := 1; attempt <= c.retries; attempt++ {
		var v interface{}
		v, err = fetch(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, domain.ErrNetwork) || attempt == c.retries {
			break
		}
		c.logger.Debug("read failed, retrying", "key", key, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		}
	}
	return nil, err
}

// Get returns whatever is cached for key, fresh or stale.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// IsStale reports whether key is missing, invalidated or older than the stale time.
func (c *Cache) IsStale(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.fresh(c.entries[key])
}

// storeIfUnchanged stores a loaded value unless the key was written or
// invalidated while the load was running, in which case the newer entry wins
// and is returned.
func (c *Cache) storeIfUnchanged(key string, v interface{}, version uint64) interface{} {
	c.mu.Lock()
	if c.versions[key] != version {
		e := c.entries[key]
		c.mu.Unlock()
		if e != nil {
			c.logger.Debug("discarding superseded fetch", "key", key)
			return e.value
		}
		return v
	}
	c.put(key, v)
	c.mu.Unlock()
	c.publish(Change{Key: key, Value: v})
	c.mirrorWrite(key, v)
	return v
}

// put stores v under key; c.mu must be held.
func (c *Cache) put(key string, v interface{}) {
	c.entries[key] = &entry{value: v, fetchedAt: c.now()}
	c.versions[key]++
}

func (c *Cache) Set(key string, v interface{}) {
	c.mu.Lock()
	c.put(key, v)
	c.mu.Unlock()
	c.group.Forget(key)
	c.publish(Change{Key: key, Value: v})
	c.mirrorWrite(key, v)
}

// Update replaces key with the value fn derives from the current one. fn runs
// under the cache lock and must not call back into the cache; returning false
// leaves the entry untouched.
func (c *Cache) Update(key string, fn func(old interface{}, ok bool) (interface{}, bool)) bool {
	c.mu.Lock()
	var old interface{}
	e, ok := c.entries[key]
	if ok {
		old = e.value
	}
	v, store := fn(old, ok)
	if !store {
		c.mu.Unlock()
		return false
	}
	c.put(key, v)
	c.mu.Unlock()
	c.group.Forget(key)
	c.publish(Change{Key: key, Value: v})
	c.mirrorWrite(key, v)
	return true
}

// Invalidate marks every entry under the prefixes stale and refetches the
// registered queries among them in the background. It returns the keys touched.
func (c *Cache) Invalidate(prefixes ...string) []string {
	c.mu.Lock()
	var keys []string
	for k, e := range c.entries {
		if hasPrefix(k, prefixes) {
			e.stale = true
			c.versions[k]++
			keys = append(keys, k)
		}
	}
	refetch := make(map[string]Fetcher)
	for k, f := range c.queries {
		if hasPrefix(k, prefixes) {
			refetch[k] = f
		}
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.group.Forget(k)
		c.publish(Change{Key: k, Invalidated: true})
	}
	for k, f := range refetch {
		k, f := k, f
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if _, err := c.load(c.bg, k, f); err != nil && c.bg.Err() == nil {
				c.logger.Warn("background refetch failed", "key", k, "error", err)
			}
		}()
	}
	return keys
}

// Remove drops entries and queries under the prefixes, e.g. on sign-out.
func (c *Cache) Remove(prefixes ...string) {
	c.mu.Lock()
	var keys []string
	for k := range c.entries {
		if hasPrefix(k, prefixes) {
			delete(c.entries, k)
		}
	}
	for k := range c.queries {
		if hasPrefix(k, prefixes) {
			delete(c.queries, k)
		}
	}
	for k := range c.versions {
		if hasPrefix(k, prefixes) {
			c.versions[k]++
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.group.Forget(k)
	}
}

// Clear empties the cache.
func (c *Cache) Clear() { c.Remove("") }

// Keys lists registered queries under the prefixes.
func (c *Cache) Keys(prefixes ...string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for k := range c.queries {
		if hasPrefix(k, prefixes) {
			out = append(out, k)
		}
	}
	return out
}

// Subscribe returns a feed of changes and its cancel func. Slow subscribers
// miss changes rather than block the cache.
func (c *Cache) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 64)
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()
	return ch, func() {
		c.subMu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.subMu.Unlock()
	}
}

func (c *Cache) publish(ch Change) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, s := range c.subs {
		select {
		case s <- ch:
		default:
		}
	}
}

// Wait blocks until background refetches started so far have finished.
func (c *Cache) Wait() { c.wg.Wait() }

// Close stops background work.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

func hasPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// FetchAs is Fetch with a typed result.
func FetchAs[T any](ctx context.Context, c *Cache, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (interface{}, error) { return fetch(ctx) })
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache %s: holds %T", key, v)
	}
	return t, nil
}

// GetAs is Get with a typed result.
func GetAs[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
