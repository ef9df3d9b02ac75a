// Package cache provides the process-wide cache manager: five named
// namespaces, each an independent TTL + LRU store, with an optional Redis
// mirror for byte payloads. The risk manager, regime detector and scan
// orchestrator all read through the singleton.
package cache

import (
	"sync"
	"time"
)

// TTLCache is one namespace: bounded, time-expiring, least-recently-used
// eviction. All methods are safe for concurrent use.
type TTLCache struct {
	name       string
	defaultTTL time.Duration
	maxEntries int

	mu        sync.Mutex
	entries   map[string]*entry
	hits      uint64
	misses    uint64
	evictions uint64

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	value    any
	expires  time.Time
	accessed time.Time
}

// Stats is a point-in-time counter snapshot for one namespace.
type Stats struct {
	Name      string  `json:"name"`
	Entries   int     `json:"entries"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// sweepInterval is how often the background sweeper drops expired entries
// that nothing has read since they lapsed.
const sweepInterval = time.Minute

func newTTLCache(name string, defaultTTL time.Duration, maxEntries int) *TTLCache {
	c := &TTLCache{
		name:       name,
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
		stop:       make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Name returns the namespace name.
func (c *TTLCache) Name() string { return c.name }

// DefaultTTL returns the TTL applied when a set does not override it.
func (c *TTLCache) DefaultTTL() time.Duration { return c.defaultTTL }

// Max returns the entry bound.
func (c *TTLCache) Max() int { return c.maxEntries }

// Get returns the cached value when present and fresh. An expired entry is
// deleted on read and counts as a miss. Hits refresh recency so hot keys
// survive eviction.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	e.accessed = time.Now()
	c.hits++
	return e.value, true
}

// Set stores value under the namespace default TTL.
func (c *TTLCache) Set(key string, value any) {
	c.SetTTL(key, value, 0)
}

// SetTTL stores value with an explicit TTL; ttl <= 0 falls back to the
// namespace default. The oldest entries are evicted while the cache is over
// its bound.
func (c *TTLCache) SetTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, expires: now.Add(ttl), accessed: now}
	for len(c.entries) > c.maxEntries {
		c.evictOldest()
	}
}

// Delete removes one key.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry and resets the counters.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Len returns the live entry count, expired or not.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats snapshots the namespace counters.
func (c *TTLCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Name:      c.name,
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Stop ends the background sweeper. Safe to call more than once.
func (c *TTLCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// evictOldest removes the least recently accessed entry. Caller holds mu.
func (c *TTLCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, e := range c.entries {
		if first || e.accessed.Before(oldestTime) {
			oldestKey, oldestTime, first = key, e.accessed, false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func (c *TTLCache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *TTLCache) removeExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, key)
		}
	}
}
