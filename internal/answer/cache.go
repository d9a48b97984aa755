// Package answer resolves questions to answer text through a short-lived cache.
package answer

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultTTL is how long an answer stays valid after it is stored.
	DefaultTTL = 300 * time.Second
	// DefaultMaxEntries bounds the number of cached questions.
	DefaultMaxEntries = 256
)

// cacheEntry holds a cached answer along with the moment it stops being valid.
type cacheEntry struct {
	answer    string
	expiresAt time.Time
}

// Cache maps exact question text to an answer and its expiry.
// Least recently used questions are dropped once MaxEntries is reached.
type Cache struct {
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

// NewCache returns a cache with the given ttl and bound. Zero values fall back
// to DefaultTTL and DefaultMaxEntries; a nil now uses time.Now.
func NewCache(ttl time.Duration, maxEntries int, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if now == nil {
		now = time.Now
	}
	// lru.New only errors on a non-positive size, which is guarded above.
	entries, _ := lru.New[string, cacheEntry](maxEntries)
	return &Cache{entries: entries, ttl: ttl, now: now}
}

// Get returns the answer stored for question if it has not expired.
// Expired entries are removed on access.
func (c *Cache) Get(question string) (string, bool) {
	entry, ok := c.entries.Get(question)
	if !ok {
		return "", false
	}
	if !c.now().Before(entry.expiresAt) {
		c.entries.Remove(question)
		return "", false
	}
	return entry.answer, true
}

// Put stores answer under question, valid for ttl from now.
func (c *Cache) Put(question, answer string) {
	c.entries.Add(question, cacheEntry{
		answer:    answer,
		expiresAt: c.now().Add(c.ttl),
	})
}

// PurgeExpired drops every expired entry and returns how many were removed.
func (c *Cache) PurgeExpired() int {
	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if ok && !now.Before(entry.expiresAt) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including any not yet purged.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}
