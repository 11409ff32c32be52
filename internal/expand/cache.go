package expand

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// cacheSize is the max number of cached expansions.
	cacheSize = 100

	// cacheTTL is how long a cached expansion stays valid.
	cacheTTL = time.Hour
)

// cache is a simple LRU for expansion results, shared within the process.
type cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string // oldest first
	maxSize int
}

type cacheEntry struct {
	variants []string
	created  time.Time
}

func newCache(maxSize int) *cache {
	return &cache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
	}
}

func (c *cache) get(key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.created) > cacheTTL {
		delete(c.entries, key)
		return nil, false
	}
	return entry.variants, true
}

func (c *cache) put(key string, variants []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{
		variants: append([]string(nil), variants...),
		created:  time.Now(),
	}

	// Refreshing an existing key must not duplicate it in the order.
	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToBack(key)
		return
	}

	// Evict until there is room. The order may still name keys that expiry
	// already removed in get; deleting those is a no-op and the loop moves
	// on to the real oldest entry.
	for len(c.entries) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
}

func (c *cache) moveToBack(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}

// cacheKey builds a normalized key from the keyword set and options.
func cacheKey(core []string, opts Options) string {
	parts := make([]string, 0, len(core)+len(opts.Languages)+1)
	for _, k := range core {
		parts = append(parts, strings.ToLower(strings.TrimSpace(k)))
	}
	parts = append(parts, "|")
	parts = append(parts, opts.Languages...)
	parts = append(parts, strconv.Itoa(opts.MaxPerLanguage))
	return strings.Join(parts, "\x1f")
}

var globalCache = newCache(cacheSize)

// ResetCache clears the expansion cache. Used in testing.
func ResetCache() {
	globalCache = newCache(cacheSize)
}
