// Package embcache deduplicates embedding provider calls.
//
// The cache is content addressed: the key is a prefix plus the SHA-256
// digest of the exact input text, so identical text always resolves to the
// same cached vector. Entries are immutable; writing a different vector for
// the same text is a caller error the cache does not detect.
//
// The cache exists to avoid repeated provider calls within a process
// lifetime, not to bound memory. Entries never expire unless an optional
// MaxEntries cap is set, in which case the least recently used entry is
// evicted.
package embcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Options represents the options for configuring the cache.
type Options struct {
	// Prefix namespaces cache keys, e.g. "embedding".
	Prefix string

	// MaxEntries caps the cache size with LRU eviction. Zero means unbounded.
	MaxEntries int
}

// DefaultOptions are the recommended defaults.
var DefaultOptions = Options{
	Prefix:     "embedding",
	MaxEntries: 0,
}

type entry struct {
	key    string
	vector []float32
}

// Cache is a content-addressed embedding cache.
// It is safe for concurrent use.
type Cache struct {
	opts    Options
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

// New creates a cache.
func New(optFns ...func(o *Options)) *Cache {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Cache{
		opts:    opts,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Key derives the cache key for a text: prefix + ":" + SHA-256 hex digest.
// The text is hashed exactly as given; any normalization is the caller's job.
func (c *Cache) Key(text string) string {
	sum := sha256.Sum256([]byte(text))

	return c.opts.Prefix + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector for a text. The bool distinguishes a miss
// from a cached vector; a miss never yields a zero vector.
func (c *Cache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[c.Key(text)]
	if !ok {
		return nil, false
	}

	c.order.MoveToFront(el)

	cached := el.Value.(*entry).vector

	vector := make([]float32, len(cached))
	copy(vector, cached)

	return vector, true
}

// Put stores the vector for a text. Writing the same pair twice has no
// observable effect beyond the first write.
func (c *Cache) Put(text string, vector []float32) {
	key := c.Key(text)

	copied := make([]float32, len(vector))
	copy(copied, vector)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		// Entries are immutable; refresh recency only.
		c.order.MoveToFront(el)

		return
	}

	c.entries[key] = c.order.PushFront(&entry{key: key, vector: copied})

	if c.opts.MaxEntries > 0 && c.order.Len() > c.opts.MaxEntries {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*entry).key)
		}
	}
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
