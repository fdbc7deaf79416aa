package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"docrag/internal/domain"
)

// QueryCache is an LRU cache of retrieval results with a TTL. Invalidate drops
// everything and bumps a generation so results computed before an index write
// are never served after it.
type QueryCache struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	order    []string
	maxSize  int
	ttl      time.Duration
	indexGen uint64
}

type cacheEntry struct {
	result    domain.RetrieveResult
	timestamp time.Time
	indexGen  uint64
}

// Key identifies one scoped retrieval.
type Key struct {
	OwnerID     string
	Question    string
	TopK        int
	DocumentIDs []string
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func cacheKey(k Key) string {
	docs := append([]string(nil), k.DocumentIDs...)
	sort.Strings(docs)

	h := sha256.New()
	for _, part := range append([]string{k.OwnerID, k.Question}, docs...) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	var topK [8]byte
	binary.BigEndian.PutUint64(topK[:], uint64(k.TopK))
	h.Write(topK[:])
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Generation returns the current index generation.
func (c *QueryCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexGen
}

func (c *QueryCache) Get(k Key) (domain.RetrieveResult, bool) {
	key := cacheKey(k)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return domain.RetrieveResult{}, false
	}
	if time.Since(entry.timestamp) > c.ttl || entry.indexGen != c.indexGen {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return domain.RetrieveResult{}, false
	}

	c.moveToEnd(key)
	return entry.result, true
}

// Put stores a result computed at generation gen. Results from an older
// generation are dropped.
func (c *QueryCache) Put(k Key, gen uint64, result domain.RetrieveResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.indexGen {
		return
	}

	key := cacheKey(k)
	entry := &cacheEntry{result: result, timestamp: time.Now(), indexGen: c.indexGen}

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
}

func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
	c.indexGen++
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
