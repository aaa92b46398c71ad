package identity

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the per-process in-memory identity cache.
const DefaultCacheSize = 100

// Cache is the in-memory tier. Implementations must be safe for concurrent use
// and must never block on I/O.
type Cache interface {
	Get(did string) (handle *string, ok bool)
	Add(did string, handle *string)
	Len() int
}

type cachedHandle struct {
	value string
	set   bool
}

// LRUCache is a fixed-capacity least-recently-used Cache. golang-lru guards
// every operation with its own mutex, held only for the map update.
type LRUCache struct {
	entries *lru.Cache[string, cachedHandle]
}

func NewLRUCache(size int) (*LRUCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, cachedHandle](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{entries: entries}, nil
}

func (c *LRUCache) Get(did string) (*string, bool) {
	entry, ok := c.entries.Get(did)
	if !ok {
		return nil, false
	}
	if !entry.set {
		return nil, true
	}
	v := entry.value
	return &v, true
}

func (c *LRUCache) Add(did string, handle *string) {
	entry := cachedHandle{}
	if handle != nil {
		entry = cachedHandle{value: *handle, set: true}
	}
	c.entries.Add(did, entry)
}

func (c *LRUCache) Len() int {
	return c.entries.Len()
}
