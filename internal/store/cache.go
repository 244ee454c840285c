// ABOUTME: Process-local read cache of parsed store files, bounded by TTL and file mtime
// ABOUTME: Snapshots are stored and handed out as deep copies so callers cannot mutate them

package store

import (
	"sync"
	"time"
)

// cacheItem is one cached store file.
type cacheItem struct {
	snapshot Store
	loadedAt time.Time
	modTime  time.Time
	size     int64
}

// cache holds parsed stores keyed by store path.
type cache struct {
	mu    sync.Mutex
	items map[string]*cacheItem
}

func newCache() *cache {
	return &cache{items: make(map[string]*cacheItem)}
}

// get returns a copy of the cached store when it is within ttl and the file
// still has the recorded modification time and size.
func (c *cache) get(path string, now time.Time, ttl time.Duration, modTime time.Time, size int64) (Store, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[path]
	if !ok {
		return nil, false
	}
	if now.Sub(item.loadedAt) > ttl {
		delete(c.items, path)
		return nil, false
	}
	if !item.modTime.Equal(modTime) || item.size != size {
		return nil, false
	}
	return item.snapshot.Clone(), true
}

func (c *cache) put(path string, s Store, now time.Time, modTime time.Time, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[path] = &cacheItem{
		snapshot: s.Clone(),
		loadedAt: now,
		modTime:  modTime,
		size:     size,
	}
}

func (c *cache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, path)
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*cacheItem)
}
