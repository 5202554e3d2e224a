// Package cache provides a threadsafe LRU with optional TTL expiry. It
// backs the per-endpoint metadata caches of the remote accessors.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Stats holds cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Size      int
	Capacity  int
	Evictions int64
	Expired   int64
}

// Cache is an LRU keyed by string. A zero ttl disables expiry.
type Cache struct {
	mu       sync.Mutex
	ll       *list.List
	items    map[string]*list.Element
	capacity int
	ttl      time.Duration
	stats    Stats

	stop chan struct{}
	done chan struct{}
}

type entry struct {
	key    string
	value  any
	expire time.Time
}

// New returns a cache with the given capacity and ttl. A positive ttl
// starts a background sweep for expired entries; callers must Close the
// cache to stop it.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	c := &Cache{
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		capacity: capacity,
		ttl:      ttl,
	}
	if ttl > 0 {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.sweep()
	}
	return c
}

// Get retrieves a value if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	ent := ele.Value.(*entry)
	if c.ttl > 0 && time.Now().After(ent.expire) {
		c.removeElement(ele)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}
	c.ll.MoveToFront(ele)
	c.stats.Hits++
	return ent.value, true
}

// Set inserts or updates an entry, evicting the oldest entry at capacity.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.ll.MoveToFront(ele)
		ent := ele.Value.(*entry)
		ent.value = value
		if c.ttl > 0 {
			ent.expire = time.Now().Add(c.ttl)
		}
		return
	}
	if c.ll.Len() >= c.capacity {
		if ele := c.ll.Back(); ele != nil {
			c.removeElement(ele)
			c.stats.Evictions++
		}
	}
	ent := &entry{key: key, value: value}
	if c.ttl > 0 {
		ent.expire = time.Now().Add(c.ttl)
	}
	c.items[key] = c.ll.PushFront(ent)
}

// Delete removes a key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.removeElement(ele)
	}
}

// DeletePrefix removes every key with the given prefix. An empty prefix
// clears the cache.
func (c *Cache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prefix == "" {
		c.items = make(map[string]*list.Element)
		c.ll = list.New()
		return
	}
	for key, ele := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(ele)
		}
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.DeletePrefix("")
}

// Size returns the current number of entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.ll.Len()
	s.Capacity = c.capacity
	return s
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() error {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
		<-c.done
	}
	return nil
}

func (c *Cache) removeElement(ele *list.Element) {
	c.ll.Remove(ele)
	delete(c.items, ele.Value.(*entry).key)
}

func (c *Cache) sweep() {
	defer close(c.done)
	interval := c.ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

func (c *Cache) sweepOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var expired []*list.Element
	for _, ele := range c.items {
		if now.After(ele.Value.(*entry).expire) {
			expired = append(expired, ele)
		}
	}
	for _, ele := range expired {
		c.removeElement(ele)
		c.stats.Expired++
	}
}
