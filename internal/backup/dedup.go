package backup

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// DefaultDedupCapacity bounds the number of remembered request keys
const DefaultDedupCapacity = 1000

// DedupKey identifies one backup request per database per processing day
func DedupKey(instance, database string, day time.Time) string {
	return fmt.Sprintf("%s_%s_%s", instance, database, day.Format("2006-01-02"))
}

// DedupCache remembers recently accepted keys, evicting the oldest once full.
// Safe for concurrent use.
type DedupCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

// NewDedupCache creates a cache; capacity <= 0 uses DefaultDedupCapacity
func NewDedupCache(capacity int) *DedupCache {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Reserve records key and returns true, or returns false if key is already held
func (c *DedupCache) Reserve(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = c.order.PushBack(key)
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
	}
	return true
}

// Release forgets key so a redelivered request can be processed again
func (c *DedupCache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Contains reports whether key is currently held
func (c *DedupCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of held keys
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
