package pine

import (
	"sync"

	"github.com/StudioSol/set"

	"github.com/marketflow/tvstream/types"
)

// descriptorCache is a bounded cache where insertion order is the eviction
// order: when full, the oldest entry goes first.
type descriptorCache struct {
	mtx      sync.Mutex
	capacity int
	order    *set.LinkedHashSetString
	entries  map[string]types.Descriptor
}

func newDescriptorCache(capacity int) *descriptorCache {
	return &descriptorCache{
		capacity: capacity,
		order:    set.NewLinkedHashSetString(),
		entries:  make(map[string]types.Descriptor, capacity),
	}
}

func (c *descriptorCache) get(key string) (types.Descriptor, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	desc, ok := c.entries[key]
	return desc, ok
}

func (c *descriptorCache) put(key string, desc types.Descriptor) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = desc
	c.order.Add(key)
}

// evictOldest drops the first key in insertion order. The iterator channel
// is drained fully; breaking out early would leak its goroutine.
func (c *descriptorCache) evictOldest() {
	oldest, found := "", false
	for key := range c.order.Iter() {
		if !found {
			oldest, found = key, true
		}
	}
	if !found {
		return
	}
	c.order.Remove(oldest)
	delete(c.entries, oldest)
}

func (c *descriptorCache) len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.entries)
}
