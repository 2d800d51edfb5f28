package cache

import (
	lru "github.com/hashicorp/golang-lru"
)

// DefaultSize is used when a non-positive size is requested.
const DefaultSize = 1024

// Cache is a bounded, thread-safe key/value cache with least-recently-used
// eviction. Keys are strings (block hashes in practice).
type Cache struct {
	items *lru.Cache
}

func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	items, err := lru.New(size)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &Cache{items: items}
}

func (c *Cache) Set(key string, value interface{}) {
	c.items.Add(key, value)
}

func (c *Cache) Get(key string) (interface{}, bool) {
	return c.items.Get(key)
}

func (c *Cache) Delete(key string) {
	c.items.Remove(key)
}

func (c *Cache) Clear() {
	c.items.Purge()
}

func (c *Cache) Count() int {
	return c.items.Len()
}
