package embedding

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded LRU of embeddings keyed by text. It is safe for concurrent use.
type Cache struct {
	lru *lru.Cache[string, []float32]
}

// NewCache returns a cache holding up to capacity entries. A capacity of zero
// or less disables caching.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		return &Cache{}
	}
	c, err := lru.New[string, []float32](capacity)
	if err != nil {
		return &Cache{}
	}
	return &Cache{lru: c}
}

// Get returns the cached embedding for text.
func (c *Cache) Get(text string) ([]float32, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(text)
}

// Set stores the embedding for text, evicting the least recently used entry when full.
func (c *Cache) Set(text string, emb []float32) {
	if c.lru != nil {
		c.lru.Add(text, emb)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
