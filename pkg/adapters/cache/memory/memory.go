package memory

import (
	"context"
	"sync"
)

// ResultCache implements ResultCache with an in-process map.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]any
}

// NewResultCache creates an empty cache
func NewResultCache() *ResultCache {
	return &ResultCache{entries: make(map[string]map[string]any)}
}

// Get returns a copy of the outputs stored under key
func (c *ResultCache) Get(_ context.Context, key string) (map[string]any, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	outputs, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return clone(outputs), true, nil
}

// Set stores a copy of outputs under key
func (c *ResultCache) Set(_ context.Context, key string, outputs map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = clone(outputs)
	return nil
}

// Len returns the number of cached entries
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
