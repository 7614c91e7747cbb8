package embedservice

import (
	"context"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"
	"golang.org/x/sync/singleflight"

	"github.com/lexlapax/aimemory/pkg/log"
)

// ModelCache holds loaded embedding functions by model name. Entries are
// never evicted. Concurrent loads of one name share a single provider call.
type ModelCache struct {
	provider Provider

	mu     sync.RWMutex
	models map[string]chromem.EmbeddingFunc
	group  singleflight.Group
}

// NewModelCache creates an empty cache over provider.
func NewModelCache(provider Provider) *ModelCache {
	return &ModelCache{
		provider: provider,
		models:   make(map[string]chromem.EmbeddingFunc),
	}
}

// Get returns the embedding function for name, loading it on first use.
// The second return value reports whether a load happened on this call.
func (c *ModelCache) Get(ctx context.Context, name string) (chromem.EmbeddingFunc, bool, error) {
	c.mu.RLock()
	fn, ok := c.models[name]
	c.mu.RUnlock()
	if ok {
		return fn, false, nil
	}

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		c.mu.RLock()
		fn, ok := c.models[name]
		c.mu.RUnlock()
		if ok {
			return fn, nil
		}

		log.InfoContext(ctx, "Loading embedding model", "provider", c.provider.Name(), "model", name)
		fn, err := c.provider.Load(ctx, name)
		if err != nil {
			log.ErrorContext(ctx, "Failed to load embedding model",
				"provider", c.provider.Name(),
				"model", name,
				"error", err)
			return nil, err
		}

		c.mu.Lock()
		c.models[name] = fn
		c.mu.Unlock()
		return fn, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(chromem.EmbeddingFunc), true, nil
}

// Loaded returns the names of cached models in sorted order.
func (c *ModelCache) Loaded() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
