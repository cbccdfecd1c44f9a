package controller

import (
	"github.com/patrickmn/go-cache"
)

// modelCache keeps trained sessions for the duration of one run, keyed by
// camera and training directory signature.
type modelCache struct {
	items *cache.Cache
}

func newModelCache() *modelCache {
	// No expiry and no janitor: entries live until Close.
	return &modelCache{items: cache.New(cache.NoExpiration, 0)}
}

func modelKey(camera, signature string) string {
	return camera + "@" + signature
}

func (c *modelCache) get(key string) (*BackgroundSession, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	s, ok := v.(*BackgroundSession)
	return s, ok
}

func (c *modelCache) put(key string, s *BackgroundSession) {
	c.items.Set(key, s, cache.NoExpiration)
}

func (c *modelCache) len() int {
	return c.items.ItemCount()
}

// Close releases every cached session.
func (c *modelCache) Close() {
	for _, item := range c.items.Items() {
		if s, ok := item.Object.(*BackgroundSession); ok {
			s.Close()
		}
	}
	c.items.Flush()
}
